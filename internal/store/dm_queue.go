package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach-engine/internal/domain"
)

const queueCols = `id, profile_id, profile_handle, message, session_id, session_name, campaign_id,
  scheduled_for, status, attempts, external_handle, error, created_at, updated_at, sent_at`

var allQueueStatuses = []domain.QueueStatus{domain.QueuePending, domain.QueueSending, domain.QueueSent, domain.QueueFailed}

func queueSourcesFor(next domain.QueueStatus) []domain.QueueStatus {
	var out []domain.QueueStatus
	for _, st := range allQueueStatuses {
		if st.CanTransition(next) {
			out = append(out, st)
		}
	}
	return out
}

// CreateQueueEntry inserts a pending entry. A zero ScheduledFor means now.
func (s *Store) CreateQueueEntry(ctx context.Context, e domain.DMQueueEntry) (domain.DMQueueEntry, error) {
	now := s.stamp()
	if e.ScheduledFor.IsZero() {
		e.ScheduledFor = parseTime(now)
	}
	e.Status = domain.QueuePending
	if _, err := s.exec(ctx, `
INSERT INTO dm_queue (id, profile_id, profile_handle, message, session_id, session_name, campaign_id,
  scheduled_for, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?);`,
		e.ID, e.ProfileID, e.ProfileHandle, e.Message, e.SessionID, e.SessionName, nullable(e.CampaignID),
		fmtTime(e.ScheduledFor), string(e.Status), now, now,
	); err != nil {
		return domain.DMQueueEntry{}, fmt.Errorf("insert dm queue entry: %w", err)
	}
	e.CreatedAt = parseTime(now)
	e.UpdatedAt = e.CreatedAt
	e.ScheduledFor = parseTime(fmtTime(e.ScheduledFor))
	return e, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id string) (domain.DMQueueEntry, error) {
	e, err := scanQueue(s.queryRow(ctx, `SELECT `+queueCols+` FROM dm_queue WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DMQueueEntry{}, ErrNotFound
	}
	return e, err
}

// ListQueue returns newest first; an empty status lists everything.
func (s *Store) ListQueue(ctx context.Context, status domain.QueueStatus) ([]domain.DMQueueEntry, error) {
	q := `SELECT ` + queueCols + ` FROM dm_queue`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC LIMIT 1000;`
	return s.listQueue(ctx, q, args...)
}

// ClaimQueueEntry moves a pending entry to sending. It reports false when another
// dispatcher already claimed it or the entry is no longer pending.
func (s *Store) ClaimQueueEntry(ctx context.Context, id string) (bool, error) {
	n, err := s.transitionQueue(ctx, s.db, id, domain.QueueSending, `updated_at = ?`, s.stamp())
	return n > 0, err
}

// SetQueueHandle records the external job of a sending entry.
func (s *Store) SetQueueHandle(ctx context.Context, id, handle string) error {
	_, err := s.exec(ctx, `UPDATE dm_queue SET external_handle = ?, updated_at = ? WHERE id = ? AND status = ?;`,
		handle, s.stamp(), id, string(domain.QueueSending))
	return err
}

// MarkQueueSent writes the terminal success of an entry and of any follow-up it delivers.
func (s *Store) MarkQueueSent(ctx context.Context, id, handle string) (bool, error) {
	now := s.stamp()
	var moved int64
	err := s.inTx(ctx, func(t tx) error {
		n, err := s.transitionQueue(ctx, t, id, domain.QueueSent,
			`external_handle = COALESCE(?, external_handle), error = NULL, updated_at = ?, sent_at = ?`,
			nonEmpty(handle), now, now)
		if err != nil || n == 0 {
			return err
		}
		moved = n
		_, err = t.exec(ctx, `UPDATE follow_ups SET status = ?, sent_at = ? WHERE queue_id = ? AND status = ?;`,
			string(domain.FollowUpSent), now, id, string(domain.FollowUpPending))
		return err
	})
	return moved > 0, err
}

// FailQueueEntry writes the terminal failure of an entry. attempts grows by one in
// the same statement.
func (s *Store) FailQueueEntry(ctx context.Context, id, msg string) (bool, error) {
	now := s.stamp()
	var moved int64
	err := s.inTx(ctx, func(t tx) error {
		n, err := s.transitionQueue(ctx, t, id, domain.QueueFailed,
			`error = ?, attempts = attempts + 1, updated_at = ?`, msg, now)
		if err != nil || n == 0 {
			return err
		}
		moved = n
		_, err = t.exec(ctx, `UPDATE follow_ups SET status = ? WHERE queue_id = ? AND status = ?;`,
			string(domain.FollowUpFailed), id, string(domain.FollowUpPending))
		return err
	})
	return moved > 0, err
}

type execer interface {
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
}

func (s *Store) transitionQueue(ctx context.Context, ex execer, id string, next domain.QueueStatus, set string, setArgs ...any) (int64, error) {
	from := queueSourcesFor(next)
	q := fmt.Sprintf(`UPDATE dm_queue SET status = ?, %s WHERE id = ? AND status IN (%s);`, set, placeholders(len(from)))

	args := []any{string(next)}
	args = append(args, setArgs...)
	args = append(args, id)
	args = append(args, anyArgs(from)...)

	res, err := ex.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("dm queue %s -> %s: %w", id, next, err)
	}
	return affected(res), nil
}

// DueQueueEntries lists pending entries scheduled at or before now, skipping
// entries that belong to a paused campaign.
func (s *Store) DueQueueEntries(ctx context.Context, now time.Time) ([]domain.DMQueueEntry, error) {
	return s.listQueue(ctx, `SELECT `+queueCols+` FROM dm_queue
WHERE status = ? AND scheduled_for <= ?
  AND (campaign_id IS NULL OR campaign_id NOT IN (SELECT id FROM campaigns WHERE status = ?))
ORDER BY scheduled_for ASC;`,
		string(domain.QueuePending), fmtTime(now), string(domain.CampaignPaused))
}

// StaleSendingEntries lists sending entries not touched since cutoff, with or without a handle.
func (s *Store) StaleSendingEntries(ctx context.Context, cutoff time.Time) ([]domain.DMQueueEntry, error) {
	return s.listQueue(ctx, `SELECT `+queueCols+` FROM dm_queue
WHERE status = ? AND updated_at < ?
ORDER BY created_at ASC;`, string(domain.QueueSending), fmtTime(cutoff))
}

func (s *Store) DMStats(ctx context.Context) (domain.DMStats, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM dm_queue GROUP BY status;`)
	if err != nil {
		return domain.DMStats{}, err
	}
	defer rows.Close()

	var st domain.DMStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.DMStats{}, err
		}
		switch domain.QueueStatus(status) {
		case domain.QueueSent:
			st.TotalSent = n
		case domain.QueueFailed:
			st.TotalFailed = n
		case domain.QueuePending, domain.QueueSending:
			st.TotalPending += n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DMStats{}, err
	}
	st.SuccessRate = domain.SuccessRate(st.TotalSent, st.TotalFailed)
	return st, nil
}

func (s *Store) listQueue(ctx context.Context, q string, args ...any) ([]domain.DMQueueEntry, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DMQueueEntry{}
	for rows.Next() {
		e, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanQueue(sc scanner) (domain.DMQueueEntry, error) {
	var (
		e                           domain.DMQueueEntry
		campaign, handle, errT      sql.NullString
		status                      string
		scheduled, created, updated string
		sentAt                      sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.ProfileID, &e.ProfileHandle, &e.Message, &e.SessionID, &e.SessionName, &campaign,
		&scheduled, &status, &e.Attempts, &handle, &errT, &created, &updated, &sentAt); err != nil {
		return domain.DMQueueEntry{}, err
	}
	e.CampaignID = strPtr(campaign)
	e.ScheduledFor = parseTime(scheduled)
	e.Status = domain.QueueStatus(status)
	e.ExternalHandle = strPtr(handle)
	e.Error = strPtr(errT)
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	e.SentAt = parseTimePtr(sentAt)
	return e, nil
}

func nonEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
