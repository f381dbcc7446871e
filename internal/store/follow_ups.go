package store

import (
	"context"
	"database/sql"
	"fmt"

	"outreach-engine/internal/domain"
)

// CreateFollowUp inserts the follow-up together with the queue entry that delivers it.
func (s *Store) CreateFollowUp(ctx context.Context, f domain.FollowUp, e domain.DMQueueEntry) (domain.FollowUp, domain.DMQueueEntry, error) {
	now := s.stamp()
	if e.ScheduledFor.IsZero() {
		e.ScheduledFor = parseTime(now)
	}
	e.Status = domain.QueuePending
	f.Status = domain.FollowUpPending
	f.QueueID = e.ID

	err := s.inTx(ctx, func(t tx) error {
		if _, err := t.exec(ctx, `
INSERT INTO dm_queue (id, profile_id, profile_handle, message, session_id, session_name, campaign_id,
  scheduled_for, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?);`,
			e.ID, e.ProfileID, e.ProfileHandle, e.Message, e.SessionID, e.SessionName, nullable(e.CampaignID),
			fmtTime(e.ScheduledFor), string(e.Status), now, now,
		); err != nil {
			return fmt.Errorf("insert follow-up queue entry: %w", err)
		}
		if _, err := t.exec(ctx, `
INSERT INTO follow_ups (id, profile_id, original_message, follow_up_message, queue_id, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
			f.ID, f.ProfileID, f.OriginalMessage, f.FollowUpMessage, f.QueueID, string(f.Status), now,
		); err != nil {
			return fmt.Errorf("insert follow-up: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FollowUp{}, domain.DMQueueEntry{}, err
	}
	f.CreatedAt = parseTime(now)
	e.CreatedAt = f.CreatedAt
	e.UpdatedAt = f.CreatedAt
	e.ScheduledFor = parseTime(fmtTime(e.ScheduledFor))
	return f, e, nil
}

func (s *Store) ListFollowUps(ctx context.Context) ([]domain.FollowUp, error) {
	rows, err := s.query(ctx, `
SELECT id, profile_id, original_message, follow_up_message, queue_id, sent_at, status, created_at
FROM follow_ups ORDER BY created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.FollowUp{}
	for rows.Next() {
		var (
			f               domain.FollowUp
			sentAt          sql.NullString
			status, created string
		)
		if err := rows.Scan(&f.ID, &f.ProfileID, &f.OriginalMessage, &f.FollowUpMessage, &f.QueueID,
			&sentAt, &status, &created); err != nil {
			return nil, err
		}
		f.SentAt = parseTimePtr(sentAt)
		f.Status = domain.FollowUpStatus(status)
		f.CreatedAt = parseTime(created)
		out = append(out, f)
	}
	return out, rows.Err()
}
