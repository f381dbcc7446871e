package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach-engine/internal/domain"
)

const runCols = `id, target_handle, scrape_kind, max_items, session_id, session_name, external_handle,
  status, items_scraped, error, created_at, updated_at, completed_at`

var allRunStatuses = []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunCompleted, domain.RunFailed}

// runSourcesFor lists the statuses a run may move to next from.
func runSourcesFor(next domain.RunStatus) []domain.RunStatus {
	var out []domain.RunStatus
	for _, st := range allRunStatuses {
		if st.CanTransition(next) {
			out = append(out, st)
		}
	}
	return out
}

// CreateScrapeRuns inserts all runs of one submission atomically, as pending.
func (s *Store) CreateScrapeRuns(ctx context.Context, runs []domain.ScrapeRun) ([]domain.ScrapeRun, error) {
	now := s.stamp()
	err := s.inTx(ctx, func(t tx) error {
		for i := range runs {
			runs[i].Status = domain.RunPending
			if _, err := t.exec(ctx, `
INSERT INTO scrape_runs (id, target_handle, scrape_kind, max_items, session_id, session_name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
				runs[i].ID, runs[i].TargetHandle, string(runs[i].Kind), runs[i].MaxItems,
				runs[i].SessionID, runs[i].SessionName, string(domain.RunPending), now, now,
			); err != nil {
				return fmt.Errorf("insert scrape run %s: %w", runs[i].TargetHandle, err)
			}
			runs[i].CreatedAt = parseTime(now)
			runs[i].UpdatedAt = runs[i].CreatedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// MarkScrapeRunsRunning records the external handle. Only pending rows move.
func (s *Store) MarkScrapeRunsRunning(ctx context.Context, ids []string, handle string) (int64, error) {
	return s.transitionRuns(ctx, ids, domain.RunRunning,
		`external_handle = ?, updated_at = ?`, handle, s.stamp())
}

// CompleteScrapeRuns writes the terminal success of a batch; every run gets the same count.
func (s *Store) CompleteScrapeRuns(ctx context.Context, ids []string, items int) (int64, error) {
	now := s.stamp()
	return s.transitionRuns(ctx, ids, domain.RunCompleted,
		`items_scraped = ?, error = NULL, updated_at = ?, completed_at = ?`, items, now, now)
}

// FailScrapeRuns writes the terminal failure of a batch; every run gets the same error.
func (s *Store) FailScrapeRuns(ctx context.Context, ids []string, msg string) (int64, error) {
	now := s.stamp()
	return s.transitionRuns(ctx, ids, domain.RunFailed,
		`error = ?, updated_at = ?, completed_at = ?`, msg, now, now)
}

func (s *Store) transitionRuns(ctx context.Context, ids []string, next domain.RunStatus, set string, setArgs ...any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	from := runSourcesFor(next)

	q := fmt.Sprintf(`UPDATE scrape_runs SET status = ?, %s WHERE id IN (%s) AND status IN (%s);`,
		set, placeholders(len(ids)), placeholders(len(from)))

	args := []any{string(next)}
	args = append(args, setArgs...)
	args = append(args, anyArgs(ids)...)
	args = append(args, anyArgs(from)...)

	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("scrape runs -> %s: %w", next, err)
	}
	return affected(res), nil
}

func (s *Store) GetScrapeRun(ctx context.Context, id string) (domain.ScrapeRun, error) {
	run, err := scanRun(s.queryRow(ctx, `SELECT `+runCols+` FROM scrape_runs WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeRun{}, ErrNotFound
	}
	return run, err
}

func (s *Store) ListScrapeRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listRuns(ctx, `SELECT `+runCols+` FROM scrape_runs ORDER BY created_at DESC LIMIT ?;`, limit)
}

// RunsByHandle returns every run that shares one external job.
func (s *Store) RunsByHandle(ctx context.Context, handle string) ([]domain.ScrapeRun, error) {
	return s.listRuns(ctx, `SELECT `+runCols+` FROM scrape_runs WHERE external_handle = ? ORDER BY created_at ASC;`, handle)
}

// StaleRunningRuns lists running runs with a handle not touched since cutoff.
func (s *Store) StaleRunningRuns(ctx context.Context, cutoff time.Time) ([]domain.ScrapeRun, error) {
	return s.listRuns(ctx, `SELECT `+runCols+` FROM scrape_runs
WHERE status = ? AND external_handle IS NOT NULL AND updated_at < ?
ORDER BY created_at ASC;`, string(domain.RunRunning), fmtTime(cutoff))
}

// StalePendingRuns lists pending runs that never received a handle before cutoff.
func (s *Store) StalePendingRuns(ctx context.Context, cutoff time.Time) ([]domain.ScrapeRun, error) {
	return s.listRuns(ctx, `SELECT `+runCols+` FROM scrape_runs
WHERE status = ? AND external_handle IS NULL AND updated_at < ?
ORDER BY created_at ASC;`, string(domain.RunPending), fmtTime(cutoff))
}

func (s *Store) listRuns(ctx context.Context, q string, args ...any) ([]domain.ScrapeRun, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ScrapeRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(sc scanner) (domain.ScrapeRun, error) {
	var (
		r                    domain.ScrapeRun
		kind, status         string
		handle, errText      sql.NullString
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.TargetHandle, &kind, &r.MaxItems, &r.SessionID, &r.SessionName, &handle,
		&status, &r.ItemsScraped, &errText, &createdAt, &updatedAt, &completedAt); err != nil {
		return domain.ScrapeRun{}, err
	}
	r.Kind = domain.ScrapeKind(kind)
	r.Status = domain.RunStatus(status)
	r.ExternalHandle = strPtr(handle)
	r.Error = strPtr(errText)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	return r, nil
}
