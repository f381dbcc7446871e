package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"outreach-engine/internal/domain"
)

const profileCols = `p.id, p.handle, p.full_name, p.avatar_url, p.avatar_key, p.bio, p.followers_count, p.following_count,
  p.scrape_run_id, p.status, p.dm_draft, p.assigned_session_id, s.name, p.sent_at, p.error, p.created_at`

const profileFrom = ` FROM profiles p LEFT JOIN sessions s ON p.assigned_session_id = s.id`

// InsertProfileIfAbsent inserts p unless its handle is already stored.
// An existing row, including its status and draft, is left untouched.
func (s *Store) InsertProfileIfAbsent(ctx context.Context, p domain.Profile) (inserted bool, err error) {
	res, err := s.exec(ctx, insertProfile, profileArgs(p, s.stamp())...)
	if err != nil {
		return false, fmt.Errorf("insert profile %q: %w", p.Handle, err)
	}
	return affected(res) > 0, nil
}

// InsertProfilesIfAbsent inserts a batch in one transaction. inserted[i] reports
// whether ps[i] was new; on error nothing from the batch is kept.
func (s *Store) InsertProfilesIfAbsent(ctx context.Context, ps []domain.Profile) (inserted []bool, err error) {
	inserted = make([]bool, len(ps))
	now := s.stamp()
	err = s.inTx(ctx, func(t tx) error {
		for i, p := range ps {
			res, err := t.exec(ctx, insertProfile, profileArgs(p, now)...)
			if err != nil {
				return fmt.Errorf("insert profile %q: %w", p.Handle, err)
			}
			inserted[i] = affected(res) > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

const insertProfile = `
INSERT INTO profiles (id, handle, full_name, avatar_url, bio, followers_count, following_count, scrape_run_id, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (handle) DO NOTHING;`

func profileArgs(p domain.Profile, now string) []any {
	return []any{p.ID, p.Handle, p.FullName, p.AvatarURL, p.Bio, p.FollowersCount, p.FollowingCount,
		p.ScrapeRunID, string(domain.ProfileNotGenerated), now}
}

func (s *Store) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	p, err := scanProfile(s.queryRow(ctx, `SELECT `+profileCols+profileFrom+` WHERE p.id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, ErrNotFound
	}
	return p, err
}

func (s *Store) GetProfileByHandle(ctx context.Context, handle string) (domain.Profile, error) {
	p, err := scanProfile(s.queryRow(ctx, `SELECT `+profileCols+profileFrom+` WHERE p.handle = ?;`, handle))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, ErrNotFound
	}
	return p, err
}

type ProfileFilter struct {
	Status      domain.ProfileStatus
	ScrapeRunID string
	Limit       int
}

func (s *Store) ListProfiles(ctx context.Context, f ProfileFilter) ([]domain.Profile, error) {
	if f.Limit <= 0 || f.Limit > 5000 {
		f.Limit = 1000
	}

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, string(f.Status))
	}
	if f.ScrapeRunID != "" {
		where = append(where, "p.scrape_run_id = ?")
		args = append(args, f.ScrapeRunID)
	}

	q := `SELECT ` + profileCols + profileFrom
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY p.created_at DESC LIMIT ?;"
	args = append(args, f.Limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetDraft stores a generated draft and flips the profile to draft_ready.
// Profiles already sent are not rewritten.
func (s *Store) SetDraft(ctx context.Context, id, draft string) error {
	res, err := s.exec(ctx, `
UPDATE profiles SET dm_draft = ?, status = ?, error = NULL
WHERE id = ? AND status <> ?;`,
		draft, string(domain.ProfileDraftReady), id, string(domain.ProfileSent))
	if err != nil {
		return fmt.Errorf("set draft: %w", err)
	}
	if affected(res) == 0 {
		return s.missingOr(ctx, id, ErrAlreadySent)
	}
	return nil
}

// ErrAlreadySent is returned when a write would rewrite a sent profile.
var ErrAlreadySent = errors.New("profile already sent")

// EditDraft replaces the draft text; a profile without a draft becomes draft_ready.
func (s *Store) EditDraft(ctx context.Context, id, draft string) error {
	res, err := s.exec(ctx, `
UPDATE profiles SET dm_draft = ?,
  status = CASE WHEN status = ? THEN ? ELSE status END
WHERE id = ?;`,
		draft, string(domain.ProfileNotGenerated), string(domain.ProfileDraftReady), id)
	if err != nil {
		return fmt.Errorf("edit draft: %w", err)
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AssignSender(ctx context.Context, profileID, sessionID string) error {
	_, err := s.exec(ctx, `UPDATE profiles SET assigned_session_id = ? WHERE id = ?;`, sessionID, profileID)
	return err
}

func (s *Store) MarkProfileSent(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE profiles SET status = ?, sent_at = ?, error = NULL WHERE id = ?;`,
		string(domain.ProfileSent), s.stamp(), id)
	return err
}

// MarkProfileFailed records a send failure unless the profile was already reached.
func (s *Store) MarkProfileFailed(ctx context.Context, id, msg string) error {
	_, err := s.exec(ctx, `UPDATE profiles SET status = ?, error = ? WHERE id = ? AND status <> ?;`,
		string(domain.ProfileFailed), msg, id, string(domain.ProfileSent))
	return err
}

func (s *Store) SetAvatarKey(ctx context.Context, id, key string) error {
	_, err := s.exec(ctx, `UPDATE profiles SET avatar_key = ? WHERE id = ?;`, key, id)
	return err
}

func (s *Store) missingOr(ctx context.Context, id string, err error) error {
	var one int
	e := s.queryRow(ctx, `SELECT 1 FROM profiles WHERE id = ?;`, id).Scan(&one)
	if errors.Is(e, sql.ErrNoRows) {
		return ErrNotFound
	}
	if e != nil {
		return e
	}
	return err
}

func scanProfile(sc scanner) (domain.Profile, error) {
	var (
		p                               domain.Profile
		status                          string
		draft, assigned, sessName, errT sql.NullString
		avatarKey                       sql.NullString
		sentAt                          sql.NullString
		createdAt                       string
	)
	if err := sc.Scan(&p.ID, &p.Handle, &p.FullName, &p.AvatarURL, &avatarKey, &p.Bio, &p.FollowersCount, &p.FollowingCount,
		&p.ScrapeRunID, &status, &draft, &assigned, &sessName, &sentAt, &errT, &createdAt); err != nil {
		return domain.Profile{}, err
	}
	p.Status = domain.ProfileStatus(status)
	p.AvatarKey = strPtr(avatarKey)
	p.Draft = strPtr(draft)
	p.AssignedSessionID = strPtr(assigned)
	p.SessionName = strPtr(sessName)
	p.SentAt = parseTimePtr(sentAt)
	p.Error = strPtr(errT)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}
