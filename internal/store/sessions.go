package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"outreach-engine/internal/domain"
)

const sessionCols = `id, name, username, token, role, status, created_at`

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	if sess.Status == "" {
		sess.Status = domain.SessionActive
	}
	now := s.stamp()
	if _, err := s.exec(ctx, `
INSERT INTO sessions (id, name, username, token, role, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		sess.ID, sess.Name, sess.Username, sess.Token, string(sess.Role), string(sess.Status), now,
	); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	sess.CreatedAt = parseTime(now)
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.queryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?;`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns newest first; an empty role lists every session.
func (s *Store) ListSessions(ctx context.Context, role domain.SessionRole) ([]domain.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions`
	var args []any
	if role != "" {
		q += ` WHERE role = ?`
		args = append(args, string(role))
	}
	q += ` ORDER BY created_at DESC;`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session. Job records keep their denormalized session name.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (domain.Session, error) {
	var (
		sess         domain.Session
		role, status string
		createdAt    string
	)
	if err := sc.Scan(&sess.ID, &sess.Name, &sess.Username, &sess.Token, &role, &status, &createdAt); err != nil {
		return domain.Session{}, err
	}
	sess.Role = domain.SessionRole(role)
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	return sess, nil
}
