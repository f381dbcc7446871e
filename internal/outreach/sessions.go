package outreach

import (
	"context"
	"strings"

	"outreach-engine/internal/domain"
)

type SessionInput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Token    string `json:"sessionId"`
	Type     string `json:"type"`
}

func (s *Service) CreateSession(ctx context.Context, in SessionInput) (domain.Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimPrefix(strings.TrimSpace(in.Username), "@")
	in.Token = strings.TrimSpace(in.Token)
	if in.Name == "" || in.Username == "" || in.Token == "" || in.Type == "" {
		return domain.Session{}, domain.Validationf("Missing required fields")
	}
	role := domain.SessionRole(in.Type)
	if !role.Valid() {
		return domain.Session{}, domain.Validationf("Invalid session type")
	}

	sess, err := s.st.CreateSession(ctx, domain.Session{
		ID:       s.newID(),
		Name:     in.Name,
		Username: in.Username,
		Token:    in.Token,
		Role:     role,
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.log.Info("session created", "id", sess.ID, "type", role)
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, typ string) ([]domain.Session, error) {
	role := domain.SessionRole(typ)
	if typ != "" && !role.Valid() {
		return nil, domain.Validationf("Invalid session type")
	}
	return s.st.ListSessions(ctx, role)
}

func (s *Service) GetSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.st.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, notFound(err, "Session")
	}
	return sess, nil
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if err := s.st.DeleteSession(ctx, id); err != nil {
		return notFound(err, "Session")
	}
	s.log.Info("session deleted", "id", id)
	return nil
}

// sessionWithRole loads id and checks it may act as role.
func (s *Service) sessionWithRole(ctx context.Context, id string, role domain.SessionRole) (domain.Session, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Session{}, domain.Validationf("Missing required fields")
	}
	sess, err := s.st.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, notFound(err, "Session")
	}
	if sess.Role != role {
		return domain.Session{}, domain.Validationf("Session %q is not a %s session", sess.Name, role)
	}
	if sess.Status != domain.SessionActive {
		return domain.Session{}, domain.Validationf("Session %q is inactive", sess.Name)
	}
	return sess, nil
}
