package outreach

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
	"outreach-engine/internal/store"
	"outreach-engine/internal/textgen"
)

type ProfileQuery struct {
	Status string
	RunID  string
	Limit  int
}

func (s *Service) ListProfiles(ctx context.Context, q ProfileQuery) ([]domain.Profile, error) {
	status := domain.ProfileStatus(q.Status)
	if q.Status != "" && !status.Valid() {
		return nil, domain.Validationf("Invalid profile status")
	}
	return s.st.ListProfiles(ctx, store.ProfileFilter{Status: status, ScrapeRunID: q.RunID, Limit: q.Limit})
}

// GenerateDraft asks the text provider for a message and stores it verbatim.
func (s *Service) GenerateDraft(ctx context.Context, profileID string) (domain.Profile, error) {
	if strings.TrimSpace(profileID) == "" {
		return domain.Profile{}, domain.Validationf("Profile ID required")
	}
	if err := s.requireDrafter(); err != nil {
		return domain.Profile{}, err
	}
	return s.generate(ctx, profileID)
}

func (s *Service) generate(ctx context.Context, profileID string) (domain.Profile, error) {
	p, err := s.st.GetProfile(ctx, profileID)
	if err != nil {
		return domain.Profile{}, notFound(err, "Profile")
	}
	if p.Status == domain.ProfileSent {
		return domain.Profile{}, domain.Validationf("DM already sent to @%s", p.Handle)
	}

	text, err := s.drafter.Draft(ctx, textgen.Subject{
		Handle:    p.Handle,
		FullName:  p.FullName,
		Bio:       p.Bio,
		Followers: p.FollowersCount,
		MaxChars:  s.opts.MaxChars,
	})
	if err != nil {
		s.log.Warn("draft generation failed", "profile_id", p.ID, "err", err)
		return domain.Profile{}, &domain.Error{Kind: domain.KindInternal, Message: "Failed to generate DM", Err: err}
	}

	if err := s.st.SetDraft(ctx, p.ID, text); err != nil {
		if errors.Is(err, store.ErrAlreadySent) {
			return domain.Profile{}, domain.Validationf("DM already sent to @%s", p.Handle)
		}
		return domain.Profile{}, notFound(err, "Profile")
	}
	s.ev.Emit(events.ProfileUpdated, map[string]any{"id": p.ID, "status": domain.ProfileDraftReady})

	p.Draft = &text
	p.Status = domain.ProfileDraftReady
	p.Error = nil
	return p, nil
}

// DraftResult is the outcome for one profile of a bulk generation.
type DraftResult struct {
	ProfileID string  `json:"profileId"`
	Success   bool    `json:"success"`
	Message   *string `json:"message,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// GenerateDrafts drafts each profile with bounded concurrency. One failure
// does not stop the others; results keep the order of ids.
func (s *Service) GenerateDrafts(ctx context.Context, ids []string) ([]DraftResult, error) {
	if len(ids) == 0 {
		return nil, domain.Validationf("Profile IDs required")
	}
	if err := s.requireDrafter(); err != nil {
		return nil, err
	}

	out := make([]DraftResult, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.DraftConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res := DraftResult{ProfileID: id}
			p, err := s.generate(gctx, id)
			if err != nil {
				res.Error = domain.MessageOf(err)
			} else {
				res.Success = true
				res.Message = p.Draft
			}
			mu.Lock()
			out[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) EditDraft(ctx context.Context, profileID, draft string) (domain.Profile, error) {
	if strings.TrimSpace(profileID) == "" || strings.TrimSpace(draft) == "" {
		return domain.Profile{}, domain.Validationf("Missing required fields")
	}
	if err := s.st.EditDraft(ctx, profileID, draft); err != nil {
		return domain.Profile{}, notFound(err, "Profile")
	}
	p, err := s.st.GetProfile(ctx, profileID)
	if err != nil {
		return domain.Profile{}, notFound(err, "Profile")
	}
	s.ev.Emit(events.ProfileUpdated, map[string]any{"id": p.ID, "status": p.Status})
	return p, nil
}
