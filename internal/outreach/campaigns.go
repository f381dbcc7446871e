package outreach

import (
	"context"
	"strings"
	"time"

	"outreach-engine/internal/domain"
)

type CampaignInput struct {
	Name         string     `json:"name"`
	SessionID    string     `json:"sessionId"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

func (s *Service) CreateCampaign(ctx context.Context, in CampaignInput) (domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" || in.SessionID == "" {
		return domain.Campaign{}, domain.Validationf("Missing required fields")
	}
	if _, err := s.sessionWithRole(ctx, in.SessionID, domain.RoleSender); err != nil {
		return domain.Campaign{}, err
	}
	c := domain.Campaign{ID: s.newID(), Name: strings.TrimSpace(in.Name), SessionID: in.SessionID}
	if in.ScheduledFor != nil {
		c.ScheduledFor = in.ScheduledFor.UTC()
	}
	return s.st.CreateCampaign(ctx, c)
}

func (s *Service) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.st.ListCampaigns(ctx)
}

// SetCampaignStatus pauses or resumes a campaign. Pending entries of a paused
// campaign are held back by the sweep until it runs again.
func (s *Service) SetCampaignStatus(ctx context.Context, id, status string) (domain.Campaign, error) {
	st := domain.CampaignStatus(status)
	if !st.Valid() {
		return domain.Campaign{}, domain.Validationf("Invalid campaign status")
	}
	if err := s.st.SetCampaignStatus(ctx, id, st); err != nil {
		return domain.Campaign{}, notFound(err, "Campaign")
	}
	c, err := s.st.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, notFound(err, "Campaign")
	}
	return c, nil
}

type FollowUpInput struct {
	QueueID  string     `json:"queueId"`
	Message  string     `json:"message"`
	Schedule *time.Time `json:"schedule"`
}

// CreateFollowUp queues a second message to the recipient of a delivered entry,
// through the same sender session.
func (s *Service) CreateFollowUp(ctx context.Context, in FollowUpInput) (domain.FollowUp, error) {
	msg := strings.TrimSpace(in.Message)
	if in.QueueID == "" || msg == "" {
		return domain.FollowUp{}, domain.Validationf("Missing required fields")
	}
	if err := s.requireScraper(); err != nil {
		return domain.FollowUp{}, err
	}
	orig, err := s.st.GetQueueEntry(ctx, in.QueueID)
	if err != nil {
		return domain.FollowUp{}, notFound(err, "Queue entry")
	}
	if orig.Status != domain.QueueSent {
		return domain.FollowUp{}, domain.Validationf("Follow-ups need a sent message")
	}

	var at time.Time
	if in.Schedule != nil {
		at = in.Schedule.UTC()
	}
	f, e, err := s.st.CreateFollowUp(ctx,
		domain.FollowUp{
			ID:              s.newID(),
			ProfileID:       orig.ProfileID,
			OriginalMessage: orig.Message,
			FollowUpMessage: msg,
		},
		domain.DMQueueEntry{
			ID:            s.newID(),
			ProfileID:     orig.ProfileID,
			ProfileHandle: orig.ProfileHandle,
			Message:       msg,
			SessionID:     orig.SessionID,
			SessionName:   orig.SessionName,
			CampaignID:    orig.CampaignID,
			ScheduledFor:  at,
		},
	)
	if err != nil {
		return domain.FollowUp{}, err
	}
	s.dispatchIfDue(e)
	return f, nil
}

func (s *Service) ListFollowUps(ctx context.Context) ([]domain.FollowUp, error) {
	return s.st.ListFollowUps(ctx)
}

func (s *Service) Analytics(ctx context.Context) (domain.Analytics, error) {
	return s.st.Analytics(ctx, 7)
}
