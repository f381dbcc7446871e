package outreach

import (
	"context"
	"strings"
	"time"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
)

type QueueRequest struct {
	ProfileID  string     `json:"profileId"`
	SessionID  string     `json:"sessionId"`
	Message    string     `json:"message"`
	Schedule   *time.Time `json:"schedule"`
	CampaignID *string    `json:"campaignId"`
}

// QueueDM creates a pending queue entry from the profile's draft (or an
// explicit message). Unscheduled entries are dispatched after the send delay;
// scheduled ones wait for the sweep to find them due.
func (s *Service) QueueDM(ctx context.Context, req QueueRequest) (domain.DMQueueEntry, error) {
	if strings.TrimSpace(req.ProfileID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return domain.DMQueueEntry{}, domain.Validationf("Missing required fields")
	}
	if err := s.requireScraper(); err != nil {
		return domain.DMQueueEntry{}, err
	}

	p, err := s.st.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return domain.DMQueueEntry{}, notFound(err, "Profile")
	}
	sender, err := s.sessionWithRole(ctx, req.SessionID, domain.RoleSender)
	if err != nil {
		return domain.DMQueueEntry{}, err
	}
	if p.Status == domain.ProfileSent {
		return domain.DMQueueEntry{}, domain.Validationf("DM already sent to @%s", p.Handle)
	}

	msg := strings.TrimSpace(req.Message)
	if msg == "" && p.Draft != nil {
		msg = strings.TrimSpace(*p.Draft)
	}
	if msg == "" {
		return domain.DMQueueEntry{}, domain.Validationf("No DM draft available")
	}

	if req.CampaignID != nil && *req.CampaignID != "" {
		if _, err := s.st.GetCampaign(ctx, *req.CampaignID); err != nil {
			return domain.DMQueueEntry{}, notFound(err, "Campaign")
		}
	} else {
		req.CampaignID = nil
	}

	var at time.Time
	if req.Schedule != nil {
		at = req.Schedule.UTC()
	}

	if err := s.st.AssignSender(ctx, p.ID, sender.ID); err != nil {
		return domain.DMQueueEntry{}, err
	}
	e, err := s.st.CreateQueueEntry(ctx, domain.DMQueueEntry{
		ID:            s.newID(),
		ProfileID:     p.ID,
		ProfileHandle: p.Handle,
		Message:       msg,
		SessionID:     sender.ID,
		SessionName:   sender.Name,
		CampaignID:    req.CampaignID,
		ScheduledFor:  at,
	})
	if err != nil {
		return domain.DMQueueEntry{}, err
	}
	s.ev.Emit(events.DMUpdated, map[string]any{"id": e.ID, "status": e.Status})

	s.dispatchIfDue(e)
	return e, nil
}

func (s *Service) dispatchIfDue(e domain.DMQueueEntry) {
	if e.ScheduledFor.After(s.now()) {
		s.log.Info("dm scheduled", "queue_id", e.ID, "at", e.ScheduledFor)
		return
	}
	s.watch.ScheduleSend(e.ID, s.opts.SendDelay)
}

func (s *Service) ListQueue(ctx context.Context, status string) ([]domain.DMQueueEntry, error) {
	st := domain.QueueStatus(status)
	if status != "" && !st.Valid() {
		return nil, domain.Validationf("Invalid queue status")
	}
	return s.st.ListQueue(ctx, st)
}

func (s *Service) DMStats(ctx context.Context) (domain.DMStats, error) {
	return s.st.DMStats(ctx)
}
