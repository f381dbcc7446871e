package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"outreach-engine/internal/outreach"
)

// OutreachHandler exposes the business actions. Lists are plain JSON arrays;
// actions answer with {"success": true, ...}.
type OutreachHandler struct {
	Svc *outreach.Service
	Log *slog.Logger
}

func (h OutreachHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteDomainError(w, r, h.Log, err)
}

func (h OutreachHandler) SetupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Svc.SetupStatus())
}

// Sessions

func (h OutreachHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListSessions(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (h OutreachHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in outreach.SessionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	sess, err := h.Svc.CreateSession(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "id": sess.ID, "session": sess})
}

func (h OutreachHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (h OutreachHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Svc.DeleteSession(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "id": id})
}

// Scraping

func (h OutreachHandler) StartScrape(w http.ResponseWriter, r *http.Request) {
	var req outreach.ScrapeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Svc.StartScrape(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":    true,
		"runIds":     res.RunIDs,
		"apifyRunId": res.ExternalHandle,
		"message":    res.Message,
	})
}

func (h OutreachHandler) ListScrapeRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	runs, err := h.Svc.ListScrapeRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, runs)
}

func (h OutreachHandler) GetScrapeRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Svc.GetScrapeRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, run)
}

// Profiles and drafts

func (h OutreachHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.Svc.ListProfiles(r.Context(), outreach.ProfileQuery{
		Status: q.Get("status"),
		RunID:  q.Get("runId"),
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

type generateReq struct {
	ProfileID string `json:"profileId"`
}

func (h OutreachHandler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Svc.GenerateDraft(r.Context(), req.ProfileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": p.Draft, "profile": p})
}

type generateBulkReq struct {
	ProfileIDs []string `json:"profileIds"`
}

func (h OutreachHandler) GenerateDrafts(w http.ResponseWriter, r *http.Request) {
	var req generateBulkReq
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Svc.GenerateDrafts(r.Context(), req.ProfileIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "results": res})
}

type updateDraftReq struct {
	ProfileID string `json:"profileId"`
	Draft     string `json:"dmDraft"`
}

func (h OutreachHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req updateDraftReq
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Svc.EditDraft(r.Context(), req.ProfileID, req.Draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "profile": p})
}

// DM queue

func (h OutreachHandler) SendDM(w http.ResponseWriter, r *http.Request) {
	var req outreach.QueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.Svc.QueueDM(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "queueId": e.ID, "entry": e})
}

func (h OutreachHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListQueue(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (h OutreachHandler) DMStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.DMStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, st)
}

// Campaigns, follow-ups, analytics

func (h OutreachHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListCampaigns(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (h OutreachHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in outreach.CampaignInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.Svc.CreateCampaign(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "id": c.ID, "campaign": c})
}

type campaignStatusReq struct {
	Status string `json:"status"`
}

func (h OutreachHandler) SetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	var req campaignStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Svc.SetCampaignStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "campaign": c})
}

func (h OutreachHandler) ListFollowUps(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListFollowUps(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (h OutreachHandler) CreateFollowUp(w http.ResponseWriter, r *http.Request) {
	var in outreach.FollowUpInput
	if !decodeJSON(w, r, &in) {
		return
	}
	f, err := h.Svc.CreateFollowUp(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "id": f.ID, "followUp": f})
}

func (h OutreachHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.Svc.Analytics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, a)
}
