package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires every route. /shutdown is mounted only when a token is configured.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID, AccessLog(d.Log), Recover(d.Log), Cors)

	r.Get("/health", HealthHandler{Inflight: d.Inflight}.Health)

	oh := OutreachHandler{Svc: d.Service, Log: d.Log}
	r.Route("/api", func(r chi.Router) {
		r.Get("/setup-status", oh.SetupStatus)

		r.Get("/sessions", oh.ListSessions)
		r.Post("/sessions", oh.CreateSession)
		r.Get("/sessions/{id}", oh.GetSession)
		r.Delete("/sessions/{id}", oh.DeleteSession)

		r.Post("/scrape", oh.StartScrape)
		r.Get("/scrape-runs", oh.ListScrapeRuns)
		r.Get("/scrape-runs/{id}", oh.GetScrapeRun)

		r.Get("/profiles", oh.ListProfiles)
		r.Post("/profiles/update-draft", oh.UpdateDraft)
		r.Post("/generate-dm", oh.GenerateDraft)
		r.Post("/generate-dm/bulk", oh.GenerateDrafts)

		r.Post("/send-dm", oh.SendDM)
		r.Get("/dm-queue", oh.ListQueue)
		r.Get("/dm-stats", oh.DMStats)

		r.Get("/campaigns", oh.ListCampaigns)
		r.Post("/campaigns", oh.CreateCampaign)
		r.Put("/campaigns/{id}/status", oh.SetCampaignStatus)

		r.Get("/follow-ups", oh.ListFollowUps)
		r.Post("/follow-ups", oh.CreateFollowUp)

		r.Get("/analytics", oh.Analytics)

		if d.Secrets != nil {
			sh := SecretsHandler{Secrets: d.Secrets, Log: d.Log}
			r.Get("/secrets", sh.Status)
			r.Put("/secrets/{name}", sh.Set)
			r.Delete("/secrets/{name}", sh.Delete)
		}
	})

	if d.Hub != nil {
		r.Get("/events", EventsHandler{Hub: d.Hub}.ServeSSE)
	}

	if d.CfgVal != nil {
		ch := ConfigHandler{CfgVal: d.CfgVal, UserCfgPath: d.UserCfgPath, LoadCfg: d.LoadCfg}
		r.Get("/config", ch.Get)
		r.Put("/config", ch.Put)
		r.Get("/config/path", ch.Path)
		r.Get("/config/validate", ch.Validate)
	}

	if d.Store != nil {
		r.Get("/avatar/{key}", AvatarsHandler{Store: d.Store}.Get)
		r.Post("/db/checkpoint", DBHandler{Store: d.Store, Log: d.Log}.Checkpoint)
	}

	if d.ShutdownToken != "" {
		r.Post("/shutdown", ShutdownHandler{Token: d.ShutdownToken, Stop: d.Stop}.Shutdown)
	}

	return r
}
