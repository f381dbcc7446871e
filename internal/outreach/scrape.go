package outreach

import (
	"context"
	"errors"
	"strings"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
	"outreach-engine/internal/provider"
)

type ScrapeRequest struct {
	Targets   []string `json:"targetUsernames"`
	Target    string   `json:"targetUsername"`
	Kind      string   `json:"scrapeType"`
	MaxItems  int      `json:"maxItems"`
	SessionID string   `json:"sessionId"`
}

type ScrapeResult struct {
	RunIDs         []string `json:"runIds"`
	ExternalHandle string   `json:"apifyRunId"`
	Message        string   `json:"message"`
}

// targets merges the single and list forms, trims, drops a leading @ and duplicates.
func (r ScrapeRequest) targets() []string {
	raw := append([]string{r.Target}, r.Targets...)
	seen := map[string]bool{}
	var out []string
	for _, t := range raw {
		t = strings.TrimPrefix(strings.TrimSpace(t), "@")
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

// StartScrape creates one pending run per target, all served by one external job.
// A rejected launch fails every run before returning.
func (s *Service) StartScrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	targets := req.targets()
	kind := domain.ScrapeKind(req.Kind)
	if kind == "" {
		kind = domain.ScrapeFollowers
	}
	switch {
	case len(targets) == 0 || req.SessionID == "":
		return ScrapeResult{}, domain.Validationf("Missing required fields")
	case !kind.Valid():
		return ScrapeResult{}, domain.Validationf("Invalid scrape type")
	case req.MaxItems < 0:
		return ScrapeResult{}, domain.Validationf("maxItems must be zero or positive")
	}
	if err := s.requireScraper(); err != nil {
		return ScrapeResult{}, err
	}
	sess, err := s.sessionWithRole(ctx, req.SessionID, domain.RoleScraper)
	if err != nil {
		return ScrapeResult{}, err
	}

	runs := make([]domain.ScrapeRun, len(targets))
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = s.newID()
		runs[i] = domain.ScrapeRun{
			ID:           ids[i],
			TargetHandle: t,
			Kind:         kind,
			MaxItems:     req.MaxItems,
			SessionID:    sess.ID,
			SessionName:  sess.Name,
		}
	}
	if _, err := s.st.CreateScrapeRuns(ctx, runs); err != nil {
		return ScrapeResult{}, err
	}

	in := provider.ScrapeInput{
		Usernames:    targets,
		ResultsType:  string(kind),
		ResultsLimit: req.MaxItems,
	}
	if s.opts.UseProxy {
		in.Proxy = &provider.Proxy{UseApifyProxy: true}
	}

	handle, err := s.launcher.Launch(ctx, provider.KindScrape, in, s.opts.ScrapeLaunch)
	if err != nil {
		msg := err.Error()
		var le *provider.LaunchError
		if errors.As(err, &le) && le.Message != "" {
			msg = le.Message
		}
		// the caller may have gone away; the rows must still reach failed
		wctx := context.WithoutCancel(ctx)
		if _, ferr := s.st.FailScrapeRuns(wctx, ids, msg); ferr != nil {
			s.log.Error("fail scrape runs after launch error", "err", ferr)
		}
		s.emitRuns(ids, domain.RunFailed)
		s.log.Warn("scrape launch rejected", "targets", targets, "error", msg)
		return ScrapeResult{RunIDs: ids}, domain.LaunchFailed("Failed to start scraping: "+msg, err)
	}

	// The job is live either way; the watch can complete runs still pending.
	if _, err := s.st.MarkScrapeRunsRunning(context.WithoutCancel(ctx), ids, handle); err != nil {
		s.log.Error("record scrape handle", "handle", handle, "err", err)
	} else {
		s.emitRuns(ids, domain.RunRunning)
	}
	s.watch.WatchScrape(handle, ids, s.opts.StartDelay)

	s.log.Info("scrape started", "targets", targets, "kind", kind, "handle", handle)
	return ScrapeResult{
		RunIDs:         ids,
		ExternalHandle: handle,
		Message:        "Scraping started successfully! Results will appear in a few minutes.",
	}, nil
}

func (s *Service) ListScrapeRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error) {
	return s.st.ListScrapeRuns(ctx, limit)
}

func (s *Service) GetScrapeRun(ctx context.Context, id string) (domain.ScrapeRun, error) {
	run, err := s.st.GetScrapeRun(ctx, id)
	if err != nil {
		return domain.ScrapeRun{}, notFound(err, "Scrape run")
	}
	return run, nil
}

func (s *Service) emitRuns(ids []string, status domain.RunStatus) {
	for _, id := range ids {
		s.ev.Emit(events.ScrapeRunUpdated, map[string]any{"id": id, "status": status})
	}
}
