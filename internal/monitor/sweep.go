package monitor

import (
	"context"

	"outreach-engine/internal/domain"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	ResumedScrapes int `json:"resumed_scrapes"`
	ResumedSends   int `json:"resumed_sends"`
	Interrupted    int `json:"interrupted"`
	Dispatched     int `json:"dispatched"`
}

// Sweep recovers records left non-terminal by an earlier process and starts
// sends whose scheduled time has come.
//
// Running runs and sending entries that carry an external handle are watched
// again. Records that never received a handle cannot be resumed and are failed.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := m.cfg.Now().Add(-m.cfg.StaleAfter)

	running, err := m.st.StaleRunningRuns(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	byHandle := map[string][]string{}
	var order []string
	for _, r := range running {
		h := *r.ExternalHandle
		if _, ok := byHandle[h]; !ok {
			order = append(order, h)
		}
		byHandle[h] = append(byHandle[h], r.ID)
	}
	for _, h := range order {
		if m.WatchScrape(h, byHandle[h], 0) {
			rep.ResumedScrapes++
		}
	}

	pending, err := m.st.StalePendingRuns(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	if len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for _, r := range pending {
			ids = append(ids, r.ID)
		}
		n, err := m.st.FailScrapeRuns(ctx, ids, interrupted)
		if err != nil {
			return rep, err
		}
		rep.Interrupted += int(n)
		m.emitRuns(ids, domain.RunFailed)
	}

	sending, err := m.st.StaleSendingEntries(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	for _, e := range sending {
		if e.ExternalHandle != nil {
			if m.ResumeSend(e) {
				rep.ResumedSends++
			}
			continue
		}
		if !m.acquire("send:" + e.ID) {
			continue // launch still in progress here
		}
		m.failSend(e.ID, e.ProfileID, interrupted)
		m.release("send:" + e.ID)
		rep.Interrupted++
	}

	due, err := m.st.DueQueueEntries(ctx, m.cfg.Now())
	if err != nil {
		return rep, err
	}
	for _, e := range due {
		if m.ScheduleSend(e.ID, 0) {
			rep.Dispatched++
		}
	}

	if rep != (SweepReport{}) {
		m.log.Info("sweep", "resumed_scrapes", rep.ResumedScrapes, "resumed_sends", rep.ResumedSends,
			"interrupted", rep.Interrupted, "dispatched", rep.Dispatched)
	}
	return rep, nil
}
