package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
	"outreach-engine/internal/normalize"
)

// WatchScrape reconciles the external job handle into runIDs once delay has
// passed. It reports false when handle is already being watched.
func (m *Monitor) WatchScrape(handle string, runIDs []string, delay time.Duration) bool {
	ids := append([]string(nil), runIDs...)
	return m.detach("scrape:"+handle, delay,
		func() { m.reconcileScrape(handle, ids) },
		func(msg string) { m.failScrape(handle, ids, msg) },
	)
}

func (m *Monitor) reconcileScrape(handle string, runIDs []string) {
	out := m.wait(handle, m.cfg.ScrapeTimeout, scrapeFallback)
	if out.stopped {
		m.log.Info("scrape watch stopped; will resume", "handle", handle)
		return
	}
	if out.failure != "" {
		m.failScrape(handle, runIDs, out.failure)
		return
	}
	m.completeScrape(handle, runIDs)
}

func (m *Monitor) failScrape(handle string, runIDs []string, msg string) {
	ctx, cancel := m.writeCtx()
	defer cancel()

	n, err := m.st.FailScrapeRuns(ctx, runIDs, msg)
	if err != nil {
		m.log.Error("fail scrape runs", "handle", handle, "err", err)
		return
	}
	m.log.Warn("scrape failed", "handle", handle, "runs", n, "error", msg)
	m.emitRuns(runIDs, domain.RunFailed)
}

type inserted struct {
	id     string
	avatar string
}

func (m *Monitor) completeScrape(handle string, runIDs []string) {
	rctx, rcancel := context.WithTimeout(m.base, resultsTimeout)
	items, err := m.prov.Results(rctx, handle)
	rcancel()
	if err != nil {
		if m.base.Err() != nil {
			return
		}
		m.failScrape(handle, runIDs, err.Error())
		return
	}

	owner := m.runOwners(runIDs)
	rows := make([]domain.Profile, 0, len(items))
	for _, it := range items {
		p, ok := normalize.Item(it)
		if !ok {
			continue
		}
		runID := runIDs[0]
		if id, ok := owner[strings.ToLower(p.Source)]; ok {
			runID = id
		}
		rows = append(rows, domain.Profile{
			ID:             uuid.NewString(),
			Handle:         p.Handle,
			FullName:       p.FullName,
			AvatarURL:      p.AvatarURL,
			Bio:            p.Bio,
			FollowersCount: p.FollowersCount,
			FollowingCount: p.FollowingCount,
			ScrapeRunID:    runID,
		})
	}

	processed := 0
	var fresh []inserted
	for start := 0; start < len(rows); start += insertChunk {
		// Inserts are idempotent, so a stopped watch is simply redone by the sweep.
		if m.base.Err() != nil {
			m.log.Info("scrape watch stopped; will resume", "handle", handle)
			return
		}
		chunk := rows[start:min(start+insertChunk, len(rows))]
		for i, added := range m.insertProfiles(handle, chunk) {
			if added == nil {
				continue
			}
			processed++
			if *added && chunk[i].AvatarURL != "" {
				fresh = append(fresh, inserted{id: chunk[i].ID, avatar: chunk[i].AvatarURL})
			}
		}
	}

	ctx, cancel := m.writeCtx()
	n, err := m.st.CompleteScrapeRuns(ctx, runIDs, processed)
	cancel()
	if err != nil {
		m.log.Error("complete scrape runs", "handle", handle, "err", err)
		m.failScrape(handle, runIDs, "Recording results failed: "+err.Error())
		return
	}
	m.log.Info("scrape completed", "handle", handle, "runs", n, "items", len(items), "processed", processed)
	m.emitRuns(runIDs, domain.RunCompleted)

	m.cacheAvatars(fresh)
}

// insertProfiles writes one chunk in a transaction. If the transaction fails the
// rows are retried one by one so a single bad row costs only itself. A nil
// entry marks a row that could not be stored.
func (m *Monitor) insertProfiles(handle string, chunk []domain.Profile) []*bool {
	out := make([]*bool, len(chunk))

	ctx, cancel := m.writeCtx()
	added, err := m.st.InsertProfilesIfAbsent(ctx, chunk)
	cancel()
	if err == nil {
		for i := range added {
			out[i] = &added[i]
		}
		return out
	}
	m.log.Warn("profile batch failed; inserting singly", "handle", handle, "rows", len(chunk), "err", err)

	for i, p := range chunk {
		ctx, cancel := m.writeCtx()
		ok, err := m.st.InsertProfileIfAbsent(ctx, p)
		cancel()
		if err != nil {
			m.log.Warn("skip profile", "handle", handle, "username", p.Handle, "err", err)
			continue
		}
		out[i] = &ok
	}
	return out
}

// runOwners maps each run's lower-cased target handle to the run id.
func (m *Monitor) runOwners(runIDs []string) map[string]string {
	ctx, cancel := m.writeCtx()
	defer cancel()

	out := make(map[string]string, len(runIDs))
	for _, id := range runIDs {
		run, err := m.st.GetScrapeRun(ctx, id)
		if err != nil {
			continue
		}
		out[strings.ToLower(run.TargetHandle)] = id
	}
	return out
}

func (m *Monitor) cacheAvatars(list []inserted) {
	if m.cfg.AvatarClient == nil || len(list) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(m.base)
	g.SetLimit(4)
	for _, p := range list {
		g.Go(func() error {
			if lim := m.cfg.AvatarLimiter; lim != nil {
				if err := lim.WaitURL(ctx, p.avatar); err != nil {
					return nil
				}
			}
			key, err := m.st.CacheAvatar(ctx, m.cfg.AvatarClient, p.avatar)
			if err != nil {
				m.log.Debug("avatar not cached", "profile", p.id, "err", err)
				return nil
			}
			if key != "" {
				_ = m.st.SetAvatarKey(ctx, p.id, key)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) emitRuns(ids []string, status domain.RunStatus) {
	for _, id := range ids {
		m.ev.Emit(events.ScrapeRunUpdated, map[string]any{"id": id, "status": status})
	}
}
