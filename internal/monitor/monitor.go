// Package monitor reconciles external jobs into local records. Every watch runs
// detached from the request that started it and ends in exactly one terminal
// write per record; nothing it does is reported back to a caller.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"outreach-engine/internal/events"
	"outreach-engine/internal/provider"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/store"
)

const (
	scrapeFallback = "Scraping failed"
	sendFallback   = "DM sending failed"
	interrupted    = "Interrupted before launch"

	launchTimeout  = 30 * time.Second
	resultsTimeout = 5 * time.Minute

	// insertChunk is how many profiles share one write transaction.
	insertChunk = 500
)

type Config struct {
	PollInterval  time.Duration
	ScrapeTimeout time.Duration
	SendTimeout   time.Duration
	StaleAfter    time.Duration
	// WriteTimeout bounds each store write, not a whole reconciliation.
	WriteTimeout time.Duration

	// Send jobs are launched here; scrape jobs are launched by the caller.
	UseProxy   bool
	SendLaunch provider.LaunchOptions

	// AvatarClient, when set, copies new profile pictures into the store.
	AvatarClient *http.Client
	// AvatarLimiter paces avatar downloads per CDN host.
	AvatarLimiter *ratelimit.HostLimiter

	Now func() time.Time
}

type Monitor struct {
	cfg  Config
	st   *store.Store
	prov provider.Launcher
	ev   events.Emitter
	log  *slog.Logger

	base context.Context
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New returns a monitor whose watches stop when base ends. A stopped watch
// writes nothing, so its records are picked up again by the next Sweep.
func New(base context.Context, cfg Config, st *store.Store, prov provider.Launcher, ev events.Emitter, log *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = 30 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if ev == nil {
		ev = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		st:       st,
		prov:     prov,
		ev:       ev,
		log:      log.With("component", "monitor"),
		base:     base,
		inflight: make(map[string]struct{}),
	}
}

// Wait blocks until every detached watch has returned.
func (m *Monitor) Wait() { m.wg.Wait() }

// Busy reports how many watches are in flight.
func (m *Monitor) Busy() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Monitor) acquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[key]; ok {
		return false
	}
	m.inflight[key] = struct{}{}
	return true
}

func (m *Monitor) release(key string) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

// detach runs fn in a tracked goroutine unless key is already being watched.
// A panic in fn is handed to onPanic as a message.
func (m *Monitor) detach(key string, delay time.Duration, fn func(), onPanic func(msg string)) bool {
	if !m.acquire(key) {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(key)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("watch panicked", "key", key, "panic", r)
				onPanic(fmt.Sprint(r))
			}
		}()

		if !m.sleep(delay) {
			return
		}
		fn()
	}()
	return true
}

func (m *Monitor) sleep(d time.Duration) bool {
	if d <= 0 {
		return m.base.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.base.Done():
		return false
	case <-t.C:
		return true
	}
}

// writeCtx is for terminal writes. It outlives the wait that produced the
// outcome but not the process.
func (m *Monitor) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(m.base), m.cfg.WriteTimeout)
}

// await polls handle until it leaves RUNNING or ctx ends.
func (m *Monitor) await(ctx context.Context, handle string) (provider.RunState, error) {
	for {
		st, err := m.prov.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return provider.RunState{}, ctx.Err()
			}
			return provider.RunState{}, err
		}
		if st.State != provider.StateRunning {
			return st, nil
		}

		t := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return provider.RunState{}, ctx.Err()
		case <-t.C:
		}
	}
}

// outcome is what a wait ended with: a terminal state, a ceiling, an error,
// or a shutdown (stopped) that must not be written.
type outcome struct {
	state   provider.RunState
	failure string
	stopped bool
}

func (m *Monitor) wait(handle string, ceiling time.Duration, fallback string) outcome {
	ctx, cancel := context.WithTimeout(m.base, ceiling)
	defer cancel()

	st, err := m.await(ctx, handle)
	switch {
	case m.base.Err() != nil:
		return outcome{stopped: true}
	case errors.Is(err, context.DeadlineExceeded), err != nil && ctx.Err() != nil:
		return outcome{failure: "Timeout after " + humanDuration(ceiling)}
	case err != nil:
		return outcome{failure: err.Error()}
	case st.State == provider.StateFailed:
		msg := st.Message
		if msg == "" {
			msg = fallback
		}
		return outcome{state: st, failure: msg}
	}
	return outcome{state: st}
}

func humanDuration(d time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return unit(int64(d/time.Second), "second")
	}
	return d.String()
}
