// Package outreach implements the business actions behind the HTTP surface:
// sessions, scrape submission, drafting, queueing, campaigns and reporting.
package outreach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/domain"
	"outreach-engine/internal/events"
	"outreach-engine/internal/provider"
	"outreach-engine/internal/secrets"
	"outreach-engine/internal/store"
	"outreach-engine/internal/textgen"
)

// Drafter writes a message for one profile.
type Drafter interface {
	Draft(ctx context.Context, s textgen.Subject) (string, error)
}

// Watcher hands launched jobs to the background monitor.
type Watcher interface {
	WatchScrape(handle string, runIDs []string, delay time.Duration) bool
	ScheduleSend(queueID string, delay time.Duration) bool
}

// Credentials reports whether a named provider credential is present.
type Credentials interface {
	Has(name string) bool
	Status() map[string]bool
}

type Options struct {
	StartDelay time.Duration
	SendDelay  time.Duration

	UseProxy     bool
	ScrapeLaunch provider.LaunchOptions

	DraftConcurrency int
	MaxChars         int
}

type Service struct {
	st       *store.Store
	launcher provider.Launcher
	drafter  Drafter
	watch    Watcher
	creds    Credentials
	ev       events.Emitter
	log      *slog.Logger
	opts     Options

	newID func() string
	now   func() time.Time
}

type Deps struct {
	Store    *store.Store
	Launcher provider.Launcher
	Drafter  Drafter
	Watcher  Watcher
	Creds    Credentials
	Events   events.Emitter
	Log      *slog.Logger
}

func New(d Deps, opts Options) *Service {
	if opts.DraftConcurrency <= 0 {
		opts.DraftConcurrency = 3
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 280
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		st:       d.Store,
		launcher: d.Launcher,
		drafter:  d.Drafter,
		watch:    d.Watcher,
		creds:    d.Creds,
		ev:       d.Events,
		log:      d.Log.With("component", "outreach"),
		opts:     opts,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// SetupStatus reports which external credentials are present. The embedded
// store needs no credential, so the database is ready whenever it is in use.
func (s *Service) SetupStatus() map[string]bool {
	st := s.creds.Status()
	if s.st.Dialect() == store.SQLite {
		st["database"] = true
	}
	return st
}

func (s *Service) requireCredential(name, what string) error {
	if s.creds == nil || !s.creds.Has(name) {
		return domain.NotConfigured(what)
	}
	return nil
}

const (
	apifyLabel  = "Apify API token"
	openAILabel = "OpenAI API key"
)

func (s *Service) requireScraper() error { return s.requireCredential(secrets.ApifyToken, apifyLabel) }
func (s *Service) requireDrafter() error { return s.requireCredential(secrets.OpenAIAPIKey, openAILabel) }

// notFound turns the store's sentinel into the caller-facing error.
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFoundf("%s not found", what)
	}
	return err
}
