package httpapi

import (
	"log/slog"
	"sync/atomic"

	"outreach-engine/internal/config"
	"outreach-engine/internal/events"
	"outreach-engine/internal/outreach"
	"outreach-engine/internal/store"
)

// SecretStore persists provider credentials outside the config file.
type SecretStore interface {
	Set(name, value string) error
	Delete(name string) error
	Status() map[string]bool
}

type Deps struct {
	Service *outreach.Service
	Store   *store.Store
	Hub     *events.Hub
	Secrets SecretStore
	Log     *slog.Logger

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Inflight reports how many background watches are running.
	Inflight func() int

	// ShutdownToken guards /shutdown; Stop begins a graceful shutdown.
	ShutdownToken string
	Stop          func()
}
