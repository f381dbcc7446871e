package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"outreach-engine/internal/config"
	"outreach-engine/internal/events"
	"outreach-engine/internal/logging"
	"outreach-engine/internal/monitor"
	"outreach-engine/internal/outreach"
	"outreach-engine/internal/provider"
	"outreach-engine/internal/provider/apify"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/secrets"
	"outreach-engine/internal/store"
	"outreach-engine/internal/textgen"
)

// appEnv is the resolved process configuration shared by every command.
type appEnv struct {
	dataDir string
	cfgPath string
	cfg     config.Config
	log     *slog.Logger
	secrets *secrets.Store
}

func loadEnv(dataDir string) (*appEnv, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	cfgPath, err := config.EnsureUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config bootstrap failed: %w", err)
	}

	rt := &appEnv{dataDir: dataDir, cfgPath: cfgPath, secrets: secrets.New()}
	cfg, err := rt.reload()
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", cfgPath, err)
	}
	rt.cfg = cfg
	rt.log = logging.New(cfg.App.LogLevel, cfg.App.LogFormat)

	_, v := config.NormalizeAndValidate(cfg)
	for _, w := range v.Warnings {
		rt.log.Warn("config", "warning", w)
	}
	if !v.OK() {
		return nil, config.Validate(cfg)
	}
	return rt, nil
}

// reload reads the config file and applies the environment and keyring overlays.
func (rt *appEnv) reload() (config.Config, error) {
	cfg, err := config.Load(rt.cfgPath)
	if err != nil {
		return cfg, err
	}
	config.OverlayEnv(&cfg, os.Getenv)
	cfg.App.DataDir = rt.dataDir

	// DATABASE_URL may live in the keyring instead of the environment.
	if cfg.Database.DSN == "" {
		if dsn := rt.secrets.Get(secrets.DatabaseURL); dsn != "" {
			cfg.Database.DSN = dsn
			if config.IsPostgresURL(dsn) {
				cfg.Database.Driver = "postgres"
			}
		}
	}
	return cfg, nil
}

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context, rt *appEnv) (*store.Store, error) {
	var (
		st  *store.Store
		err error
	)
	switch rt.cfg.Database.Driver {
	case "postgres":
		if rt.cfg.Database.DSN == "" {
			return nil, errors.New("database.driver is postgres but DATABASE_URL is not set")
		}
		st, err = store.OpenPostgres(rt.cfg.Database.DSN)
	default:
		path := rt.cfg.Database.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(rt.dataDir, path)
		}
		st, err = store.OpenSQLite(path)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// acquireLock makes the caller the only process running monitors for dataDir.
func acquireLock(dataDir string) (unlock func(), err error) {
	fl := flock.New(filepath.Join(dataDir, "engine.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("another engine is already running for %s", dataDir)
	}
	return func() { _ = fl.Unlock() }, nil
}

// buildEngine wires providers, the monitor and the business service.
func buildEngine(ctx context.Context, rt *appEnv, st *store.Store, ev events.Emitter) (*monitor.Monitor, *outreach.Service) {
	cfg := rt.cfg
	log := rt.log

	prov := apify.New(apify.Config{
		BaseURL:           cfg.Scraper.BaseURL,
		ScrapeActor:       cfg.Scraper.ScrapeActor,
		SendActor:         cfg.Scraper.DMActor,
		WaitSeconds:       cfg.Scraper.WaitSeconds,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Burst:             cfg.Scraper.Burst,
	}, rt.secrets.Lookup(secrets.ApifyToken), log)

	launch := provider.LaunchOptions{MemoryMB: cfg.Scraper.MemoryMB, TimeoutSeconds: cfg.Scraper.TimeoutSeconds}

	mon := monitor.New(ctx, monitor.Config{
		PollInterval:  cfg.Monitor.PollInterval.D(),
		ScrapeTimeout: cfg.Monitor.ScrapeTimeout.D(),
		SendTimeout:   cfg.Monitor.SendTimeout.D(),
		StaleAfter:    cfg.Monitor.StaleAfter.D(),
		UseProxy:      cfg.Scraper.UseProxy,
		SendLaunch:    launch,
		AvatarClient:  &http.Client{Timeout: 15 * time.Second},
		AvatarLimiter: ratelimit.NewHostLimiter(4, 2),
	}, st, prov, ev, log)

	tg, err := textgen.New(textgen.Config{
		BaseURL:  cfg.TextGen.BaseURL,
		Model:    cfg.TextGen.Model,
		MaxChars: cfg.TextGen.MaxChars,
		System:   cfg.TextGen.System,
		Prompt:   cfg.TextGen.Prompt,
		Timeout:  cfg.TextGen.Timeout.D(),
	}, rt.secrets.Lookup(secrets.OpenAIAPIKey))
	if err != nil {
		// templates are validated at load; fall back to the built-in ones
		log.Error("textgen templates", "err", err)
		tg, _ = textgen.New(textgen.Config{
			BaseURL:  cfg.TextGen.BaseURL,
			Model:    cfg.TextGen.Model,
			MaxChars: cfg.TextGen.MaxChars,
			Timeout:  cfg.TextGen.Timeout.D(),
		}, rt.secrets.Lookup(secrets.OpenAIAPIKey))
	}

	svc := outreach.New(outreach.Deps{
		Store:    st,
		Launcher: prov,
		Drafter:  tg,
		Watcher:  mon,
		Creds:    rt.secrets,
		Events:   ev,
		Log:      log,
	}, outreach.Options{
		StartDelay:       cfg.Monitor.StartDelay.D(),
		SendDelay:        cfg.Monitor.SendDelay.D(),
		UseProxy:         cfg.Scraper.UseProxy,
		ScrapeLaunch:     launch,
		DraftConcurrency: cfg.TextGen.Concurrency,
		MaxChars:         cfg.TextGen.MaxChars,
	})
	return mon, svc
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
