package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"outreach-engine/internal/config"
	"outreach-engine/internal/events"
	"outreach-engine/internal/httpapi"
	"outreach-engine/internal/scheduler"
)

func main() {
	// Engine settings may come from a .env next to the binary during development.
	_ = config.LoadDotEnv(".env")

	root := &cli.Command{
		Name:  "outreach-engine",
		Usage: "Scrape, draft and DM orchestration engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: config.DataDir(), Usage: "directory holding config.yml, the sqlite database and the lock file"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			sweepCommand(),
			setupStatusCommand(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c.String("data-dir"))
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "outreach-engine:", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and background monitors (default)",
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c.String("data-dir"))
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := loadEnv(c.String("data-dir"))
			if err != nil {
				return err
			}
			st, err := openStore(ctx, rt)
			if err != nil {
				return err
			}
			defer st.Close()
			v, err := st.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			rt.log.Info("migrations applied", "driver", st.Dialect(), "version", v)
			return nil
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Recover interrupted jobs, dispatch due DMs and wait for them to settle",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := loadEnv(c.String("data-dir"))
			if err != nil {
				return err
			}
			unlock, err := acquireLock(rt.dataDir)
			if err != nil {
				return err
			}
			defer unlock()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, rt)
			if err != nil {
				return err
			}
			defer st.Close()

			mon, _ := buildEngine(ctx, rt, st, events.Nop{})
			rep, err := mon.Sweep(ctx)
			if err != nil {
				return err
			}
			rt.log.Info("sweep started", "resumed_scrapes", rep.ResumedScrapes, "resumed_sends", rep.ResumedSends,
				"interrupted", rep.Interrupted, "dispatched", rep.Dispatched)
			mon.Wait()
			return nil
		},
	}
}

func setupStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup-status",
		Usage: "Print which credentials are configured",
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := loadEnv(c.String("data-dir"))
			if err != nil {
				return err
			}
			st := rt.secrets.Status()
			if rt.cfg.Database.Driver == "sqlite" {
				st["database"] = true
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func runServe(ctx context.Context, dataDir string) error {
	rt, err := loadEnv(dataDir)
	if err != nil {
		return err
	}
	log := rt.log

	unlock, err := acquireLock(rt.dataDir)
	if err != nil {
		return err
	}
	defer unlock()

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	st, err := openStore(ctx, rt)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := events.NewHub()
	mon, svc := buildEngine(ctx, rt, st, hub)

	rep, err := mon.Sweep(ctx)
	if err != nil {
		log.Error("startup sweep failed", "err", err)
	} else {
		log.Info("startup sweep", "resumed_scrapes", rep.ResumedScrapes, "resumed_sends", rep.ResumedSends,
			"interrupted", rep.Interrupted, "dispatched", rep.Dispatched)
	}
	go scheduler.Every(ctx, log, rt.cfg.Monitor.SweepInterval.D(), "sweep", func(ctx context.Context) error {
		_, err := mon.Sweep(ctx)
		return err
	})

	var cfgVal atomic.Value
	cfgVal.Store(rt.cfg)

	token, err := randomToken(16)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Service:       svc,
		Store:         st,
		Hub:           hub,
		Secrets:       rt.secrets,
		Log:           log,
		CfgVal:        &cfgVal,
		UserCfgPath:   rt.cfgPath,
		LoadCfg:       rt.reload,
		Inflight:      mon.Busy,
		ShutdownToken: token,
		Stop:          cancel,
	})

	// Loopback only; the console is a local tool.
	addr := fmt.Sprintf("127.0.0.1:%d", rt.cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Request contexts end with the process so SSE streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("engine listening", "addr", "http://"+addr, "driver", st.Dialect(), "config", rt.cfgPath)
	fmt.Printf("SHUTDOWN_TOKEN=%s\n", token)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			mon.Wait()
			return err
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}

	// Stopped watches write nothing; the next start's sweep resumes them.
	mon.Wait()
	log.Info("engine stopped")
	return nil
}
