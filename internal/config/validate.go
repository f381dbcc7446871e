package config

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a trimmed copy of cfg along with any problems found.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	var res Validation

	out.App.LogLevel = strings.ToLower(strings.TrimSpace(out.App.LogLevel))
	out.App.LogFormat = strings.ToLower(strings.TrimSpace(out.App.LogFormat))
	out.Database.Driver = strings.ToLower(strings.TrimSpace(out.Database.Driver))
	out.Database.Path = strings.TrimSpace(out.Database.Path)
	out.Scraper.BaseURL = strings.TrimRight(strings.TrimSpace(out.Scraper.BaseURL), "/")
	out.Scraper.ScrapeActor = strings.TrimSpace(out.Scraper.ScrapeActor)
	out.Scraper.DMActor = strings.TrimSpace(out.Scraper.DMActor)
	out.TextGen.BaseURL = strings.TrimRight(strings.TrimSpace(out.TextGen.BaseURL), "/")
	out.TextGen.Model = strings.TrimSpace(out.TextGen.Model)

	// app
	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	switch out.App.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		res.addErr("app.log_level must be debug, info, warn or error")
	}
	switch out.App.LogFormat {
	case "", "text", "json":
	default:
		res.addErr("app.log_format must be text or json")
	}

	// database
	switch out.Database.Driver {
	case "sqlite":
		if out.Database.Path == "" {
			res.addErr("database.path is required when database.driver=sqlite")
		}
	case "postgres":
		if out.Database.DSN == "" {
			res.addWarn("database.driver is postgres but DATABASE_URL is not set")
		}
	default:
		res.addErr("database.driver must be sqlite or postgres")
	}

	// scraper
	checkURL(&res, "scraper.base_url", out.Scraper.BaseURL)
	if out.Scraper.ScrapeActor == "" {
		res.addErr("scraper.scrape_actor is required")
	}
	if out.Scraper.DMActor == "" {
		res.addErr("scraper.dm_actor is required")
	}
	if out.Scraper.MemoryMB < 0 || out.Scraper.TimeoutSeconds < 0 || out.Scraper.WaitSeconds < 0 {
		res.addErr("scraper memory_mb, timeout_seconds and wait_seconds must be >= 0")
	}
	if out.Scraper.WaitSeconds > 60 {
		res.addWarn("scraper.wait_seconds is %d; the provider caps long polls at 60.", out.Scraper.WaitSeconds)
	}
	if out.Scraper.RequestsPerSecond <= 0 {
		res.addErr("scraper.requests_per_second must be > 0")
	}
	if out.Scraper.Burst <= 0 {
		res.addErr("scraper.burst must be > 0")
	}

	// textgen
	checkURL(&res, "textgen.base_url", out.TextGen.BaseURL)
	if out.TextGen.Model == "" {
		res.addErr("textgen.model is required")
	}
	if out.TextGen.MaxChars <= 0 {
		res.addErr("textgen.max_chars must be > 0")
	} else if out.TextGen.MaxChars > 1000 {
		res.addWarn("textgen.max_chars is %d; long openers are rarely read.", out.TextGen.MaxChars)
	}
	if out.TextGen.Concurrency <= 0 {
		res.addErr("textgen.concurrency must be > 0")
	}
	checkTemplate(&res, "textgen.system", out.TextGen.System)
	checkTemplate(&res, "textgen.prompt", out.TextGen.Prompt)

	// monitor
	m := out.Monitor
	positive := []struct {
		name string
		d    Duration
	}{
		{"monitor.poll_interval", m.PollInterval},
		{"monitor.scrape_timeout", m.ScrapeTimeout},
		{"monitor.send_timeout", m.SendTimeout},
		{"monitor.stale_after", m.StaleAfter},
		{"monitor.sweep_interval", m.SweepInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			res.addErr("%s must be > 0", p.name)
		}
	}
	if m.StartDelay < 0 || m.SendDelay < 0 {
		res.addErr("monitor.start_delay and monitor.send_delay must be >= 0")
	}
	if m.PollInterval > 0 && m.PollInterval.D() < time.Second {
		res.addWarn("monitor.poll_interval is %s and may hit provider rate limits.", m.PollInterval.D())
	}
	if m.StaleAfter > 0 && m.PollInterval > 0 && m.StaleAfter <= m.PollInterval {
		res.addWarn("monitor.stale_after should be well above poll_interval; live watches may be resumed twice.")
	}

	return out, res
}

func checkURL(res *Validation, name, raw string) {
	if raw == "" {
		res.addErr("%s is required", name)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		res.addErr("%s must be an http(s) URL", name)
	}
}

func checkTemplate(res *Validation, name, src string) {
	if strings.TrimSpace(src) == "" {
		return
	}
	if _, err := template.New(name).Parse(src); err != nil {
		res.addErr("%s: %v", name, err)
	}
}
