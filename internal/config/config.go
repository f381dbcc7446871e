package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as "30s" / "5m" in both YAML and JSON.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

type App struct {
	Port      int    `yaml:"port" json:"port"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

type Database struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the sqlite file, relative to app.data_dir unless absolute.
	Path string `yaml:"path" json:"path"`
	// DSN is not persisted; it comes from DATABASE_URL.
	DSN string `yaml:"-" json:"-"`
}

type Scraper struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	ScrapeActor       string  `yaml:"scrape_actor" json:"scrape_actor"`
	DMActor           string  `yaml:"dm_actor" json:"dm_actor"`
	UseProxy          bool    `yaml:"use_proxy" json:"use_proxy"`
	MemoryMB          int     `yaml:"memory_mb" json:"memory_mb"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	WaitSeconds       int     `yaml:"wait_seconds" json:"wait_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

type TextGen struct {
	BaseURL     string   `yaml:"base_url" json:"base_url"`
	Model       string   `yaml:"model" json:"model"`
	MaxChars    int      `yaml:"max_chars" json:"max_chars"`
	Concurrency int      `yaml:"concurrency" json:"concurrency"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	// System and Prompt override the built-in templates when set.
	System string `yaml:"system,omitempty" json:"system,omitempty"`
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

type Monitor struct {
	StartDelay    Duration `yaml:"start_delay" json:"start_delay"`
	SendDelay     Duration `yaml:"send_delay" json:"send_delay"`
	PollInterval  Duration `yaml:"poll_interval" json:"poll_interval"`
	ScrapeTimeout Duration `yaml:"scrape_timeout" json:"scrape_timeout"`
	SendTimeout   Duration `yaml:"send_timeout" json:"send_timeout"`
	StaleAfter    Duration `yaml:"stale_after" json:"stale_after"`
	SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

type Config struct {
	App      App      `yaml:"app" json:"app"`
	Database Database `yaml:"database" json:"database"`
	Scraper  Scraper  `yaml:"scraper" json:"scraper"`
	TextGen  TextGen  `yaml:"textgen" json:"textgen"`
	Monitor  Monitor  `yaml:"monitor" json:"monitor"`
}

// Default returns the built-in configuration, parsed from the embedded defaults file.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic("config: embedded defaults: " + err.Error())
	}
	return cfg
}

// Load reads path over the defaults, so keys missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
