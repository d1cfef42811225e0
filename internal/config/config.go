// Package config provides YAML-based configuration loading for ember.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is the dev-dash backend used when none is configured.
const DefaultAPIURL = "https://dev-dash-server-production.up.railway.app/api"

// Config is the top-level ember configuration, loaded from ember.yaml.
type Config struct {
	APIURL    string          `yaml:"api_url"`
	Project   string          `yaml:"project"`
	Token     string          `yaml:"-"`
	Store     StoreConfig     `yaml:"store"`
	Polling   PollingConfig   `yaml:"polling"`
	Drain     DrainConfig     `yaml:"drain"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
	GitHub    GitHubConfig    `yaml:"github"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
}

// StoreConfig selects the local database holding credentials and the journal.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"database"`
}

// PollingConfig holds the refresh interval of every entity cache.
type PollingConfig struct {
	Beads        time.Duration `yaml:"beads"`
	Jobs         time.Duration `yaml:"jobs"`
	JobsDraining time.Duration `yaml:"jobs_draining"`
	Stats        time.Duration `yaml:"stats"`
	Drain        time.Duration `yaml:"drain"`
	Preview      time.Duration `yaml:"preview"`
	Summary      time.Duration `yaml:"summary"`
	PRs          time.Duration `yaml:"prs"`
	IdleRecheck  time.Duration `yaml:"idle_recheck"`
}

// DrainConfig tunes drain start and drain-id discovery.
type DrainConfig struct {
	AutoPick          int           `yaml:"auto_pick"`
	MaxJobs           int           `yaml:"max_jobs"`
	DiscoveryAttempts int           `yaml:"discovery_attempts"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	AutoDispatchEvery time.Duration `yaml:"auto_dispatch_every"`
}

// DashboardConfig holds the local HTTP dashboard settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GitHubConfig enables the GitHub-backed PR status source.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Repo  string `yaml:"repo"`
}

// Enabled reports whether both token and owner/repo are set.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && g.Repo != ""
}

// TelegraphConfig holds chat notification targets.
type TelegraphConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is one chat platform's bot token and channel.
type ChatConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether the platform is configured.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.Channel != ""
}

// Load reads a YAML config file from path, applies .env and environment
// overrides, and returns a validated Config. A missing file is not an error.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config. The environment is
// not consulted.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with EMBER_* variables.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.APIURL, "EMBER_API_URL")
	set(&c.Token, "EMBER_TOKEN")
	set(&c.Project, "EMBER_PROJECT")
	set(&c.GitHub.Token, "EMBER_GITHUB_TOKEN")
	set(&c.Telegraph.Slack.BotToken, "EMBER_SLACK_BOT_TOKEN")
	set(&c.Telegraph.Discord.BotToken, "EMBER_DISCORD_BOT_TOKEN")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.Name == "" {
			c.Store.Name = "ember"
		}
	}

	p := &c.Polling
	defaultDuration(&p.Beads, 15*time.Second)
	defaultDuration(&p.Jobs, 10*time.Second)
	defaultDuration(&p.JobsDraining, 3*time.Second)
	defaultDuration(&p.Stats, 5*time.Second)
	defaultDuration(&p.Drain, 5*time.Second)
	defaultDuration(&p.Preview, 60*time.Second)
	defaultDuration(&p.Summary, 5*time.Second)
	defaultDuration(&p.PRs, 10*time.Second)
	defaultDuration(&p.IdleRecheck, 30*time.Second)

	if c.Drain.AutoPick == 0 {
		c.Drain.AutoPick = 12
	}
	if c.Drain.DiscoveryAttempts == 0 {
		c.Drain.DiscoveryAttempts = 5
	}
	defaultDuration(&c.Drain.DiscoveryInterval, 2*time.Second)
	defaultDuration(&c.Drain.AutoDispatchEvery, 5*time.Second)

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func defaultDuration(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "ember.db"
	}
	return filepath.Join(dir, "ember", "ember.db")
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api_url %q is not an absolute URL", c.APIURL))
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}
	if c.Drain.AutoPick < 0 {
		errs = append(errs, "drain.auto_pick must not be negative")
	}
	if c.Drain.MaxJobs < 0 {
		errs = append(errs, "drain.max_jobs must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.GitHub.Repo != "" && strings.Count(c.GitHub.Repo, "/") != 1 {
		errs = append(errs, fmt.Sprintf("github.repo %q must be owner/name", c.GitHub.Repo))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
