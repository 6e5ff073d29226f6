package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Enabled bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable status HTTP server"`
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Status server configuration"`

	// Mirrors are probed in the listed order; the first one serving a valid
	// feed for an account wins. Order is significant and preserved.
	Mirrors []string `yaml:"mirrors" json:"mirrors" jsonschema:"description=Mirror base URLs in priority order"`

	Destinations []DestinationConfig `yaml:"destinations" json:"destinations" jsonschema:"description=Webhook destinations and their monitored accounts"`

	Poll   PollConfig   `yaml:"poll" json:"poll" jsonschema:"description=Polling configuration"`
	Media  MediaConfig  `yaml:"media" json:"media" jsonschema:"description=Media resolution configuration"`
	Ledger LedgerConfig `yaml:"ledger" json:"ledger" jsonschema:"description=Dedup ledger configuration"`
}

// DestinationConfig binds one webhook to a list of account handles
type DestinationConfig struct {
	Name     string   `yaml:"name" json:"name" jsonschema:"required,description=Destination name for logs and status"`
	Webhook  string   `yaml:"webhook" json:"webhook" jsonschema:"required,description=Webhook URL (environment variables expanded)"`
	Accounts []string `yaml:"accounts" json:"accounts" jsonschema:"required,description=Account handles relayed to this webhook"`
}

// PollConfig holds sweep loop settings
type PollConfig struct {
	Interval   time.Duration `yaml:"interval" json:"interval" jsonschema:"default=60s,description=Idle delay between full sweeps"`
	MaxPosts   int           `yaml:"max_posts" json:"max_posts" jsonschema:"default=3,description=Newest posts fetched per account per sweep"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age" jsonschema:"default=168h,description=Posts older than this are skipped; 0 disables the age filter"`
	MaxWorkers int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=2,description=Destination groups processed concurrently"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Timeout for a single feed request"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Mozilla/5.0 (compatible; chirprelay/1.0),description=User agent for mirror requests"`
}

// MediaConfig holds media resolution settings
type MediaConfig struct {
	Verify    bool          `yaml:"verify" json:"verify" jsonschema:"default=true,description=Probe resolved media URLs before forwarding"`
	JitterMin time.Duration `yaml:"jitter_min" json:"jitter_min" jsonschema:"default=1s,description=Minimum delay before a secondary page fetch"`
	JitterMax time.Duration `yaml:"jitter_max" json:"jitter_max" jsonschema:"default=3s,description=Maximum delay before a secondary page fetch"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=15s,description=Timeout for media related requests"`
}

// LedgerConfig holds dedup ledger settings
type LedgerConfig struct {
	Dir string `yaml:"dir" json:"dir" jsonschema:"default=last_posts,description=Directory for per-account ledger files"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables, webhook URLs come from the environment
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// setDefaults fills zero values with sane defaults
func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if len(c.Mirrors) == 0 {
		c.Mirrors = []string{"https://nitter.net", "https://nitter.privacydev.net", "https://nitter.poast.org"}
	}

	if c.Poll.Interval == 0 {
		c.Poll.Interval = 60 * time.Second
	}
	if c.Poll.MaxPosts == 0 {
		c.Poll.MaxPosts = 3
	}
	if c.Poll.MaxAge == 0 {
		c.Poll.MaxAge = 7 * 24 * time.Hour
	}
	if c.Poll.MaxWorkers == 0 {
		c.Poll.MaxWorkers = 2
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 30 * time.Second
	}
	if c.Poll.UserAgent == "" {
		c.Poll.UserAgent = "Mozilla/5.0 (compatible; chirprelay/1.0)"
	}

	if c.Media.JitterMin == 0 {
		c.Media.JitterMin = time.Second
	}
	if c.Media.JitterMax == 0 {
		c.Media.JitterMax = 3 * time.Second
	}
	if c.Media.Timeout == 0 {
		c.Media.Timeout = 15 * time.Second
	}

	if c.Ledger.Dir == "" {
		c.Ledger.Dir = "last_posts"
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	for _, m := range cfg.Mirrors {
		u, err := url.Parse(m)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("mirror %q is not an absolute URL", m)
		}
	}

	if len(cfg.Destinations) == 0 {
		return fmt.Errorf("at least one destination is required")
	}

	// an account bound to two destinations would break per-account ledger
	// serialization, reject it outright
	seen := map[string]string{}
	for _, d := range cfg.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destination name is required")
		}
		if d.Webhook == "" {
			return fmt.Errorf("destination %q: webhook is required", d.Name)
		}
		if len(d.Accounts) == 0 {
			return fmt.Errorf("destination %q: at least one account is required", d.Name)
		}
		for _, a := range d.Accounts {
			key := strings.ToLower(a)
			if prev, ok := seen[key]; ok {
				return fmt.Errorf("account %q bound to both %q and %q", a, prev, d.Name)
			}
			seen[key] = d.Name
		}
	}

	if cfg.Poll.Interval < time.Second {
		return fmt.Errorf("poll.interval must be at least 1 second")
	}
	if cfg.Poll.MaxPosts < 1 {
		return fmt.Errorf("poll.max_posts must be at least 1")
	}
	if cfg.Poll.MaxAge < 0 {
		return fmt.Errorf("poll.max_age must be non-negative")
	}
	if cfg.Media.JitterMax < cfg.Media.JitterMin {
		return fmt.Errorf("media.jitter_max must be >= media.jitter_min")
	}
	if cfg.Server.Enabled && cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns status server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetDestinations returns configured destinations as domain values
func (c *Config) GetDestinations() []DestinationConfig {
	return c.Destinations
}

// WebhookURLs returns all configured webhook URLs, used to mask them in logs
func (c *Config) WebhookURLs() []string {
	res := make([]string, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		res = append(res, d.Webhook)
	}
	return res
}
