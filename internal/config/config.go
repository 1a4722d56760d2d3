// ABOUTME: Configuration loading and parsing for coven-asana
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultAsanaAPIURL is the Asana REST API base URL.
const DefaultAsanaAPIURL = "https://app.asana.com/api/1.0"

// Config represents the complete coven-asana configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Asana     AsanaConfig     `yaml:"asana" toml:"asana"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Webhooks  WebhooksConfig  `yaml:"webhooks" toml:"webhooks"`
	Reporter  ReporterConfig  `yaml:"reporter" toml:"reporter"`
	Sweep     SweepConfig     `yaml:"sweep" toml:"sweep"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// AuthConfig holds authentication configuration for the management API
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Asana needs a public callback URL
}

// ServerConfig holds the HTTP listener and the public URL Asana and users reach us on
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the externally reachable URL. Webhook targets and
	// conversation links are derived from it.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// DatabaseConfig holds sqlite and mapping file locations
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	MappingPath string `yaml:"mapping_path" toml:"mapping_path"`
}

// AsanaConfig holds Asana credentials and the watched resources
type AsanaConfig struct {
	AccessToken  string `yaml:"access_token" toml:"access_token"`
	WorkspaceGID string `yaml:"workspace_gid" toml:"workspace_gid"`
	ProjectGID   string `yaml:"project_gid" toml:"project_gid"`
	AgentUserGID string `yaml:"agent_user_gid" toml:"agent_user_gid"`
	APIURL       string `yaml:"api_url" toml:"api_url"`
	// KeyringService names the OS keyring entry used when access_token is empty
	KeyringService string `yaml:"keyring_service" toml:"keyring_service"`
}

// GatewayConfig describes the coven-gateway instance that hosts the agent
type GatewayConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Token   string        `yaml:"token" toml:"token"`
	AgentID string        `yaml:"agent_id" toml:"agent_id"`
	Sender  string        `yaml:"sender" toml:"sender"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// WebhooksConfig holds inbound webhook deduplication settings
type WebhooksConfig struct {
	DedupeMax int           `yaml:"dedupe_max" toml:"dedupe_max"`
	DedupeTTL time.Duration `yaml:"-" toml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ReporterConfig holds result reporting settings
type ReporterConfig struct {
	MaxResultLength int           `yaml:"max_result_length" toml:"max_result_length"`
	CatchUpLimit    int           `yaml:"catch_up_limit" toml:"catch_up_limit"`
	Timeout         time.Duration `yaml:"-" toml:"-"`
	CatchUpDelay    time.Duration `yaml:"-" toml:"-"`
	// ProgressInterval spaces interim agent updates on the task; zero disables them.
	ProgressInterval time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw          string `yaml:"timeout" toml:"timeout"`
	CatchUpDelayRaw     string `yaml:"catch_up_delay" toml:"catch_up_delay"`
	ProgressIntervalRaw string `yaml:"progress_interval" toml:"progress_interval"`
}

// SweepConfig controls the periodic mapping and webhook health sweep
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Schedule string `yaml:"schedule" toml:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Asana.APIURL == "" {
		c.Asana.APIURL = DefaultAsanaAPIURL
	}
	if c.Asana.KeyringService == "" {
		c.Asana.KeyringService = "coven-asana"
	}
	if c.Gateway.Sender == "" {
		c.Gateway.Sender = "asana"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Minute
	}
	if c.Webhooks.DedupeMax == 0 {
		c.Webhooks.DedupeMax = 1000
	}
	if c.Reporter.MaxResultLength == 0 {
		c.Reporter.MaxResultLength = 10000
	}
	if c.Reporter.CatchUpLimit == 0 {
		c.Reporter.CatchUpLimit = 50
	}
	if c.Reporter.Timeout == 0 {
		c.Reporter.Timeout = 60 * time.Second
	}
	if c.Reporter.CatchUpDelay == 0 {
		c.Reporter.CatchUpDelay = 500 * time.Millisecond
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 15m"
	}
	if c.Database.MappingPath == "" && c.Database.Path != "" {
		c.Database.MappingPath = filepath.Join(filepath.Dir(c.Database.Path), "asana_task_mapping.json")
	}
	if c.Server.BaseURL == "" && c.Server.HTTPAddr != "" {
		c.Server.BaseURL = "http://" + c.Server.HTTPAddr
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Asana credentials are not required here: the access token may live in the
// OS keyring and the webhook management endpoints report missing values.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.BaseURL != "" {
		if _, err := url.Parse(c.Server.BaseURL); err != nil {
			return fmt.Errorf("server.base_url is invalid: %w", err)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.AgentID == "" {
		return fmt.Errorf("gateway.agent_id is required")
	}

	if c.Webhooks.DedupeMax < 0 {
		return fmt.Errorf("webhooks.dedupe_max must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// WebhookTargetURL is the callback URL Asana delivers events to.
func (c *Config) WebhookTargetURL() string {
	return c.Server.BaseURL + "/webhooks/asana"
}

// ConversationURL links to a conversation's progress page.
func (c *Config) ConversationURL(conversationID string) string {
	return c.Server.BaseURL + "/conversations/" + conversationID
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.timeout", cfg.Gateway.TimeoutRaw, &cfg.Gateway.Timeout},
		{"webhooks.dedupe_ttl", cfg.Webhooks.DedupeTTLRaw, &cfg.Webhooks.DedupeTTL},
		{"reporter.timeout", cfg.Reporter.TimeoutRaw, &cfg.Reporter.Timeout},
		{"reporter.catch_up_delay", cfg.Reporter.CatchUpDelayRaw, &cfg.Reporter.CatchUpDelay},
		{"reporter.progress_interval", cfg.Reporter.ProgressIntervalRaw, &cfg.Reporter.ProgressInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
