package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the gateway configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	GitHub   GitHubConfig   `koanf:"github"`
	Store    StoreConfig    `koanf:"store"`
	Queue    QueueConfig    `koanf:"queue"`
	Scan     ScanConfig     `koanf:"scan"`
	Dispatch DispatchConfig `koanf:"dispatch"`
}

// ServerConfig holds HTTP server and logging configuration.
type ServerConfig struct {
	ListenAddr     string   `koanf:"listen_addr"`
	AllowedOrigins []string `koanf:"allowed_origins"` // empty = same-origin only
	LogLevel       string   `koanf:"log_level"`
	Dev            bool     `koanf:"dev"`
}

// GitHubConfig holds GitHub App and personal-access-token credentials.
type GitHubConfig struct {
	AppID         string `koanf:"app_id"`
	ClientID      string `koanf:"client_id"`
	PrivateKey    string `koanf:"private_key"`
	WebhookSecret string `koanf:"webhook_secret"`
	Token         string `koanf:"token"` // legacy PAT fallback
	Owner         string `koanf:"owner"` // default repository for the Actions passthrough
	Repo          string `koanf:"repo"`
	APIURL        string `koanf:"api_url"`
	TokenCache    *bool  `koanf:"token_cache"`
}

// StoreConfig holds the document store location.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// QueueConfig holds the RabbitMQ connection. Empty URL = inline event handling.
type QueueConfig struct {
	AMQPURL string `koanf:"amqp_url"`
}

// ScanConfig holds classification cache and aggregate-scan bounds.
type ScanConfig struct {
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	AggregateLimit int           `koanf:"aggregate_limit"`
}

// DispatchConfig bounds how often workflows can be triggered through the API.
type DispatchConfig struct {
	Rate  float64 `koanf:"rate"` // dispatches per second
	Burst int     `koanf:"burst"`
}

// envKeys maps the environment variable names the dashboard has always used
// onto config paths.
var envKeys = map[string]string{
	"GITHUB_APP_ID":             "github.app_id",
	"GITHUB_APP_CLIENT_ID":      "github.client_id",
	"GITHUB_APP_PRIVATE_KEY":    "github.private_key",
	"GITHUB_APP_WEBHOOK_SECRET": "github.webhook_secret",
	"GITHUB_TOKEN":              "github.token",
	"NEXT_PUBLIC_GITHUB_OWNER":  "github.owner",
	"NEXT_PUBLIC_GITHUB_REPO":   "github.repo",
	"GITHUB_API_URL":            "github.api_url",
	"GITHUB_TOKEN_CACHE":        "github.token_cache",
	"GATEWAY_LISTEN_ADDR":       "server.listen_addr",
	"GATEWAY_ALLOWED_ORIGINS":   "server.allowed_origins",
	"GATEWAY_DEV":               "server.dev",
	"LOG_LEVEL":                 "server.log_level",
	"GATEWAY_DB_PATH":           "store.path",
	"RABBITMQ_URL":              "queue.amqp_url",
	"SCAN_CACHE_TTL":            "scan.cache_ttl",
	"SCAN_AGGREGATE_LIMIT":      "scan.aggregate_limit",
	"DISPATCH_RATE":             "dispatch.rate",
	"DISPATCH_BURST":            "dispatch.burst",
}

// LoadConfig loads configuration from an optional YAML file, then from
// environment variables, then applies defaults.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":3000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	// A comma-separated env value arrives as a single element.
	if len(c.Server.AllowedOrigins) == 1 && strings.Contains(c.Server.AllowedOrigins[0], ",") {
		c.Server.AllowedOrigins = splitList(c.Server.AllowedOrigins[0])
	}
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = defaultGitHubAPIURL
	}
	c.GitHub.APIURL = strings.TrimRight(c.GitHub.APIURL, "/")
	if c.GitHub.TokenCache == nil {
		enabled := true
		c.GitHub.TokenCache = &enabled
	}
	c.GitHub.PrivateKey = normalizePrivateKey(c.GitHub.PrivateKey)
	if c.Store.Path == "" {
		c.Store.Path = "ghgateway.db"
	}
	if c.Scan.CacheTTL == 0 {
		c.Scan.CacheTTL = 5 * time.Minute
	}
	if c.Scan.AggregateLimit == 0 {
		c.Scan.AggregateLimit = 10
	}
	if c.Dispatch.Rate == 0 {
		c.Dispatch.Rate = 1
	}
	if c.Dispatch.Burst == 0 {
		c.Dispatch.Burst = 5
	}
}

// Validate validates the configuration. Missing App credentials are allowed:
// they only make the App strategies unavailable.
func (c *Config) Validate() error {
	if c.Scan.CacheTTL < 0 {
		return fmt.Errorf("scan.cache_ttl must be positive (got %s)", c.Scan.CacheTTL)
	}
	if c.Scan.AggregateLimit < 0 {
		return fmt.Errorf("scan.aggregate_limit must be positive (got %d)", c.Scan.AggregateLimit)
	}
	if c.Dispatch.Rate < 0 || c.Dispatch.Burst < 0 {
		return fmt.Errorf("dispatch.rate and dispatch.burst must be positive")
	}
	if strings.Contains(c.GitHub.Owner, "/") || strings.Contains(c.GitHub.Repo, "/") {
		return fmt.Errorf("github.owner and github.repo must not contain '/' (got %q, %q)", c.GitHub.Owner, c.GitHub.Repo)
	}
	if !strings.HasPrefix(c.GitHub.APIURL, "http://") && !strings.HasPrefix(c.GitHub.APIURL, "https://") {
		return fmt.Errorf("github.api_url must be an http(s) URL (got %q)", c.GitHub.APIURL)
	}
	return nil
}

// AppCredential returns the GitHub App credential, or nil when the App is not
// configured.
func (c *Config) AppCredential() *AppCredential {
	if c.GitHub.AppID == "" && c.GitHub.PrivateKey == "" {
		return nil
	}
	return &AppCredential{
		AppID:      c.GitHub.AppID,
		ClientID:   c.GitHub.ClientID,
		PrivateKey: c.GitHub.PrivateKey,
	}
}

// DefaultRepository returns the owner/repo used when a request names none.
func (c *Config) DefaultRepository() (owner, repo string) {
	return c.GitHub.Owner, c.GitHub.Repo
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
