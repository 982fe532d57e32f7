package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "threads.yml"

const (
	defaultRedisURL        = "redis://localhost:6379/0"
	defaultNamespace       = "default"
	defaultAddr            = ":8080"
	defaultAPIURL          = "http://localhost:8080"
	defaultCreateRate      = 1.0
	defaultCreateBurst     = 5
	defaultStaleAfter      = 30 * time.Second
	defaultErrorRetryAfter = 5 * time.Second
	defaultFetchTimeout    = 15 * time.Second
)

// Environment variables that override file values.
const (
	EnvRedisURL  = "THREADS_REDIS_URL"
	EnvNamespace = "THREADS_NAMESPACE"
	EnvJWTSecret = "THREADS_JWT_SECRET"
	EnvAPIURL    = "THREADS_API_URL"
	EnvToken     = "THREADS_TOKEN"
	EnvAddr      = "THREADS_ADDR"
)

// ThreadsConfig represents the top-level threads.yml configuration
type ThreadsConfig struct {
	Version string       `yaml:"version"`
	Redis   RedisConfig  `yaml:"redis"`
	Server  ServerConfig `yaml:"server"`
	Sync    SyncConfig   `yaml:"sync"`
	Client  ClientConfig `yaml:"client"`
}

// RedisConfig locates the store.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"` // prefixes every key and channel
}

// ServerConfig configures `threads serve`.
type ServerConfig struct {
	Addr        string  `yaml:"addr"`
	JWTSecret   string  `yaml:"jwt_secret"`
	CreateRate  float64 `yaml:"create_rate"` // comments per second per user
	CreateBurst int     `yaml:"create_burst"`
}

// SyncConfig tunes the client cache.
type SyncConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after"`
	ErrorRetryAfter time.Duration `yaml:"error_retry_after"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// ClientConfig points CLI commands at a running server.
type ClientConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// Default returns the configuration used when no file exists.
func Default() *ThreadsConfig {
	cfg := &ThreadsConfig{Version: "1.0"}
	// Defaults never fail validation.
	_ = cfg.Validate()
	return cfg
}

// Validate applies defaults and checks every section.
func (c *ThreadsConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis.URL == "" {
		c.Redis.URL = defaultRedisURL
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("redis.url is invalid: %w", err)
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = defaultNamespace
	}
	if strings.ContainsAny(c.Redis.Namespace, ": ") {
		return fmt.Errorf("redis.namespace must not contain ':' or spaces, got %q", c.Redis.Namespace)
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.CreateRate == 0 {
		c.Server.CreateRate = defaultCreateRate
	}
	if c.Server.CreateRate < 0 {
		return fmt.Errorf("server.create_rate must be > 0, got %v", c.Server.CreateRate)
	}
	if c.Server.CreateBurst == 0 {
		c.Server.CreateBurst = defaultCreateBurst
	}
	if c.Server.CreateBurst < 0 {
		return fmt.Errorf("server.create_burst must be >= 1, got %d", c.Server.CreateBurst)
	}

	if err := c.Sync.validate(); err != nil {
		return err
	}

	if c.Client.APIURL == "" {
		c.Client.APIURL = defaultAPIURL
	}
	u, err := url.Parse(c.Client.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.api_url must be an http(s) URL, got %q", c.Client.APIURL)
	}

	return nil
}

func (s *SyncConfig) validate() error {
	durations := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"sync.stale_after", &s.StaleAfter, defaultStaleAfter},
		{"sync.error_retry_after", &s.ErrorRetryAfter, defaultErrorRetryAfter},
		{"sync.fetch_timeout", &s.FetchTimeout, defaultFetchTimeout},
	}
	for _, d := range durations {
		if *d.value == 0 {
			*d.value = d.def
		}
		if *d.value < 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}
	return nil
}

// RequireServer checks the settings only `threads serve` needs.
func (c *ThreadsConfig) RequireServer() error {
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	return nil
}

// RedisOptions converts redis.url into client options.
func (c *ThreadsConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return opts, nil
}

// WebsocketURL derives the gateway address from client.api_url.
func (c *ThreadsConfig) WebsocketURL() string {
	u, err := url.Parse(c.Client.APIURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// ApplyEnv overrides file values with any THREADS_* variables that are set.
func (c *ThreadsConfig) ApplyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvRedisURL, &c.Redis.URL},
		{EnvNamespace, &c.Redis.Namespace},
		{EnvJWTSecret, &c.Server.JWTSecret},
		{EnvAddr, &c.Server.Addr},
		{EnvAPIURL, &c.Client.APIURL},
		{EnvToken, &c.Client.Token},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.target = v
		}
	}
}

// Load reads threads.yml from the specified path, applies environment
// overrides and validates the result.
func Load(path string) (*ThreadsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config ThreadsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault is Load, falling back to Default plus environment overrides
// when the file does not exist.
func LoadOrDefault(path string) (*ThreadsConfig, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = &ThreadsConfig{Version: "1.0"}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
