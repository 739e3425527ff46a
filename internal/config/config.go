// ABOUTME: Configuration loading and parsing for asr-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Authentication methods accepted in auth.method.
const (
	AuthMethodNone     = "none"
	AuthMethodDatabase = "database"
	AuthMethodAuth0    = "auth0"
	AuthMethodJWT      = "jwt"
)

// Database drivers accepted in database.driver.
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// Config represents the complete asr-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	ASR       ASRConfig       `yaml:"asr" toml:"asr"`
	Audio     AudioConfig     `yaml:"audio" toml:"audio"`
	Keepalive KeepaliveConfig `yaml:"keepalive" toml:"keepalive"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the client-facing listener configuration
type ServerConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Path     string `yaml:"path" toml:"path"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional gRPC health service
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// ASRConfig describes the backend engine and the pool of links to it
type ASRConfig struct {
	Host               string `yaml:"host" toml:"host"`
	Port               int    `yaml:"port" toml:"port"`
	Scheme             string `yaml:"scheme" toml:"scheme"`
	SampleRate         int    `yaml:"sample_rate" toml:"sample_rate"`
	URI                string `yaml:"uri" toml:"uri"` // overrides host, port and scheme
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	PoolSize           int    `yaml:"pool_size" toml:"pool_size"`
	Replenish          bool   `yaml:"replenish" toml:"replenish"`

	ConnectDelay   time.Duration `yaml:"-" toml:"-"`
	ReplenishDelay time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ConnectDelayRaw   string `yaml:"connect_delay" toml:"connect_delay"`
	ReplenishDelayRaw string `yaml:"replenish_delay" toml:"replenish_delay"`
}

// AudioConfig describes the PCM format clients stream
type AudioConfig struct {
	// BytesPerSample defaults to 2 (16-bit PCM). Set 1 to time streams by
	// bytes over sample rate alone.
	BytesPerSample int `yaml:"bytes_per_sample" toml:"bytes_per_sample"`
}

// KeepaliveConfig holds client ping timing
type KeepaliveConfig struct {
	Interval    time.Duration `yaml:"-" toml:"-"`
	PongTimeout time.Duration `yaml:"-" toml:"-"`

	IntervalRaw    string `yaml:"interval" toml:"interval"`
	PongTimeoutRaw string `yaml:"pong_timeout" toml:"pong_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	Method       string        `yaml:"method" toml:"method"`
	Auth0Domain  string        `yaml:"auth0_domain" toml:"auth0_domain"`
	Audience     string        `yaml:"audience" toml:"audience"`
	JWTSecret    string        `yaml:"jwt_secret" toml:"jwt_secret"`
	JWKSCacheTTL time.Duration `yaml:"-" toml:"-"`

	JWKSCacheTTLRaw string `yaml:"jwks_cache_ttl" toml:"jwks_cache_ttl"`
}

// DatabaseConfig holds ledger and credential store configuration
type DatabaseConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Driver     string `yaml:"driver" toml:"driver"`
	Path       string `yaml:"path" toml:"path"`
	DSN        string `yaml:"dsn" toml:"dsn"`
	StoreAudio bool   `yaml:"store_audio" toml:"store_audio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" && !c.Tailscale.Enabled {
		c.Server.Addr = "0.0.0.0:8008"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/"
	}
	if c.ASR.Host == "" {
		c.ASR.Host = "127.0.0.1"
	}
	if c.ASR.Port == 0 {
		c.ASR.Port = 7000
	}
	if c.ASR.Scheme == "" {
		c.ASR.Scheme = "wss"
	}
	if c.ASR.SampleRate == 0 {
		c.ASR.SampleRate = 16000
	}
	if c.ASR.PoolSize == 0 {
		c.ASR.PoolSize = 4
	}
	if c.ASR.ConnectDelayRaw == "" {
		c.ASR.ConnectDelay = 200 * time.Millisecond
	}
	if c.ASR.ReplenishDelay == 0 {
		c.ASR.ReplenishDelay = 5 * time.Second
	}
	if c.Audio.BytesPerSample == 0 {
		c.Audio.BytesPerSample = 2
	}
	if c.Keepalive.Interval == 0 {
		c.Keepalive.Interval = 10 * time.Second
	}
	if c.Auth.Method == "" {
		c.Auth.Method = AuthMethodNone
	}
	if c.Auth.JWKSCacheTTL == 0 {
		c.Auth.JWKSCacheTTL = 10 * time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "asr-gateway.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /")
	}

	if c.ASR.PoolSize < 1 {
		return fmt.Errorf("asr.pool_size must be at least 1")
	}
	if c.ASR.SampleRate <= 0 {
		return fmt.Errorf("asr.sample_rate must be positive")
	}
	if c.ASR.URI != "" {
		u, err := url.Parse(c.ASR.URI)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("asr.uri must be a ws:// or wss:// URL")
		}
	} else if c.ASR.Scheme != "ws" && c.ASR.Scheme != "wss" {
		return fmt.Errorf("asr.scheme must be ws or wss")
	}
	if c.Audio.BytesPerSample < 1 {
		return fmt.Errorf("audio.bytes_per_sample must be at least 1")
	}

	if c.Auth.Enabled {
		switch c.Auth.Method {
		case AuthMethodNone, AuthMethodDatabase:
		case AuthMethodAuth0:
			if c.Auth.Auth0Domain == "" || c.Auth.Audience == "" {
				return fmt.Errorf("auth.auth0_domain and auth.audience are required for auth0")
			}
		case AuthMethodJWT:
			if len(c.Auth.JWTSecret) < 32 {
				return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
			}
		default:
			return fmt.Errorf("auth.method %q is not one of none, database, auth0, jwt", c.Auth.Method)
		}
		if c.Auth.Method == AuthMethodDatabase && !c.Database.Enabled {
			return fmt.Errorf("auth.method database requires database.enabled")
		}
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case DriverSQLite, DriverSQLite3:
		case DriverPostgres:
			if c.Database.DSN == "" {
				return fmt.Errorf("database.dsn is required for postgres")
			}
		default:
			return fmt.Errorf("database.driver %q is not one of sqlite, sqlite3, postgres", c.Database.Driver)
		}
	}

	return nil
}

// BackendURI returns the address every pool slot connects to.
func (c *Config) BackendURI() string {
	if c.ASR.URI != "" {
		return c.ASR.URI
	}
	host := net.JoinHostPort(c.ASR.Host, strconv.Itoa(c.ASR.Port))
	return fmt.Sprintf("%s://%s/ws/streamraw/%d", c.ASR.Scheme, host, c.ASR.SampleRate)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"asr.connect_delay", cfg.ASR.ConnectDelayRaw, &cfg.ASR.ConnectDelay},
		{"asr.replenish_delay", cfg.ASR.ReplenishDelayRaw, &cfg.ASR.ReplenishDelay},
		{"keepalive.interval", cfg.Keepalive.IntervalRaw, &cfg.Keepalive.Interval},
		{"keepalive.pong_timeout", cfg.Keepalive.PongTimeoutRaw, &cfg.Keepalive.PongTimeout},
		{"auth.jwks_cache_ttl", cfg.Auth.JWKSCacheTTLRaw, &cfg.Auth.JWKSCacheTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
