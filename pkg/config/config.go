package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// HIREFLOW_API_SERVER_LISTEN overrides api.server.listen.
	EnvPrefix = "HIREFLOW"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultIdentityTTL is how long an account-store identity stays valid.
	DefaultIdentityTTL = "24h"

	// DefaultSessionTimeout is the sliding inactivity window of a console session.
	DefaultSessionTimeout = "30m"

	// DefaultCheckInterval is how often authenticated sessions are checked
	// for inactivity.
	DefaultCheckInterval = "60s"

	// DefaultInitializeTimeout bounds session restoration for a console tab.
	DefaultInitializeTimeout = "5s"

	// DefaultIdleEviction is how long an unauthenticated console tab is
	// kept in memory before it is dropped.
	DefaultIdleEviction = "10m"

	// DefaultLoginRedirect is where clients are sent once a session ends.
	DefaultLoginRedirect = "/login"

	// DefaultAuditQueueSize is the capacity of the audit dispatch queue.
	DefaultAuditQueueSize = 1024

	// DefaultAuditWorkers is the number of audit writers. A single writer
	// keeps entries in enqueue order.
	DefaultAuditWorkers = 1

	// DefaultAuditWriteTimeout bounds a single audit insert.
	DefaultAuditWriteTimeout = "5s"

	// DefaultMetricsPath is where prometheus metrics are exposed.
	DefaultMetricsPath = "/metrics"

	minJWTSecretLength = 32
)

// DefaultAllowedRoles lists the admin roles that may use the console.
var DefaultAllowedRoles = []string{"admin", "super_admin"}

// Config is the root configuration for hireflow-admin.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	API    APIConfig    `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig     `yaml:"auth" mapstructure:"auth"`
	Session  APISessionConfig  `yaml:"session" mapstructure:"session"`
	Database APIDatabaseConfig `yaml:"database" mapstructure:"database"`
	Audit    APIAuditConfig    `yaml:"audit" mapstructure:"audit"`
	Metrics  APIMetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains account store and authorization settings.
type APIAuthConfig struct {
	JWTSecret     string      `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	IdentityTTL   string      `yaml:"identity_ttl" mapstructure:"identity_ttl"`
	AllowedRoles  []string    `yaml:"allowed_roles" mapstructure:"allowed_roles"`
	LoginRedirect string      `yaml:"login_redirect" mapstructure:"login_redirect"`
	Admins        []SeedAdmin `yaml:"admins,omitempty" mapstructure:"admins"`
}

// SeedAdmin defines an admin account created at startup when missing.
type SeedAdmin struct {
	Email    string `yaml:"email" mapstructure:"email"`
	Password string `yaml:"password" mapstructure:"password"`
	FullName string `yaml:"full_name,omitempty" mapstructure:"full_name"`
	Role     string `yaml:"role" mapstructure:"role"`
}

// APISessionConfig contains console session lifecycle settings.
type APISessionConfig struct {
	Timeout           string               `yaml:"timeout" mapstructure:"timeout"`
	CheckInterval     string               `yaml:"check_interval" mapstructure:"check_interval"`
	InitializeTimeout string               `yaml:"initialize_timeout" mapstructure:"initialize_timeout"`
	IdleEviction      string               `yaml:"idle_eviction" mapstructure:"idle_eviction"`
	Storage           SessionStorageConfig `yaml:"storage" mapstructure:"storage"`
}

// SessionStorageConfig selects where tab-scoped session artifacts live.
type SessionStorageConfig struct {
	Driver string             `yaml:"driver" mapstructure:"driver"`
	Redis  RedisStorageConfig `yaml:"redis,omitempty" mapstructure:"redis"`
}

// RedisStorageConfig contains redis connection settings.
type RedisStorageConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// APIAuditConfig configures the best-effort activity log writer.
type APIAuditConfig struct {
	QueueSize    int    `yaml:"queue_size" mapstructure:"queue_size"`
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// APIMetricsConfig configures the prometheus endpoint.
type APIMetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Load reads a configuration file and applies HIREFLOW_* environment
// overrides on top of it. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every overridable key so AutomaticEnv can resolve
// keys that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.auth.requests_per_minute", 10)
	v.SetDefault("api.server.rate_limit.authenticated.requests_per_minute", 300)

	v.SetDefault("api.auth.jwt_secret", "")
	v.SetDefault("api.auth.identity_ttl", DefaultIdentityTTL)
	v.SetDefault("api.auth.allowed_roles", DefaultAllowedRoles)
	v.SetDefault("api.auth.login_redirect", DefaultLoginRedirect)

	v.SetDefault("api.session.timeout", DefaultSessionTimeout)
	v.SetDefault("api.session.check_interval", DefaultCheckInterval)
	v.SetDefault("api.session.initialize_timeout", DefaultInitializeTimeout)
	v.SetDefault("api.session.idle_eviction", DefaultIdleEviction)
	v.SetDefault("api.session.storage.driver", "memory")
	v.SetDefault("api.session.storage.redis.url", "")
	v.SetDefault("api.session.storage.redis.key_prefix", "hireflow:console:")

	v.SetDefault("api.database.driver", "sqlite")
	v.SetDefault("api.database.sqlite.path", "hireflow-admin.db")
	v.SetDefault("api.database.postgres.host", "localhost")
	v.SetDefault("api.database.postgres.port", 5432)
	v.SetDefault("api.database.postgres.user", "")
	v.SetDefault("api.database.postgres.password", "")
	v.SetDefault("api.database.postgres.database", "")
	v.SetDefault("api.database.postgres.ssl_mode", "disable")

	v.SetDefault("api.audit.queue_size", DefaultAuditQueueSize)
	v.SetDefault("api.audit.workers", DefaultAuditWorkers)
	v.SetDefault("api.audit.write_timeout", DefaultAuditWriteTimeout)

	v.SetDefault("api.metrics.enabled", true)
	v.SetDefault("api.metrics.path", DefaultMetricsPath)
}

// applyDefaults fills values that decoding can leave empty, such as
// explicitly blanked keys in the file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Auth.IdentityTTL == "" {
		c.API.Auth.IdentityTTL = DefaultIdentityTTL
	}

	if len(c.API.Auth.AllowedRoles) == 0 {
		c.API.Auth.AllowedRoles = append([]string(nil), DefaultAllowedRoles...)
	}

	if c.API.Auth.LoginRedirect == "" {
		c.API.Auth.LoginRedirect = DefaultLoginRedirect
	}

	if c.API.Session.Timeout == "" {
		c.API.Session.Timeout = DefaultSessionTimeout
	}

	if c.API.Session.CheckInterval == "" {
		c.API.Session.CheckInterval = DefaultCheckInterval
	}

	if c.API.Session.InitializeTimeout == "" {
		c.API.Session.InitializeTimeout = DefaultInitializeTimeout
	}

	if c.API.Session.IdleEviction == "" {
		c.API.Session.IdleEviction = DefaultIdleEviction
	}

	if c.API.Session.Storage.Driver == "" {
		c.API.Session.Storage.Driver = "memory"
	}

	if c.API.Audit.QueueSize <= 0 {
		c.API.Audit.QueueSize = DefaultAuditQueueSize
	}

	if c.API.Audit.Workers <= 0 {
		c.API.Audit.Workers = DefaultAuditWorkers
	}

	if c.API.Audit.WriteTimeout == "" {
		c.API.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}

	if c.API.Metrics.Path == "" {
		c.API.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.API.Auth.JWTSecret == "" {
		return fmt.Errorf("api.auth.jwt_secret is required")
	}

	if len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf(
			"api.auth.jwt_secret must be at least %d characters",
			minJWTSecretLength,
		)
	}

	durations := map[string]string{
		"api.auth.identity_ttl":          c.API.Auth.IdentityTTL,
		"api.session.timeout":            c.API.Session.Timeout,
		"api.session.check_interval":     c.API.Session.CheckInterval,
		"api.session.initialize_timeout": c.API.Session.InitializeTimeout,
		"api.session.idle_eviction":      c.API.Session.IdleEviction,
		"api.audit.write_timeout":        c.API.Audit.WriteTimeout,
	}

	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
		}

		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	switch c.API.Session.Storage.Driver {
	case "memory":
	case "redis":
		if c.API.Session.Storage.Redis.URL == "" {
			return fmt.Errorf("api.session.storage.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf(
			"api.session.storage.driver: unsupported driver %q",
			c.API.Session.Storage.Driver,
		)
	}

	if err := c.API.Database.Validate(); err != nil {
		return err
	}

	for i, admin := range c.API.Auth.Admins {
		if admin.Email == "" || admin.Password == "" {
			return fmt.Errorf("api.auth.admins[%d]: email and password are required", i)
		}

		if !c.API.Auth.IsAllowedRole(admin.Role) {
			return fmt.Errorf(
				"api.auth.admins[%d]: role %q is not in allowed_roles", i, admin.Role,
			)
		}
	}

	return nil
}

// Validate checks the database settings for the selected driver.
func (c *APIDatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("api.database.sqlite.path is required")
		}
	case "postgres":
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("api.database.postgres host and database are required")
		}
	case "":
		return fmt.Errorf("api.database.driver is required")
	default:
		return fmt.Errorf("api.database.driver: unsupported driver %q", c.Driver)
	}

	return nil
}

// IsAllowedRole reports whether role may use the console.
func (c *APIAuthConfig) IsAllowedRole(role string) bool {
	for _, r := range c.AllowedRoles {
		if r == role {
			return true
		}
	}

	return false
}

// IdentityTTLDuration returns the parsed identity lifetime.
func (c *APIAuthConfig) IdentityTTLDuration() time.Duration {
	return durationOr(c.IdentityTTL, 24*time.Hour)
}

// TimeoutDuration returns the parsed inactivity timeout.
func (c *APISessionConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, 30*time.Minute)
}

// CheckIntervalDuration returns the parsed expiry check interval.
func (c *APISessionConfig) CheckIntervalDuration() time.Duration {
	return durationOr(c.CheckInterval, time.Minute)
}

// InitializeTimeoutDuration returns the parsed session restore bound.
func (c *APISessionConfig) InitializeTimeoutDuration() time.Duration {
	return durationOr(c.InitializeTimeout, 5*time.Second)
}

// IdleEvictionDuration returns how long unauthenticated tabs are retained.
func (c *APISessionConfig) IdleEvictionDuration() time.Duration {
	return durationOr(c.IdleEviction, 10*time.Minute)
}

// WriteTimeoutDuration returns the parsed per-entry audit write bound.
func (c *APIAuditConfig) WriteTimeoutDuration() time.Duration {
	return durationOr(c.WriteTimeout, 5*time.Second)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

const redacted = "********"

// Redacted returns a copy of the config with secrets masked, suitable for
// printing.
func (c *Config) Redacted() *Config {
	out := *c

	if out.API.Auth.JWTSecret != "" {
		out.API.Auth.JWTSecret = redacted
	}

	if out.API.Database.Postgres.Password != "" {
		out.API.Database.Postgres.Password = redacted
	}

	if out.API.Session.Storage.Redis.URL != "" {
		out.API.Session.Storage.Redis.URL = redacted
	}

	admins := make([]SeedAdmin, len(c.API.Auth.Admins))
	for i, a := range c.API.Auth.Admins {
		a.Password = redacted
		admins[i] = a
	}

	out.API.Auth.Admins = admins

	return &out
}
