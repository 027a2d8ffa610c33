// Package config provides configuration management for the SSO ticket
// kernel. It supports environment variable-based configuration with
// validation and default values for the server, ticket stores, ticket
// lifetimes and the authentication policy chain, with optional YAML
// overlays for per-environment operational tuning.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// MinSweepInterval guards against sweep loops tight enough to
	// saturate a backend with full scans.
	MinSweepInterval = time.Second
)

// Config represents the complete configuration of the ticket kernel,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis ticket store configuration.
	Redis RedisConfig `envconfig:"REDIS"`
	// Database contains PostgreSQL ticket store configuration.
	Database DatabaseConfig `envconfig:"POSTGRES"`
	// Ticket contains ticket lifetime and registry settings.
	Ticket TicketConfig `envconfig:"TICKET"`
	// Policy contains authentication policy chain settings.
	Policy PolicyConfig `envconfig:"POLICY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings
// and timeouts.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8080"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseConfig contains PostgreSQL ticket store configuration including
// connection pool settings.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `envconfig:"HOST"               default:"localhost"`
	// Port is the PostgreSQL server port.
	Port int `envconfig:"PORT"               default:"5432"`
	// Database is the PostgreSQL database name.
	Database string `envconfig:"DB"                 default:"sso_kernel"`
	// User is the database username (TICKET_DB_USER from env vars).
	User string `envconfig:"TICKET_DB_USER"`
	// Password is the database password (TICKET_DB_PASSWORD from env vars).
	Password string `envconfig:"TICKET_DB_PASSWORD"`
	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string `envconfig:"SSL_MODE"           default:"require"`
	// MaxConn is the maximum number of connections in the pool.
	MaxConn int32 `envconfig:"MAX_CONN"           default:"25"`
	// MinConn is the minimum number of connections in the pool.
	MinConn int32 `envconfig:"MIN_CONN"           default:"5"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"  default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"    default:"10s"`
}

// TicketConfig contains ticket lifetime, identifier and registry
// settings. Durations map one-to-one onto the expiration policies the
// catalog hands each issued ticket.
type TicketConfig struct {
	// GrantingIdleTimeout is the sliding inactivity window of a session
	// ticket. Each validated use pushes expiration out by this much.
	GrantingIdleTimeout time.Duration `envconfig:"GRANTING_IDLE_TIMEOUT"       default:"2h"`
	// GrantingMaxLifetime is the hard ceiling of a session ticket,
	// measured from creation regardless of activity.
	GrantingMaxLifetime time.Duration `envconfig:"GRANTING_MAX_LIFETIME"       default:"8h"`
	// RememberMeLifetime replaces the sliding window with a long fixed
	// ceiling for sessions authenticated with remember-me. Zero disables
	// remember-me handling.
	RememberMeLifetime time.Duration `envconfig:"REMEMBER_ME_LIFETIME"        default:"336h"`
	// ServiceLifetime is the validity window of a service ticket.
	ServiceLifetime time.Duration `envconfig:"SERVICE_LIFETIME"            default:"10s"`
	// ServiceMaxUses is the number of validations a service ticket
	// survives. One means validate-and-consume.
	ServiceMaxUses int `envconfig:"SERVICE_MAX_USES"            default:"1"`
	// ProxyGrantingMaxLifetime is the hard ceiling of a proxy-granting ticket.
	ProxyGrantingMaxLifetime time.Duration `envconfig:"PROXY_GRANTING_MAX_LIFETIME" default:"8h"`
	// ProxyLifetime is the validity window of a proxy ticket.
	ProxyLifetime time.Duration `envconfig:"PROXY_LIFETIME"              default:"10s"`
	// ProxyMaxUses is the number of validations a proxy ticket survives.
	ProxyMaxUses int `envconfig:"PROXY_MAX_USES"              default:"1"`
	// TransientLifetime is the validity window of a transient session ticket.
	TransientLifetime time.Duration `envconfig:"TRANSIENT_LIFETIME"          default:"5m"`
	// SweepInterval is the period of the expired-ticket sweeper.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL"              default:"1m"`
	// IDSuffix tags issued identifiers with the producing node, for
	// traceability in clustered deployments. Empty generates a random
	// per-process suffix.
	IDSuffix string `envconfig:"ID_SUFFIX"`
	// Store selects the default ticket store backend (memory, redis, postgres).
	Store string `envconfig:"STORE"                       default:"memory"`
}

// PolicyConfig contains authentication policy chain settings.
type PolicyConfig struct {
	// Mode selects how the configured policies combine: "all" demands
	// every policy is satisfied, "any" accepts when at least one is.
	Mode string `envconfig:"MODE"                 default:"all"`
	// RequiredAttributes lists principal attributes that must be present,
	// as name=value pairs. A bare name requires presence with any value.
	RequiredAttributes []string `envconfig:"REQUIRED_ATTRIBUTES"`
	// SessionLimit caps concurrent active sessions per principal. Zero
	// disables the limit.
	SessionLimit int `envconfig:"SESSION_LIMIT"        default:"0"`
	// RequireAllHandlers demands every attempted credential handler
	// succeeded, instead of at least one.
	RequireAllHandlers bool `envconfig:"REQUIRE_ALL_HANDLERS" default:"false"`
	// RemoteURL is the endpoint of an external policy service consulted
	// per authentication. Empty disables the remote policy.
	RemoteURL string `envconfig:"REMOTE_URL"`
	// RemoteBasicAuthUser is the basic-auth username for the remote policy
	// endpoint.
	RemoteBasicAuthUser string `envconfig:"REMOTE_BASIC_AUTH_USER"`
	// RemoteBasicAuthPassword is the basic-auth password for the remote
	// policy endpoint.
	RemoteBasicAuthPassword string `envconfig:"REMOTE_BASIC_AUTH_PASSWORD"`
	// RemoteHeaders are extra headers sent to the remote policy endpoint,
	// as name=value pairs.
	RemoteHeaders []string `envconfig:"REMOTE_HEADERS"`
	// RemoteTimeout bounds each remote policy call.
	RemoteTimeout time.Duration `envconfig:"REMOTE_TIMEOUT"       default:"5s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"  default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT" default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT" default:"stdout"`
}

// Load reads configuration from environment variables, applies the
// optional YAML overlay for the current environment and returns a
// validated Config instance.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SSO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := applyYAMLOverlay(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply YAML overlay: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs validation of all configuration values, ensuring they
// meet operational requirements.
func (c *Config) Validate() error {
	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	switch c.Ticket.Store {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported ticket store: %s", c.Ticket.Store)
	}

	if c.Ticket.GrantingIdleTimeout <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.Ticket.GrantingMaxLifetime < c.Ticket.GrantingIdleTimeout {
		return errors.New("session max lifetime must be at least the idle timeout")
	}
	if c.Ticket.ServiceLifetime <= 0 {
		return errors.New("service ticket lifetime must be positive")
	}
	if c.Ticket.ServiceMaxUses < 1 {
		return errors.New("service ticket max uses must be at least 1")
	}
	if c.Ticket.ProxyMaxUses < 1 {
		return errors.New("proxy ticket max uses must be at least 1")
	}
	if c.Ticket.SweepInterval < MinSweepInterval {
		return fmt.Errorf("sweep interval must be at least %s", MinSweepInterval)
	}

	switch c.Policy.Mode {
	case "all", "any":
	default:
		return fmt.Errorf("unsupported policy mode: %s", c.Policy.Mode)
	}
	if c.Policy.SessionLimit < 0 {
		return errors.New("session limit must not be negative")
	}
	if c.Policy.RemoteURL != "" && c.Policy.RemoteTimeout <= 0 {
		return errors.New("remote policy timeout must be positive")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DSN returns the PostgreSQL connection string (Data Source Name).
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host,
		d.Port,
		d.Database,
		d.User,
		d.Password,
		d.SSLMode,
	)
}

// IsDatabaseConfigured returns true if database user and password are
// configured.
func (c *Config) IsDatabaseConfigured() bool {
	return c.Database.User != "" && c.Database.Password != ""
}
