// Package config loads and validates the room-engine configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Rate limit scopes.
const (
	ScopeUser     = "user"
	ScopeRoomUser = "room_user"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds the complete engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Database  DatabaseConfig  `yaml:"database"`
	Router    RouterConfig    `yaml:"router"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Transport TransportConfig `yaml:"transport"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Address string `yaml:"address" env:"ROOM_ENGINE_SERVER_ADDRESS"`
	Port    string `yaml:"-"       env:"PORT"`

	// APIKeys protect /api/v1. Entries are "name:key" or a bare key.
	// When empty the API is open.
	APIKeys []string `yaml:"api_keys" env:"ROOM_ENGINE_API_KEYS" envSeparator:","`

	// JWTSecret enables HMAC-signed bearer tokens from JWTIssuer.
	JWTSecret string `yaml:"jwt_secret" env:"ROOM_ENGINE_JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// BotConfig holds the chat account and the rooms to join.
// When Username is set the engine connects at startup.
type BotConfig struct {
	URL      string   `yaml:"url"      env:"ROOM_ENGINE_BOT_URL"`
	Username string   `yaml:"username" env:"ROOM_ENGINE_BOT_USERNAME"`
	Password string   `yaml:"password" env:"ROOM_ENGINE_BOT_PASSWORD"`
	Rooms    []string `yaml:"rooms"    env:"ROOM_ENGINE_BOT_ROOMS" envSeparator:","`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"         env:"ROOM_ENGINE_DATABASE_DRIVER"`
	DSN          string        `yaml:"dsn"            env:"ROOM_ENGINE_DATABASE_DSN"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RouterConfig configures message dispatch.
type RouterConfig struct {
	RateLimit      time.Duration `yaml:"rate_limit"`
	RateLimitScope string        `yaml:"rate_limit_scope"` // "user", "room_user"
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// SessionsConfig configures idle eviction.
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	NotifyOnEvict *bool         `yaml:"notify_on_evict"`
}

// SnapshotConfig configures periodic state snapshots.
type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval"`
	Key      string        `yaml:"key"`
}

// TransportConfig configures the chat connection.
type TransportConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// PluginsConfig configures the built-in handlers.
type PluginsConfig struct {
	Admins   []string `yaml:"admins"`
	Disabled []string `yaml:"disabled"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
	Recent int    `yaml:"recent"` // entries kept for the status endpoint
}

// Load reads configuration from path. An empty path yields defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":5000"
		if cfg.Server.Port != "" {
			cfg.Server.Address = ":" + cfg.Server.Port
		}
	}
	if cfg.Server.JWTIssuer == "" {
		cfg.Server.JWTIssuer = "room-engine"
	}
	if cfg.Bot.URL == "" {
		cfg.Bot.URL = "wss://chatp.net:5333/server"
	}
	cfg.Bot.Rooms = cleanRooms(cfg.Bot.Rooms)

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 15
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 1
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 5 * time.Second
	}

	if cfg.Router.RateLimit == 0 {
		cfg.Router.RateLimit = 800 * time.Millisecond
	}
	if cfg.Router.RateLimitScope == "" {
		cfg.Router.RateLimitScope = ScopeUser
	}
	if cfg.Router.HandlerTimeout == 0 {
		cfg.Router.HandlerTimeout = 5 * time.Second
	}

	if cfg.Sessions.IdleTimeout == 0 {
		cfg.Sessions.IdleTimeout = 90 * time.Second
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = 30 * time.Second
	}
	if cfg.Sessions.NotifyOnEvict == nil {
		notify := true
		cfg.Sessions.NotifyOnEvict = &notify
	}

	if cfg.Snapshot.Interval == 0 {
		cfg.Snapshot.Interval = 120 * time.Second
	}
	if cfg.Snapshot.Key == "" {
		cfg.Snapshot.Key = "active_games"
	}

	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = 10 * time.Second
	}
	if cfg.Transport.WriteTimeout == 0 {
		cfg.Transport.WriteTimeout = 10 * time.Second
	}
	if cfg.Transport.PingInterval == 0 {
		cfg.Transport.PingInterval = 25 * time.Second
	}
	if cfg.Transport.PingTimeout == 0 {
		cfg.Transport.PingTimeout = 10 * time.Second
	}
	if cfg.Transport.ReconnectDelay == 0 {
		cfg.Transport.ReconnectDelay = 5 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Recent == 0 {
		cfg.Log.Recent = 50
	}
}

// cleanRooms trims room names and drops empty entries.
func cleanRooms(rooms []string) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// SplitRooms parses a comma separated room list as typed by an operator.
func SplitRooms(s string) []string {
	return cleanRooms(strings.Split(s, ","))
}

// NotifyOnEvict reports whether evicted sessions announce themselves in the room.
func (c *Config) NotifyOnEvict() bool {
	return c.Sessions.NotifyOnEvict == nil || *c.Sessions.NotifyOnEvict
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for driver "+c.Database.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "database.max_idle_conns must not exceed database.max_open_conns")
	}

	if !slices.Contains([]string{ScopeUser, ScopeRoomUser}, c.Router.RateLimitScope) {
		errs = append(errs, fmt.Sprintf("router.rate_limit_scope %q must be %q or %q",
			c.Router.RateLimitScope, ScopeUser, ScopeRoomUser))
	}

	if c.Sessions.SweepInterval <= 0 || c.Sessions.IdleTimeout <= 0 {
		errs = append(errs, "sessions.idle_timeout and sessions.sweep_interval must be positive")
	}

	if c.Transport.PingTimeout >= c.Transport.PingInterval {
		errs = append(errs, "transport.ping_timeout must be shorter than transport.ping_interval")
	}

	if c.Bot.Username != "" && len(c.Bot.Rooms) == 0 {
		errs = append(errs, "bot.rooms is required when bot.username is set")
	}

	if !strings.HasPrefix(c.Bot.URL, "ws://") && !strings.HasPrefix(c.Bot.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("bot.url %q must be a ws:// or wss:// url", c.Bot.URL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
