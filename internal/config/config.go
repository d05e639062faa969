package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// Config holds the application configuration
type Config struct {
	WorldName string         `yaml:"world_name"`
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Clock     ClockConfig    `yaml:"clock"`
	Rcon      RconConfig     `yaml:"rcon"`
	Poller    PollerConfig   `yaml:"poller"`
	Auth      AuthConfig     `yaml:"auth"`
	NATS      NATSConfig     `yaml:"nats"`
	Log       LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// StateFile, when set, mirrors every calibration to a JSON state file
	StateFile        string        `yaml:"state_file"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// ClockConfig holds the day/night rate table. Sunrise and sunset are "HH:MM".
type ClockConfig struct {
	DaySecondsPerMinute   float64 `yaml:"day_seconds_per_minute"`
	NightSecondsPerMinute float64 `yaml:"night_seconds_per_minute"`
	Sunrise               string  `yaml:"sunrise"`
	Sunset                string  `yaml:"sunset"`
}

// RconConfig describes the game server's RCON endpoint
type RconConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Sentinel    bool          `yaml:"sentinel"`
}

// PollerConfig controls the periodic loops
type PollerConfig struct {
	StatusCommand   string        `yaml:"status_command"`
	StatusInterval  time.Duration `yaml:"status_interval"`
	ForceRefresh    time.Duration `yaml:"force_refresh"`
	PublishInterval time.Duration `yaml:"publish_interval"` // minimum spacing of status publishes
	PublishBurst    int           `yaml:"publish_burst"`
	PlayerCap       int           `yaml:"player_cap"`
	AnnounceBacklog int           `yaml:"announce_backlog"`
	MinClockTick    time.Duration `yaml:"min_clock_tick"`

	// Resync is disabled while ResyncInterval is zero
	ResyncInterval  time.Duration `yaml:"resync_interval"`
	ResyncCommand   string        `yaml:"resync_command"`
	ResyncPattern   string        `yaml:"resync_pattern"`
	ResyncTolerance int           `yaml:"resync_tolerance"` // in-game minutes
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
	Users         []User        `yaml:"users"`
}

// User is an administrator allowed to recalibrate and run RCON commands
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, see `solunaris hash-password`
	Admin        bool   `yaml:"admin"`
}

// NATSConfig holds event bus settings. An empty URL with Embedded false disables the bus.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedHost  string `yaml:"embedded_host"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Load reads configuration from a YAML file, applies defaults and environment
// overrides, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.WorldName == "" {
		cfg.WorldName = "Solunaris"
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/solunaris/solunaris.db"
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 7 * 24 * time.Hour
	}

	// Measured on the Solunaris server
	if cfg.Clock.DaySecondsPerMinute == 0 {
		cfg.Clock.DaySecondsPerMinute = 4.7666667
	}
	if cfg.Clock.NightSecondsPerMinute == 0 {
		cfg.Clock.NightSecondsPerMinute = 4.045
	}
	if cfg.Clock.Sunrise == "" {
		cfg.Clock.Sunrise = "05:30"
	}
	if cfg.Clock.Sunset == "" {
		cfg.Clock.Sunset = "17:30"
	}

	if cfg.Rcon.Timeout == 0 {
		cfg.Rcon.Timeout = 5 * time.Second
	}
	if cfg.Rcon.IdleTimeout == 0 {
		cfg.Rcon.IdleTimeout = 500 * time.Millisecond
	}

	if cfg.Poller.StatusCommand == "" {
		cfg.Poller.StatusCommand = "ListPlayers"
	}
	if cfg.Poller.StatusInterval == 0 {
		cfg.Poller.StatusInterval = 15 * time.Second
	}
	if cfg.Poller.ForceRefresh == 0 {
		cfg.Poller.ForceRefresh = 10 * time.Minute
	}
	if cfg.Poller.PublishInterval == 0 {
		// Discord allows two channel renames per ten minutes
		cfg.Poller.PublishInterval = 5 * time.Minute
	}
	if cfg.Poller.PublishBurst == 0 {
		cfg.Poller.PublishBurst = 2
	}
	if cfg.Poller.PlayerCap == 0 {
		cfg.Poller.PlayerCap = 42
	}
	if cfg.Poller.AnnounceBacklog == 0 {
		cfg.Poller.AnnounceBacklog = 7
	}
	if cfg.Poller.MinClockTick == 0 {
		cfg.Poller.MinClockTick = 250 * time.Millisecond
	}
	if cfg.Poller.ResyncCommand == "" {
		cfg.Poller.ResyncCommand = "GetGameTime"
	}
	if cfg.Poller.ResyncPattern == "" {
		cfg.Poller.ResyncPattern = `Day\s+(?P<day>\d+),?\s+(?P<hour>\d{1,2}):(?P<minute>\d{2})`
	}
	if cfg.Poller.ResyncTolerance == 0 {
		cfg.Poller.ResyncTolerance = 2
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.NATS.EmbeddedHost == "" {
		cfg.NATS.EmbeddedHost = "127.0.0.1"
	}
	if cfg.NATS.EmbeddedPort == 0 {
		cfg.NATS.EmbeddedPort = 4222
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "solunaris"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// applyEnv lets secrets and deployment-specific values come from the environment
func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SOLUNARIS_RCON_ADDRESS"); v != "" {
		cfg.Rcon.Address = v
	}
	if v := getenv("SOLUNARIS_RCON_PASSWORD"); v != "" {
		cfg.Rcon.Password = v
	}
	if v := getenv("SOLUNARIS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getenv("SOLUNARIS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := getenv("SOLUNARIS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := getenv("SOLUNARIS_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
}

// Rates converts the clock section into a rate table
func (cfg *Config) Rates() (domain.DayNightRate, error) {
	sunrise, err := ParseMinuteOfDay(cfg.Clock.Sunrise)
	if err != nil {
		return domain.DayNightRate{}, fmt.Errorf("%w: sunrise: %w", clock.ErrInvalidConfig, err)
	}
	sunset, err := ParseMinuteOfDay(cfg.Clock.Sunset)
	if err != nil {
		return domain.DayNightRate{}, fmt.Errorf("%w: sunset: %w", clock.ErrInvalidConfig, err)
	}
	return domain.DayNightRate{
		DaySecondsPerMinute:   cfg.Clock.DaySecondsPerMinute,
		NightSecondsPerMinute: cfg.Clock.NightSecondsPerMinute,
		Sunrise:               sunrise,
		Sunset:                sunset,
	}, nil
}

// Validate rejects configurations the process can't start with
func (cfg *Config) Validate() error {
	rates, err := cfg.Rates()
	if err != nil {
		return err
	}
	if err := clock.ValidateRates(rates); err != nil {
		return err
	}
	if cfg.Poller.StatusInterval < 0 || cfg.Poller.ResyncInterval < 0 {
		return fmt.Errorf("%w: poll intervals must not be negative", clock.ErrInvalidConfig)
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q (use console or json)", cfg.Log.Format)
	}
	return nil
}

// ParseMinuteOfDay parses "HH:MM" into a minute-of-day
func ParseMinuteOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}
