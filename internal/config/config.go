// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Pacing   PacingConfig   `mapstructure:"pacing" yaml:"pacing"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Scoring  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Hunt     HuntConfig     `mapstructure:"hunt" yaml:"hunt"`
}

// LoggerConfig controls the structured logger (level, encoding, rotation).
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AuthSecret signs and verifies control-surface bearer tokens.
	// Empty disables authentication (local development only).
	AuthSecret string `mapstructure:"auth_secret" yaml:"auth_secret"`
}

// BrowserConfig controls the managed Chrome process.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// PacingConfig shapes the randomized inter-action delay applied by the
// operation gate. Delays are drawn from a normal distribution so the action
// cadence does not look machine-generated to the target site.
type PacingConfig struct {
	MeanDelay   time.Duration `mapstructure:"mean_delay" yaml:"mean_delay"`
	StdDevDelay time.Duration `mapstructure:"stddev_delay" yaml:"stddev_delay"`
	// Debug disables pacing entirely for fast local iteration.
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval" yaml:"pause_poll_interval"`
}

// SessionConfig bounds session lifecycle behavior.
type SessionConfig struct {
	// StopTimeout is how long a stop caller waits for teardown before the
	// call returns with a timeout result. Teardown keeps running regardless.
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// ActivityCapacity caps the per-session observer message buffer.
	ActivityCapacity int `mapstructure:"activity_capacity" yaml:"activity_capacity"`
	// Budget is the optional wall-clock limit for a whole run. Zero means
	// unlimited. Expiry goes through the normal stop path.
	Budget time.Duration `mapstructure:"budget" yaml:"budget"`
}

// DatabaseConfig holds the PostgreSQL connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ScoringConfig configures the remote decision engine.
type ScoringConfig struct {
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// HuntConfig bounds a single hunt run.
type HuntConfig struct {
	MaxItems int `mapstructure:"max_items" yaml:"max_items"`
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "huntr-cli")
	v.SetDefault("logger.log_file", "huntr.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8750")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.action_timeout", "30s")

	// -- Pacing --
	v.SetDefault("pacing.mean_delay", "1s")
	v.SetDefault("pacing.stddev_delay", "500ms")
	v.SetDefault("pacing.debug", false)
	v.SetDefault("pacing.pause_poll_interval", "1s")

	// -- Session --
	v.SetDefault("session.stop_timeout", "10s")
	v.SetDefault("session.activity_capacity", 10000)
	v.SetDefault("session.budget", "0s")

	// -- Scoring --
	v.SetDefault("scoring.model", "gemini-2.5-flash")
	v.SetDefault("scoring.timeout", "45s")
	v.SetDefault("scoring.max_retries", 2)
	v.SetDefault("scoring.requests_per_minute", 30.0)

	// -- Hunt --
	v.SetDefault("hunt.max_items", 50)
	v.SetDefault("hunt.max_pages", 10)
}

// NewDefaultConfig returns a Config populated entirely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("scoring.api_key", "HUNTR_SCORING_API_KEY")
	v.BindEnv("database.url", "HUNTR_DATABASE_URL")
	v.BindEnv("server.auth_secret", "HUNTR_AUTH_SECRET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load secrets if Unmarshal didn't pick them up.
	if cfg.Scoring.APIKey == "" {
		cfg.Scoring.APIKey = os.Getenv("HUNTR_SCORING_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot possibly work.
func (c *Config) Validate() error {
	if c.Session.StopTimeout <= 0 {
		return fmt.Errorf("session.stop_timeout must be positive, got %s", c.Session.StopTimeout)
	}
	if c.Session.ActivityCapacity <= 0 {
		return fmt.Errorf("session.activity_capacity must be positive, got %d", c.Session.ActivityCapacity)
	}
	if c.Pacing.MeanDelay < 0 || c.Pacing.StdDevDelay < 0 {
		return fmt.Errorf("pacing delays must not be negative")
	}
	if c.Pacing.PausePollInterval <= 0 {
		return fmt.Errorf("pacing.pause_poll_interval must be positive, got %s", c.Pacing.PausePollInterval)
	}
	if c.Session.Budget < 0 {
		return fmt.Errorf("session.budget must not be negative, got %s", c.Session.Budget)
	}
	return nil
}
