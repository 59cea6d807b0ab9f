package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Playback and scheduling
// knobs that the operator changes at runtime (retry counts, the cron
// expression, the confidence floor) live in the settings store instead, so
// they survive without a config file edit; this struct covers everything that
// is fixed for the lifetime of the process.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the embedded browser.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// PlaybackConfig tunes the per-operation timeouts of the step pipeline.
// These are page-behavior tolerances, not retry policy; retry policy is
// operator-facing and stored with the settings.
type PlaybackConfig struct {
	// ProbeTimeout bounds the trivial-expression responsiveness probe run
	// between retry attempts.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	// SettleTimeout bounds the post-click wait for document readyState.
	SettleTimeout time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	// SettleDelay is the fixed pause after readyState reports complete.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// AppearanceTimeout bounds the wait for an input element to resolve.
	// Inputs commonly appear only after async page content loads.
	AppearanceTimeout time.Duration `mapstructure:"appearance_timeout" yaml:"appearance_timeout"`
	// TypingInterval is the fixed pacing between character events on the
	// coordinate fallback path.
	TypingInterval time.Duration `mapstructure:"typing_interval" yaml:"typing_interval"`
	// Highlight briefly outlines the resolved element before acting, for
	// operator visibility in headful runs.
	Highlight bool `mapstructure:"highlight" yaml:"highlight"`
	// ScreenshotDir receives a PNG of the page when a step fails terminally.
	// Empty disables capture.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// DefaultDir returns the default directory for the config file, log file and
// failure screenshots.
func DefaultDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".autoteller"
	}
	return filepath.Join(home, ".autoteller")
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	dir := DefaultDir()

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", filepath.Join(dir, "autoteller.log"))
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.url", "postgres://localhost:5432/autoteller?sslmode=disable")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")

	// -- Playback --
	v.SetDefault("playback.probe_timeout", "2s")
	v.SetDefault("playback.settle_timeout", "5s")
	v.SetDefault("playback.settle_delay", "500ms")
	v.SetDefault("playback.appearance_timeout", "10s")
	v.SetDefault("playback.typing_interval", "75ms")
	v.SetDefault("playback.highlight", true)
	v.SetDefault("playback.screenshot_dir", filepath.Join(dir, "screenshots"))
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is a required configuration field")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the playback timeouts.
func (p *PlaybackConfig) Validate() error {
	if p.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be a positive duration")
	}
	if p.SettleTimeout <= 0 {
		return fmt.Errorf("settle_timeout must be a positive duration")
	}
	if p.AppearanceTimeout <= 0 {
		return fmt.Errorf("appearance_timeout must be a positive duration")
	}
	if p.TypingInterval <= 0 {
		return fmt.Errorf("typing_interval must be a positive duration")
	}
	return nil
}
