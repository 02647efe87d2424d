// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal into them; treat the struct as read-only after load.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Login   LoginConfig   `mapstructure:"login" yaml:"login"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds launch settings for the headless browser instance that
// drives the platform's login page.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	NoSandbox       bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableCache    bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
	// Args holds extra command line flags passed straight to the browser
	// binary, e.g. "--proxy-bypass-list=<-loopback>".
	Args []string `mapstructure:"args" yaml:"args"`
}

// LoginConfig drives the interactive login flow against the platform's HTML
// form. LoginURL and AppURLPattern have no sane defaults and must be set
// before a login can run.
type LoginConfig struct {
	// LoginURL is the platform's HTML login page.
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
	// AppURLPattern is the substring that marks the post-login application
	// URL, used to detect that authentication completed.
	AppURLPattern string `mapstructure:"app_url_pattern" yaml:"app_url_pattern"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout" yaml:"completion_timeout"`
	// SettleDelay is the quiet period after completion during which late
	// token/user responses may still arrive.
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	OverallTimeout time.Duration `mapstructure:"overall_timeout" yaml:"overall_timeout"`
}

// Validate checks that the login flow has everything it needs to run.
func (l LoginConfig) Validate() error {
	if l.LoginURL == "" {
		return fmt.Errorf("login.login_url is required")
	}
	if l.AppURLPattern == "" {
		return fmt.Errorf("login.app_url_pattern is required")
	}
	return nil
}

// CaptureConfig tunes the passive network interception that recovers the
// bearer token and user identity during login.
type CaptureConfig struct {
	// TokenURLFragment matches responses from the platform's token endpoint.
	TokenURLFragment string `mapstructure:"token_url_fragment" yaml:"token_url_fragment"`
	// UserURLFragment matches responses from the platform's user endpoint.
	UserURLFragment string `mapstructure:"user_url_fragment" yaml:"user_url_fragment"`
	// DefaultTokenTTL is applied when the captured token carries no usable
	// expiry of its own.
	DefaultTokenTTL time.Duration `mapstructure:"default_token_ttl" yaml:"default_token_ttl"`
	// UseProxyFallback enables the MITM capture proxy for environments where
	// devtools response bodies are unavailable.
	UseProxyFallback bool   `mapstructure:"use_proxy_fallback" yaml:"use_proxy_fallback"`
	ProxyListenAddr  string `mapstructure:"proxy_listen_addr" yaml:"proxy_listen_addr"`
}

// HTTPConfig tunes the authenticated HTTP execution engine.
type HTTPConfig struct {
	// BaseURL is the root of the platform's REST API.
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	RetryBackoffFactor float64       `mapstructure:"retry_backoff_factor" yaml:"retry_backoff_factor"`
	RetryJitter        bool          `mapstructure:"retry_jitter" yaml:"retry_jitter"`
	RetryableStatuses  []int         `mapstructure:"retryable_statuses" yaml:"retryable_statuses"`

	// RateLimitRPS caps outbound request rate; zero disables the limiter.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	UserAgent    string  `mapstructure:"user_agent" yaml:"user_agent"`
}

// StoreConfig selects and configures the session persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// FilePath is the session file location for the file backend. Empty
	// means the per-user default under the home directory.
	FilePath    string `mapstructure:"file_path" yaml:"file_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
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

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fitbridge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.launch_timeout", "45s")
	v.SetDefault("browser.debug", false)

	// -- Login flow --
	v.SetDefault("login.navigation_timeout", "60s")
	v.SetDefault("login.element_timeout", "10s")
	v.SetDefault("login.completion_timeout", "90s")
	v.SetDefault("login.settle_delay", "2s")
	v.SetDefault("login.overall_timeout", "3m")

	// -- Capture --
	v.SetDefault("capture.token_url_fragment", "auth/token")
	v.SetDefault("capture.user_url_fragment", "api/user")
	v.SetDefault("capture.default_token_ttl", "24h")
	v.SetDefault("capture.use_proxy_fallback", false)
	v.SetDefault("capture.proxy_listen_addr", "127.0.0.1:0")

	// -- HTTP --
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_base_delay", "500ms")
	v.SetDefault("http.retry_max_delay", "10s")
	v.SetDefault("http.retry_backoff_factor", 2.0)
	v.SetDefault("http.retry_jitter", true)
	v.SetDefault("http.retryable_statuses", []int{408, 429, 500, 502, 503, 504})
	v.SetDefault("http.rate_limit_rps", 0.0)
	v.SetDefault("http.user_agent", "fitbridge/1.0")

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.file_path", "")
	v.SetDefault("store.postgres_dsn", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("store.postgres_dsn", "FITBRIDGE_POSTGRES_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values. Login settings are
// validated separately at login time since read-only commands can run
// without them.
func (c *Config) Validate() error {
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must not be negative")
	}
	if c.HTTP.RetryBackoffFactor < 1.0 {
		return fmt.Errorf("http.retry_backoff_factor must be at least 1.0")
	}
	if c.HTTP.RetryBaseDelay <= 0 || c.HTTP.RetryMaxDelay <= 0 {
		return fmt.Errorf("http retry delays must be positive durations")
	}
	if c.HTTP.RetryMaxDelay < c.HTTP.RetryBaseDelay {
		return fmt.Errorf("http.retry_max_delay must not be below http.retry_base_delay")
	}
	if c.Capture.DefaultTokenTTL <= 0 {
		return fmt.Errorf("capture.default_token_ttl must be a positive duration")
	}
	switch c.Store.Backend {
	case "memory", "file":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, file, postgres (got %q)", c.Store.Backend)
	}
	return nil
}

// SessionFilePath resolves the session file location for the file backend,
// expanding the per-user default when no explicit path is configured.
func (c *Config) SessionFilePath() (string, error) {
	if c.Store.FilePath != "" {
		return c.Store.FilePath, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".fitbridge", "session.json"), nil
}

// RetryableStatusSet converts the configured status list into a lookup set.
func (h HTTPConfig) RetryableStatusSet() map[int]bool {
	set := make(map[int]bool, len(h.RetryableStatuses))
	for _, status := range h.RetryableStatuses {
		set[status] = true
	}
	return set
}

// Redacted returns a single-line description of the config safe for logs.
func (c *Config) Redacted() string {
	var b strings.Builder
	fmt.Fprintf(&b, "login_url=%s ", c.Login.LoginURL)
	fmt.Fprintf(&b, "api_base=%s ", c.HTTP.BaseURL)
	fmt.Fprintf(&b, "store=%s", c.Store.Backend)
	if c.Store.PostgresDSN != "" {
		b.WriteString(" postgres_dsn=[redacted]")
	}
	return b.String()
}
