package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CALENDAR"
	defaultHTTPAddress      = "0.0.0.0:8001"
	defaultDatabasePath     = "calendar.db"
	defaultLogLevel         = "info"
	defaultFrontendURL      = "http://localhost:3000"
	defaultTimezone         = "America/New_York"
	defaultMaxEvents        = 10
	defaultUpstreamTimeoutS = 10
)

// AppConfig captures runtime configuration for the calendar API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	FrontendURL        string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	PropelAuthURL      string
	PropelAuthAPIKey   string
	DefaultTimezone    string
	MaxCalendarEvents  int64
	UpstreamTimeout    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("frontend.url", defaultFrontendURL)
	configViper.SetDefault("calendar.default_timezone", defaultTimezone)
	configViper.SetDefault("calendar.max_events", defaultMaxEvents)
	configViper.SetDefault("upstream.timeout_seconds", defaultUpstreamTimeoutS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		FrontendURL:        configViper.GetString("frontend.url"),
		GoogleClientID:     configViper.GetString("google.client_id"),
		GoogleClientSecret: configViper.GetString("google.client_secret"),
		GoogleRedirectURI:  configViper.GetString("google.redirect_uri"),
		PropelAuthURL:      configViper.GetString("propelauth.url"),
		PropelAuthAPIKey:   configViper.GetString("propelauth.api_key"),
		DefaultTimezone:    configViper.GetString("calendar.default_timezone"),
		MaxCalendarEvents:  configViper.GetInt64("calendar.max_events"),
		UpstreamTimeout:    time.Duration(configViper.GetInt("upstream.timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	if strings.TrimSpace(c.GoogleRedirectURI) == "" {
		return fmt.Errorf("google.redirect_uri is required")
	}
	if strings.TrimSpace(c.PropelAuthURL) == "" {
		return fmt.Errorf("propelauth.url is required")
	}
	if strings.TrimSpace(c.PropelAuthAPIKey) == "" {
		return fmt.Errorf("propelauth.api_key is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be positive")
	}
	return nil
}
