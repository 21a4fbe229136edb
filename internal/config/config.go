// Package config loads the back-office client configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfig is wrapped by every validation failure.
var ErrConfig = errors.New("config: invalid configuration")

type Config struct {
	// APIURL is the REST root, e.g. http://localhost:8080/api/v1.
	APIURL string `mapstructure:"BACKOFFICE_API_URL" validate:"required,url"`
	// PushURL is the WebSocket push endpoint, e.g. ws://localhost:8080/ws.
	PushURL string `mapstructure:"BACKOFFICE_PUSH_URL" validate:"required,url"`
	// PushOrigin is sent as the Origin header on the push handshake.
	PushOrigin string `mapstructure:"BACKOFFICE_PUSH_ORIGIN"`

	LogLevel  string `mapstructure:"BACKOFFICE_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"BACKOFFICE_LOG_FORMAT" validate:"oneof=json pretty"`

	// StorageDSN selects the Postgres session storage; empty keeps it in memory.
	StorageDSN   string `mapstructure:"BACKOFFICE_STORAGE_DSN"`
	StorageScope string `mapstructure:"BACKOFFICE_STORAGE_SCOPE" validate:"required"`

	PollInterval   time.Duration `mapstructure:"BACKOFFICE_POLL_INTERVAL" validate:"gt=0"`
	MinInterval    time.Duration `mapstructure:"BACKOFFICE_VALIDATE_MIN_INTERVAL" validate:"gte=0"`
	InitialDelay   time.Duration `mapstructure:"BACKOFFICE_VALIDATE_INITIAL_DELAY" validate:"gt=0"`
	LogoutDelay    time.Duration `mapstructure:"BACKOFFICE_LOGOUT_DELAY" validate:"gt=0"`
	ReconnectDelay time.Duration `mapstructure:"BACKOFFICE_PUSH_RECONNECT_DELAY" validate:"gt=0"`
	IntentTTL      time.Duration `mapstructure:"BACKOFFICE_LOGOUT_INTENT_TTL" validate:"gt=0"`
	HTTPTimeout    time.Duration `mapstructure:"BACKOFFICE_HTTP_TIMEOUT" validate:"gt=0"`

	TrustSessionID bool `mapstructure:"BACKOFFICE_TRUST_SESSION_ID"`

	// MetricsAddr serves /metrics when set, e.g. :9102.
	MetricsAddr string `mapstructure:"BACKOFFICE_METRICS_ADDR"`

	DevServerAddr   string `mapstructure:"BACKOFFICE_DEVSERVER_ADDR"`
	DevServerSecret string `mapstructure:"BACKOFFICE_DEVSERVER_SECRET"`
}

var defaults = map[string]any{
	"BACKOFFICE_API_URL":                "http://localhost:8080/api/v1",
	"BACKOFFICE_PUSH_URL":               "ws://localhost:8080/ws",
	"BACKOFFICE_PUSH_ORIGIN":            "http://localhost",
	"BACKOFFICE_LOG_LEVEL":              "info",
	"BACKOFFICE_LOG_FORMAT":             "json",
	"BACKOFFICE_STORAGE_DSN":            "",
	"BACKOFFICE_STORAGE_SCOPE":          "default",
	"BACKOFFICE_POLL_INTERVAL":          "60s",
	"BACKOFFICE_VALIDATE_MIN_INTERVAL":  "10s",
	"BACKOFFICE_VALIDATE_INITIAL_DELAY": "3s",
	"BACKOFFICE_LOGOUT_DELAY":           "1s",
	"BACKOFFICE_PUSH_RECONNECT_DELAY":   "5s",
	"BACKOFFICE_LOGOUT_INTENT_TTL":      "10s",
	"BACKOFFICE_HTTP_TIMEOUT":           "15s",
	"BACKOFFICE_TRUST_SESSION_ID":       false,
	"BACKOFFICE_METRICS_ADDR":           "",
	"BACKOFFICE_DEVSERVER_ADDR":         ":8080",
	"BACKOFFICE_DEVSERVER_SECRET":       "dev-only-secret-change-me",
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrConfig, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if !strings.HasPrefix(c.PushURL, "ws://") && !strings.HasPrefix(c.PushURL, "wss://") {
		return fmt.Errorf("%w: BACKOFFICE_PUSH_URL must use ws or wss", ErrConfig)
	}
	return nil
}
