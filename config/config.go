// Package config loads the server configuration from the environment and an
// optional .env file.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// SessionKeySize is the required length of the decoded SESSION_KEY.
const SessionKeySize = 32

var ErrSessionKey = errors.New("config: SESSION_KEY must be base64 of 32 bytes")

type Config struct {
	AppName string `env:"APP_NAME" envDefault:"ReelBoard"`
	Port    int    `env:"PORT" envDefault:"3456" validate:"min=1,max=65535"`

	ClientKey    string   `env:"TIKTOK_CLIENT_KEY" validate:"required"`
	ClientSecret string   `env:"TIKTOK_CLIENT_SECRET" validate:"required"`
	AuthURL      string   `env:"TIKTOK_AUTH_URL" envDefault:"https://www.tiktok.com/v2/auth/authorize" validate:"url"`
	TokenURL     string   `env:"TIKTOK_TOKEN_URL" envDefault:"https://open.tiktokapis.com/v2/oauth/token/" validate:"url"`
	APIBaseURL   string   `env:"TIKTOK_API_BASE_URL" envDefault:"https://open.tiktokapis.com" validate:"url"`
	Scopes       []string `env:"TIKTOK_SCOPES" envSeparator:","`
	State        string   `env:"OAUTH_STATE" envDefault:"tokentest" validate:"required"`

	CallbackPath      string `env:"CALLBACK_PATH" envDefault:"/callback/" validate:"startswith=/"`
	PagesHostPattern  string `env:"PAGES_HOST_PATTERN" envDefault:"github.io"`
	PagesCallbackPath string `env:"PAGES_CALLBACK_PATH" envDefault:"/tiktok-api-features/callback/" validate:"startswith=/"`
	TrustForwarded    bool   `env:"TRUST_FORWARDED_PROTO" envDefault:"false"`

	// SessionKey is base64; empty means a random key per process.
	SessionKey      string        `env:"SESSION_KEY"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"24h" validate:"gt=0"`
	// SessionExtend is the remaining lifetime below which an active session
	// is extended by another SessionLifetime.
	SessionExtend     time.Duration `env:"SESSION_EXTEND_THRESHOLD" envDefault:"6h" validate:"gt=0,ltefield=SessionLifetime"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"RBS" validate:"required,alphanum"`
	CookieSecure      bool          `env:"COOKIE_SECURE" envDefault:"false"`
	MaxAccounts       int           `env:"MAX_ACCOUNTS" envDefault:"5" validate:"min=1"`

	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	MaxVideoCount int           `env:"MAX_VIDEO_COUNT" envDefault:"20" validate:"min=1,max=20"`
	TokenPrefix   string        `env:"TOKEN_PREFIX" envDefault:"act."`

	CacheTTL              time.Duration `env:"CACHE_TTL" envDefault:"5m" validate:"gt=0"`
	CacheSweepProbability float64       `env:"CACHE_SWEEP_PROBABILITY" envDefault:"0.1" validate:"gte=0,lte=1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`
}

// Load reads .env files if present, then the environment.
func Load(filenames ...string) (*Config, error) {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads and validates the configuration from the environment.
func Parse() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := c.SessionKeyBytes(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SessionKeyBytes decodes SessionKey, or generates a random key when it is
// empty. Random keys invalidate every session on restart.
func (c *Config) SessionKeyBytes() ([]byte, error) {
	if c.SessionKey == "" {
		k := make([]byte, SessionKeySize)
		if _, err := rand.Read(k); err != nil {
			return nil, err
		}
		return k, nil
	}
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.SessionKey))
	if err != nil || len(k) != SessionKeySize {
		return nil, ErrSessionKey
	}
	return k, nil
}

// Level returns the zerolog level for LogLevel.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
