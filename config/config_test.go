package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TIKTOK_CLIENT_KEY", "ck")
	t.Setenv("TIKTOK_CLIENT_SECRET", "cs")
}

func TestParse_Defaults(t *testing.T) {
	setRequired(t)

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 3456, c.Port)
	assert.Equal(t, ":3456", c.Addr())
	assert.Equal(t, "tokentest", c.State)
	assert.Equal(t, "/callback/", c.CallbackPath)
	assert.Equal(t, "/tiktok-api-features/callback/", c.PagesCallbackPath)
	assert.Equal(t, 24*time.Hour, c.SessionLifetime)
	assert.Equal(t, 6*time.Hour, c.SessionExtend)
	assert.Equal(t, "RBS", c.SessionCookieName)
	assert.Equal(t, 5, c.MaxAccounts)
	assert.Equal(t, 30*time.Second, c.HTTPTimeout)
	assert.Equal(t, 20, c.MaxVideoCount)
	assert.Equal(t, "act.", c.TokenPrefix)
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.InDelta(t, 0.1, c.CacheSweepProbability, 1e-9)
	assert.Equal(t, zerolog.InfoLevel, c.Level())
	assert.Empty(t, c.Scopes)
}

func TestParse_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_ACCOUNTS", "2")
	t.Setenv("TIKTOK_SCOPES", "user.info.basic,video.list")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SESSION_COOKIE_NAME", "board")
	t.Setenv("SESSION_EXTEND_THRESHOLD", "1h")

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 2, c.MaxAccounts)
	assert.Equal(t, []string{"user.info.basic", "video.list"}, c.Scopes)
	assert.Equal(t, zerolog.DebugLevel, c.Level())
	assert.Equal(t, "board", c.SessionCookieName)
	assert.Equal(t, time.Hour, c.SessionExtend)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing client key": {"TIKTOK_CLIENT_KEY": ""},
		"bad port":           {"PORT": "0"},
		"too many videos":    {"MAX_VIDEO_COUNT": "50"},
		"bad level":          {"LOG_LEVEL": "loud"},
		"bad probability":    {"CACHE_SWEEP_PROBABILITY": "2"},
		"relative callback":  {"CALLBACK_PATH": "callback"},
		"short session key":  {"SESSION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
		"bad cookie name":    {"SESSION_COOKIE_NAME": "a;b"},
		"extend > lifetime":  {"SESSION_EXTEND_THRESHOLD": "48h"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestSessionKeyBytes(t *testing.T) {
	key := make([]byte, SessionKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c := &Config{SessionKey: base64.StdEncoding.EncodeToString(key)}
	got, err := c.SessionKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	c = &Config{}
	a, err := c.SessionKeyBytes()
	require.NoError(t, err)
	b, err := c.SessionKeyBytes()
	require.NoError(t, err)
	assert.Len(t, a, SessionKeySize)
	assert.NotEqual(t, a, b)

	c = &Config{SessionKey: "not base64!"}
	_, err = c.SessionKeyBytes()
	assert.ErrorIs(t, err, ErrSessionKey)
}

func TestLoad_DotEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=FromFile\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APP_NAME") })

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "FromFile", c.AppName)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
