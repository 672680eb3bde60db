package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, 50, cfg.HistoryConfig.DefaultLimit)
	assert.Equal(t, 200, cfg.HistoryConfig.MaxLimit)
	assert.Equal(t, 5000, cfg.ChatConfig.MaxContentLength)
	assert.Equal(t, "author_or_owner", cfg.ChatConfig.DeletePolicy)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, 5*time.Second, cfg.AuthConfig.VerifyTimeout)
	assert.Equal(t, []string{"*"}, cfg.ServerConfig.AllowedOrigins)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.toml"), []byte(`
log_level = "debug"

[auth]
jwt_secret = "s3cret"
verify_timeout = "2s"

[[auth.oidc]]
name = "google"
provider_url = "https://accounts.google.com"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.toml"), []byte(`
[persistence]
type = "sqlite"
dsn = "chat.db"

[history]
max_limit = 100

[chat]
delete_policy = "anyone"
`), 0o600))

	cfg, err := ReadConfiguration(dir, GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "s3cret", cfg.AuthConfig.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.AuthConfig.VerifyTimeout)
	require.Len(t, cfg.AuthConfig.OIDCConfigs, 1)
	assert.Equal(t, "sub", cfg.AuthConfig.OIDCConfigs[0].UserClaim)
	assert.Equal(t, "sqlite", cfg.PersistenceConfig.Type)
	assert.Equal(t, "chat.db", cfg.PersistenceConfig.DSN)
	assert.Equal(t, 100, cfg.HistoryConfig.MaxLimit)
	assert.Equal(t, "anyone", cfg.ChatConfig.DeletePolicy)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LSROOMS_AUTH_JWT_SECRET", "from-env")
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthConfig.JWTSecret)
}

func TestFlagsAreBound(t *testing.T) {
	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--log-level", "trace"}))
	cfg, err := ReadConfiguration("", flagSet)
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestClampLimit(t *testing.T) {
	h := HistoryConfig{DefaultLimit: 50, MaxLimit: 200}
	assert.Equal(t, 50, h.ClampLimit(0))
	assert.Equal(t, 50, h.ClampLimit(-3))
	assert.Equal(t, 10, h.ClampLimit(10))
	assert.Equal(t, 200, h.ClampLimit(1000))
}

func TestMissingConfigPath(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}
