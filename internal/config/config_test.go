package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("INVITE_TTL", "")

	cfg := config.Load()

	assert.Equal(t, config.StoreSupabase, cfg.StoreBackend)
	assert.Equal(t, 14*24*time.Hour, cfg.InviteTTL)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("ACTIVATION_LOCK_TTL", "5s")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := config.Load()

	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ActivationLockTTL)
	assert.Equal(t, 3, cfg.MaxRetries, "invalid ints fall back to the default")
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LENDING_TEST_A=from-file\nLENDING_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("LENDING_TEST_A", "from-env")
	t.Setenv("LENDING_TEST_B", "")
	os.Unsetenv("LENDING_TEST_B")

	require.NoError(t, config.LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("LENDING_TEST_B") })

	assert.Equal(t, "from-env", os.Getenv("LENDING_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("LENDING_TEST_B"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.Error(t, config.LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
