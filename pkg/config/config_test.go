package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err, "a missing config file falls back to defaults")

	assert.Equal(t, "GATED", cfg.Memory.Mode)
	assert.Equal(t, "primary", cfg.Memory.UserID)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 25, cfg.Memory.SearchLimit)
	assert.Equal(t, 0.65, cfg.Memory.Threshold)
	assert.Equal(t, 8484, cfg.API.Port)
	assert.Equal(t, "4869", cfg.API.PIN)
	assert.Equal(t, "0 0 * * *", cfg.Status.ReportCron)
	assert.Equal(t, 8, cfg.Status.TimezoneOffsetHours)
	assert.Equal(t, "gemini-3-flash-preview", cfg.Providers.Gemini.Model)
	assert.False(t, strings.HasPrefix(cfg.Memory.Workspace, "~"), "workspace must be expanded")
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"memory": {"mode": "NORMAL", "user_id": "alex"},
		"api": {"port": 9000}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "NORMAL", cfg.Memory.Mode)
	assert.Equal(t, "alex", cfg.Memory.UserID)
	assert.Equal(t, 9000, cfg.API.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, "4869", cfg.API.PIN)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"memory": {"mode": "NORMAL"}}`), 0o644))

	t.Setenv("BMO_MEMORY_MODE", "GATED")
	t.Setenv("BMO_MEMORY_THRESHOLD", "0.8")
	t.Setenv("BMO_API_PIN", "1234")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "GATED", cfg.Memory.Mode, "env overrides the file")
	assert.Equal(t, 0.8, cfg.Memory.Threshold)
	assert.Equal(t, "1234", cfg.API.PIN)
}

func TestLoadGeminiKeyFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "conventional-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "conventional-key", cfg.Providers.Gemini.APIKey)
}

func TestLoadExplicitGeminiKeyWins(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "conventional-key")
	t.Setenv("BMO_PROVIDERS_GEMINI_API_KEY", "explicit-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "explicit-key", cfg.Providers.Gemini.APIKey)
}
