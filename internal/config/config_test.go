package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detloc/detloc/internal/models"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "https://locator.ice.gov/odls", cfg.BaseURL)
	assert.Equal(t, models.LanguageEN, cfg.Language)
	assert.False(t, cfg.Proxy.Enabled)
	assert.Equal(t, 10, cfg.Proxy.RotationRequests)
	assert.Equal(t, 5*time.Minute, cfg.Proxy.RotationWindow)
	assert.Equal(t, float64(10), cfg.Rate.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Rate.BurstAllowance)
	assert.Equal(t, "steady", cfg.Rate.Pattern)
	assert.Equal(t, "normal", cfg.Behavior)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BackoffBase)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.7, cfg.Search.DefaultConfidenceThreshold)
	assert.Equal(t, 120*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.NotEmpty(t, cfg.HTTP.UserAgents)
	assert.False(t, cfg.Browser.Enabled)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 30, cfg.History.RetentionDays)
}

func TestLoad_EnvOverrides_Detailed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)
	t.Setenv("DETLOC_BASE_URL", "https://example.test/locator/")
	t.Setenv("DETLOC_LANGUAGE_DEFAULT", "es")
	t.Setenv("DETLOC_PROXY_ENABLED", "true")
	t.Setenv("DETLOC_PROXY_PROVIDERS", "http://u:p@10.0.0.1:8080#kind=residential&region=us&reputation=0.9")
	t.Setenv("DETLOC_PROXY_ROTATION_REQUESTS_PER_HANDLE", "25")
	t.Setenv("DETLOC_PROXY_ROTATION_WINDOW_SECONDS", "600")
	t.Setenv("DETLOC_RATE_REQUESTS_PER_MINUTE", "4.5")
	t.Setenv("DETLOC_RATE_BURST_ALLOWANCE", "2")
	t.Setenv("DETLOC_RATE_PATTERN", "adaptive")
	t.Setenv("DETLOC_BEHAVIOR_PROFILE", "slow")
	t.Setenv("DETLOC_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DETLOC_RETRY_BACKOFF_BASE_MS", "250")
	t.Setenv("DETLOC_CACHE_TTL_SECONDS", "60")
	t.Setenv("DETLOC_CACHE_MAX_ENTRIES", "10")
	t.Setenv("DETLOC_SEARCH_DEFAULT_CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("DETLOC_SEARCH_DEFAULT_FUZZY", "true")
	t.Setenv("DETLOC_SEARCH_TIMEOUT_SECONDS", "90")
	t.Setenv("DETLOC_HTTP_TIMEOUT_SECONDS", "15")
	t.Setenv("DETLOC_BROWSER_ENABLED", "true")
	t.Setenv("DETLOC_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("DETLOC_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "https://example.test/locator", cfg.BaseURL, "trailing slash trimmed")
	assert.Equal(t, models.LanguageES, cfg.Language)
	assert.True(t, cfg.Proxy.Enabled)
	require.Len(t, cfg.Proxy.Providers, 1)
	assert.Equal(t, models.ProxyResidential, cfg.Proxy.Providers[0].Kind)
	assert.Equal(t, "us", cfg.Proxy.Providers[0].Region)
	assert.Equal(t, 0.9, cfg.Proxy.Providers[0].Reputation)
	assert.Equal(t, "http://u:p@10.0.0.1:8080", cfg.Proxy.Providers[0].URL)
	assert.Equal(t, 25, cfg.Proxy.RotationRequests)
	assert.Equal(t, 10*time.Minute, cfg.Proxy.RotationWindow)
	assert.Equal(t, 4.5, cfg.Rate.RequestsPerMinute)
	assert.Equal(t, 2, cfg.Rate.BurstAllowance)
	assert.Equal(t, "adaptive", cfg.Rate.Pattern)
	assert.Equal(t, "slow", cfg.Behavior)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.85, cfg.Search.DefaultConfidenceThreshold)
	assert.True(t, cfg.Search.DefaultFuzzy)
	assert.Equal(t, 90*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.True(t, cfg.Browser.Enabled)
	assert.Equal(t, 7, cfg.History.RetentionDays)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.True(t, cfg.EnvOverrides["RATE_PATTERN"])
	assert.False(t, cfg.EnvOverrides["HTTP_ADDR"])
}

func TestLoad_UnknownOptionFails(t *testing.T) {
	t.Setenv("DETLOC_DATA_DIR", t.TempDir())
	t.Setenv("DETLOC_PROXY_TIMEOUT", "30")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DETLOC_PROXY_TIMEOUT")
}

func TestLoad_EnvFileApplied(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)

	envContent := "DETLOC_RATE_PATTERN=burst\nBEHAVIOR_PROFILE=fast\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(envContent), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	// Prefixed and bare keys both work in the file.
	assert.Equal(t, "burst", cfg.Rate.Pattern)
	assert.Equal(t, "fast", cfg.Behavior)
	assert.False(t, cfg.EnvOverrides["RATE_PATTERN"], "file values are not env overrides")
}

func TestLoad_EnvFileUnknownKeyFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MYSTERY_KNOB=1\n"), 0o600))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSTERY_KNOB")
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)
	t.Setenv("DETLOC_RATE_PATTERN", "random")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DETLOC_RATE_PATTERN=burst\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "random", cfg.Rate.Pattern)
}

func TestLoad_CacheSaltPersists(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)

	first, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, first.CacheSalt)

	second, err := Load()
	require.NoError(t, err)
	assert.Equal(t, first.CacheSalt, second.CacheSalt)

	data, err := os.ReadFile(filepath.Join(dir, "system.json"))
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, first.CacheSalt, state["cache_salt"])
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad rate pattern", "DETLOC_RATE_PATTERN", "chaotic"},
		{"bad behavior profile", "DETLOC_BEHAVIOR_PROFILE", "frantic"},
		{"bad language", "DETLOC_LANGUAGE_DEFAULT", "fr"},
		{"zero retries", "DETLOC_RETRY_MAX_ATTEMPTS", "0"},
		{"negative rate", "DETLOC_RATE_REQUESTS_PER_MINUTE", "-1"},
		{"threshold above one", "DETLOC_SEARCH_DEFAULT_CONFIDENCE_THRESHOLD", "1.5"},
		{"non-numeric ttl", "DETLOC_CACHE_TTL_SECONDS", "soon"},
		{"bad bool", "DETLOC_CACHE_ENABLED", "yep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DETLOC_DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_ProxyEnabledRequiresProviders(t *testing.T) {
	t.Setenv("DETLOC_DATA_DIR", t.TempDir())
	t.Setenv("DETLOC_PROXY_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers")
}

func TestParseProviders(t *testing.T) {
	providers, err := ParseProviders(
		"http://u:p@10.0.0.1:8080#kind=residential&reputation=0.8; socks5://10.0.0.2:1080 ;https://10.0.0.3:3128#region=eu")
	require.NoError(t, err)
	require.Len(t, providers, 3)

	assert.Equal(t, models.ProxyResidential, providers[0].Kind)
	assert.Equal(t, 0.8, providers[0].Reputation)

	assert.Equal(t, models.ProxySOCKS5, providers[1].Kind, "socks5 scheme implies kind")
	assert.Equal(t, 0.5, providers[1].Reputation, "default reputation")

	assert.Equal(t, models.ProxyDatacenter, providers[2].Kind)
	assert.Equal(t, "eu", providers[2].Region)
}

func TestParseProviders_Invalid(t *testing.T) {
	_, err := ParseProviders("http://10.0.0.1:8080#kind=quantum")
	assert.Error(t, err)

	_, err = ParseProviders("http://10.0.0.1:8080#reputation=2")
	assert.Error(t, err)

	_, err = ParseProviders("not a url at all://")
	assert.Error(t, err)
}

func TestWatcher_ReloadAppliesSubset(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "steady", cfg.Rate.Pattern)

	w := NewWatcher(cfg)
	defer w.Stop()

	var got Reloadable
	w.OnChange(func(r Reloadable) { got = r })

	envContent := "DETLOC_RATE_PATTERN=burst\nDETLOC_BEHAVIOR_PROFILE=fast\nDETLOC_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(envContent), 0o600))

	w.Reload()

	assert.Equal(t, "burst", cfg.Rate.Pattern)
	assert.Equal(t, "fast", cfg.Behavior)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "burst", got.RatePattern)
}

func TestWatcher_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETLOC_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	w := NewWatcher(cfg)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DETLOC_RATE_PATTERN=chaotic\n"), 0o600))
	w.Reload()

	assert.Equal(t, "steady", cfg.Rate.Pattern, "invalid reload must not apply")
}
