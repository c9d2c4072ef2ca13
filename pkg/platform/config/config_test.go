package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.PeriodCount)
	assert.Equal(t, 15*time.Second, cfg.ListingTimeout.Duration)
	assert.Equal(t, 120*time.Second, cfg.ArchiveTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.RegistryTimeout.Duration)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "settings.yaml", `
period_count: 5
data_dir: /tmp/out
archive_timeout: 90s
allowed_origins:
  - https://example.org
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.PeriodCount)
	assert.Equal(t, "/tmp/out", cfg.DataDir)
	assert.Equal(t, 90*time.Second, cfg.ArchiveTimeout.Duration)
	assert.Equal(t, []string{"https://example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.ListingTimeout.Duration, "unset keys keep defaults")
}

func TestLoad_HJSONFile(t *testing.T) {
	path := writeFile(t, "settings.hjson", `{
  # comments are allowed
  fetch_workers: 4
  bundle_name: bundle.zip
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.FetchWorkers)
	assert.Equal(t, "bundle.zip", cfg.BundleName)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "settings.yaml", "period_count: 5\n")
	t.Setenv("DISCLOSURE_PERIOD_COUNT", "2")
	t.Setenv("DISCLOSURE_RETRY_INITIAL", "50ms")
	t.Setenv("DISCLOSURE_ALLOWED_ORIGINS", "http://a, http://b")
	t.Setenv("DISCLOSURE_KEEP_RAW", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.PeriodCount)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryInitial.Duration)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
	assert.True(t, cfg.KeepRaw)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad int", env: map[string]string{"DISCLOSURE_PERIOD_COUNT": "three"}},
		{name: "bad duration", env: map[string]string{"DISCLOSURE_LISTING_TIMEOUT": "soon"}},
		{name: "zero periods", env: map[string]string{"DISCLOSURE_PERIOD_COUNT": "0"}},
		{name: "unknown extension", file: "settings.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file, "x = 1")
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
