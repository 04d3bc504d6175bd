package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editguard/editguard/pkg/config"
)

func TestDefaultConfig_AllLayersEnabled(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.True(t, cfg.XSS.Enabled)
	assert.True(t, cfg.CSP.Enabled)
	assert.True(t, cfg.CSP.EnforceMode)
	assert.True(t, cfg.CSP.UseNonces)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.InputValidation.Enabled)
	assert.True(t, cfg.ThreatDetection.Enabled)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "strict", cfg.XSS.Mode)
	assert.Equal(t, "production", cfg.CSP.Environment)
	assert.Equal(t, 5*time.Minute, cfg.CSP.RotateEvery)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 10000, cfg.InputValidation.MaxLength)
	assert.NotEmpty(t, cfg.InputValidation.BlockedPatterns)
	assert.Equal(t, 3, cfg.ThreatDetection.AlertThreshold)
	assert.Equal(t, time.Hour, cfg.ThreatDetection.AlertWindow)
	assert.Equal(t, 70, cfg.ThreatDetection.HighRiskThreshold)
	assert.Equal(t, 30*time.Second, cfg.Reporting.FlushInterval)
	assert.Equal(t, 1000, cfg.Reporting.MaxReports)
	assert.Equal(t, []string{"script-src", "object-src", "base-uri"}, cfg.Reporting.CriticalDirectives)
	assert.Equal(t, 5, cfg.Reporting.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Reporting.BreakerTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())

	require.NoError(t, err)
	assert.True(t, cfg.InputValidation.Enabled)
	assert.Equal(t, 10000, cfg.InputValidation.MaxLength)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
input_validation:
  max_length: 500
rate_limit:
  enabled: false
  max_requests: 7
csp:
  environment: development
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "editguard.yaml"), content, 0o600))

	cfg, err := config.Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 500, cfg.InputValidation.MaxLength)
	assert.False(t, cfg.RateLimit.Enabled, "explicit false must survive")
	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "development", cfg.CSP.Environment)
	// Untouched sections keep their defaults.
	assert.True(t, cfg.InputValidation.Enabled)
	assert.Equal(t, 3, cfg.ThreatDetection.AlertThreshold)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "editguard.yaml"),
		[]byte("input_validation: [not: a: map"), 0o600))

	_, err := config.Load(dir)

	assert.Error(t, err)
}
