package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/videofunnel/internal/exitintent"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":5000", cfg.APIListenAddr)
	assert.Equal(t, "api-key", cfg.APIAuthMode)
	assert.Equal(t, "funnel.db", cfg.DBPath)
	assert.Equal(t, "sqlite", cfg.KVBackend)
	assert.Equal(t, 24*time.Hour, cfg.KVRetention)
	assert.Equal(t, int64(1<<30), cfg.DBSizeWarnBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("API_AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("KV_RETENTION", "2h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "jwt", cfg.APIAuthMode)
	assert.True(t, cfg.SlackEnabled())
	assert.Equal(t, 2*time.Hour, cfg.KVRetention)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithPrefix(t *testing.T) {
	t.Setenv("FUNNEL_HTTP_PORT", "9999")
	cfg, err := LoadWithPrefix("FUNNEL")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTPPort)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("KV_RETENTION", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"api key set", Config{APIAuthMode: "api-key", APIKey: "k", KVBackend: "sqlite", KVRetention: time.Hour}, false},
		{"zero retention", Config{APIAuthMode: "api-key", APIKey: "k", KVBackend: "sqlite"}, true},
		{"negative retention", Config{APIAuthMode: "api-key", APIKey: "k", KVBackend: "sqlite", KVRetention: -time.Hour}, true},
		{"api key missing", Config{APIAuthMode: "api-key", KVBackend: "sqlite"}, true},
		{"jwt missing secret", Config{APIAuthMode: "jwt", KVBackend: "sqlite"}, true},
		{"none in development", Config{APIAuthMode: "none", Environment: "development", KVBackend: "memory"}, false},
		{"none in production", Config{APIAuthMode: "none", Environment: "production", KVBackend: "memory"}, true},
		{"unknown mode", Config{APIAuthMode: "basic", KVBackend: "sqlite"}, true},
		{"unknown backend", Config{APIAuthMode: "none", KVBackend: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckRetention(t *testing.T) {
	window := exitintent.DefaultSettings().SuppressionWindow

	cfg := &Config{KVBackend: "sqlite", KVRetention: 24 * time.Hour}
	assert.NoError(t, cfg.CheckRetention(window))
	assert.NoError(t, cfg.CheckRetention(24*time.Hour))
	assert.Error(t, cfg.CheckRetention(48*time.Hour))

	cfg.KVRetention = 10 * time.Minute
	assert.Error(t, cfg.CheckRetention(window))

	// The memory backend is never purged by age.
	cfg.KVBackend = "memory"
	assert.NoError(t, cfg.CheckRetention(window))
}

func TestCheckRetention_TunablesWindow(t *testing.T) {
	tun, err := LoadTunablesBytes([]byte("exit_intent:\n  suppression_window: 48h\n"))
	require.NoError(t, err)

	cfg := &Config{KVBackend: "sqlite", KVRetention: 24 * time.Hour}
	assert.Error(t, cfg.CheckRetention(tun.ExitIntent.SuppressionWindow))
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, "*", (&Config{Environment: "development"}).AllowedOrigins())
	assert.Equal(t, "", (&Config{Environment: "production"}).AllowedOrigins())
	assert.Equal(t, "https://a.example", (&Config{Environment: "production", CORSOrigins: "https://a.example"}).AllowedOrigins())
}

func TestLoadTunables_EmptyPath(t *testing.T) {
	tun, err := LoadTunables("")
	require.NoError(t, err)
	assert.Equal(t, exitintent.DefaultSettings(), tun.ExitIntent)
	assert.Equal(t, int64(4096), tun.Live.MaxMessageBytes)
}

func TestLoadTunablesBytes(t *testing.T) {
	t.Setenv("EXIT_DELAY", "3s")
	data := []byte(`
exit_intent:
  initial_delay: ${EXIT_DELAY}
  suppression_window: 1h
  top_edge_band: 12.5
  mobile_tokens: [Android, iPhone]
live:
  ping_interval: 5s
`)
	tun, err := LoadTunablesBytes(data)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, tun.ExitIntent.InitialDelay)
	assert.Equal(t, time.Hour, tun.ExitIntent.SuppressionWindow)
	assert.Equal(t, 12.5, tun.ExitIntent.TopBand())
	assert.Equal(t, []string{"Android", "iPhone"}, tun.ExitIntent.MobileTokens)
	assert.Equal(t, exitintent.DefaultThrottleInterval, tun.ExitIntent.ThrottleInterval)
	assert.Equal(t, exitintent.DefaultInactivityWindow, tun.ExitIntent.InactivityWindow)
	assert.Equal(t, 5*time.Second, tun.Live.PingInterval)
	assert.Equal(t, 10*time.Second, tun.Live.WriteTimeout)
}

func TestLoadTunablesBytes_ZeroTopEdgeBand(t *testing.T) {
	tun, err := LoadTunablesBytes([]byte("exit_intent:\n  top_edge_band: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, tun.ExitIntent.TopEdgeBand)
	assert.Equal(t, 0.0, tun.ExitIntent.TopBand())
}

func TestLoadTunablesBytes_Invalid(t *testing.T) {
	_, err := LoadTunablesBytes([]byte("exit_intent:\n  initial_delay: -1s\n"))
	assert.Error(t, err)

	_, err = LoadTunablesBytes([]byte("exit_intent: [oops"))
	assert.Error(t, err)
}

func TestLoadTunables_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exit_intent:\n  inactivity_window: 45s\n"), 0o600))

	tun, err := LoadTunables(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, tun.ExitIntent.InactivityWindow)

	_, err = LoadTunables(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	assert.Equal(t, "x=bar y=bar z=", expandEnvVars("x=${FOO} y=$FOO z=${NOPE_NOT_SET}"))
}
