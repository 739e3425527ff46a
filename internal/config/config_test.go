// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: "127.0.0.1:9000"
  path: "/asr"
  grpc_addr: "127.0.0.1:9001"

asr:
  host: "10.0.0.5"
  port: 7100
  scheme: "ws"
  sample_rate: 8000
  pool_size: 6
  connect_delay: "50ms"
  replenish: true
  replenish_delay: "2s"

keepalive:
  interval: "15s"
  pong_timeout: "45s"

auth:
  enabled: true
  method: "auth0"
  auth0_domain: "tenant.auth0.com"
  audience: "https://asr.example.com"
  jwks_cache_ttl: "1h"

database:
  enabled: true
  driver: "postgres"
  dsn: "postgres://asr@localhost/asr"
  store_audio: true

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/asr", cfg.Server.Path)
	assert.Equal(t, "127.0.0.1:9001", cfg.Server.GRPCAddr)
	assert.Equal(t, 6, cfg.ASR.PoolSize)
	assert.Equal(t, 50*time.Millisecond, cfg.ASR.ConnectDelay)
	assert.True(t, cfg.ASR.Replenish)
	assert.Equal(t, 2*time.Second, cfg.ASR.ReplenishDelay)
	assert.Equal(t, 15*time.Second, cfg.Keepalive.Interval)
	assert.Equal(t, 45*time.Second, cfg.Keepalive.PongTimeout)
	assert.Equal(t, AuthMethodAuth0, cfg.Auth.Method)
	assert.Equal(t, time.Hour, cfg.Auth.JWKSCacheTTL)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Database.StoreAudio)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "ws://10.0.0.5:7100/ws/streamraw/8000", cfg.BackendURI())
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
addr = "0.0.0.0:8100"

[asr]
uri = "ws://127.0.0.1:7777/ws/streamraw/16000"
pool_size = 2
connect_delay = "0s"

[auth]
enabled = true
method = "database"

[database]
enabled = true
driver = "sqlite3"
path = "/tmp/asr.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8100", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.ASR.PoolSize)
	assert.Equal(t, time.Duration(0), cfg.ASR.ConnectDelay)
	assert.Equal(t, "ws://127.0.0.1:7777/ws/streamraw/16000", cfg.BackendURI())
	assert.Equal(t, DriverSQLite3, cfg.Database.Driver)
	assert.Equal(t, "/tmp/asr.db", cfg.Database.Path)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "logging:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8008", cfg.Server.Addr)
	assert.Equal(t, "/", cfg.Server.Path)
	assert.Equal(t, 16000, cfg.ASR.SampleRate)
	assert.Equal(t, 4, cfg.ASR.PoolSize)
	assert.Equal(t, 200*time.Millisecond, cfg.ASR.ConnectDelay)
	assert.False(t, cfg.ASR.Replenish)
	assert.Equal(t, 2, cfg.Audio.BytesPerSample)
	assert.Equal(t, 10*time.Second, cfg.Keepalive.Interval)
	assert.Zero(t, cfg.Keepalive.PongTimeout)
	assert.Equal(t, AuthMethodNone, cfg.Auth.Method)
	assert.Equal(t, 10*time.Minute, cfg.Auth.JWKSCacheTTL)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "wss://127.0.0.1:7000/ws/streamraw/16000", cfg.BackendURI())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ASR_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TEST_ASR_HOST", "asr.internal")

	cfg, err := Load(writeConfig(t, "config.yaml", `
asr:
  host: "${TEST_ASR_HOST}"
auth:
  enabled: true
  method: "jwt"
  jwt_secret: "${TEST_ASR_SECRET}"
`))
	require.NoError(t, err)

	assert.Equal(t, "asr.internal", cfg.ASR.Host)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "keepalive:\n  interval: \"soon\"\n", "keepalive.interval"},
		{"negative duration", "asr:\n  connect_delay: \"-1s\"\n", "must not be negative"},
		{"bad pool size", "asr:\n  pool_size: -2\n", "asr.pool_size"},
		{"unknown auth method", "auth:\n  enabled: true\n  method: ldap\n", "auth.method"},
		{"auth0 without audience", "auth:\n  enabled: true\n  method: auth0\n  auth0_domain: x\n", "auth0_domain"},
		{"short jwt secret", "auth:\n  enabled: true\n  method: jwt\n  jwt_secret: short\n", "32 bytes"},
		{"database auth without database", "auth:\n  enabled: true\n  method: database\n", "database.enabled"},
		{"postgres without dsn", "database:\n  enabled: true\n  driver: postgres\n", "database.dsn"},
		{"unknown driver", "database:\n  enabled: true\n  driver: mysql\n", "database.driver"},
		{"bad scheme", "asr:\n  scheme: http\n", "asr.scheme"},
		{"bad uri", "asr:\n  uri: \"http://x/y\"\n", "asr.uri"},
		{"tailscale without hostname", "tailscale:\n  enabled: true\n", "tailscale.hostname"},
		{"malformed yaml", "server: [\n", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_DisabledAuthSkipsMethodChecks(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "auth:\n  enabled: false\n  method: jwt\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Enabled)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.ASR.ConnectDelay)
}
