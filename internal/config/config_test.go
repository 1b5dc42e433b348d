package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Printers.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Relay.ReadTimeout)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
printers:
  read_timeout: 5s
  default_user: opr
relay:
  max_payload_bytes: 1048576
  tasks:
    - port: 9100
      uri: lpd://printsrv/raw
    - bind: 127.0.0.1
      port: 9101
      uri: http://hooks.local/in
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Printers.ReadTimeout)
	assert.Equal(t, "opr", cfg.Printers.DefaultUser)
	assert.Equal(t, int64(1048576), cfg.Relay.MaxPayloadBytes)
	require.Len(t, cfg.Relay.Tasks, 2)
	assert.Equal(t, RelayTaskConfig{Port: 9100, URI: "lpd://printsrv/raw"}, cfg.Relay.Tasks[0])
	assert.Equal(t, "127.0.0.1", cfg.Relay.Tasks[1].Bind)
	// File values survive, defaults fill the rest.
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRINTWIRE_PORT", "7070")
	t.Setenv("PRINTWIRE_DB_PATH", "/tmp/pw.db")
	t.Setenv("PRINTWIRE_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/pw.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"zero workers", func(c *Config) { c.Queue.WorkerCount = 0 }},
		{"bad relay port", func(c *Config) {
			c.Relay.Tasks = []RelayTaskConfig{{Port: 0, URI: "http://x"}}
		}},
		{"relay without uri", func(c *Config) {
			c.Relay.Tasks = []RelayTaskConfig{{Port: 9100}}
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
