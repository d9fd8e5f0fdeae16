package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, "--tls-key"},
		{"port too high", func(c *Config) { c.port = 70000 }, "invalid port"},
		{"code too short", func(c *Config) { c.codeLength = 3 }, "invalid code length"},
		{"negative create limit", func(c *Config) { c.createLimit = -1 }, "invalid create limit"},
		{"negative rounds", func(c *Config) { c.maxRounds = -1 }, "invalid max rounds"},
		{"negative timeout", func(c *Config) { c.sessionTimeout = -time.Second }, "invalid session timeout"},
		{"zero interval", func(c *Config) { c.snapshotInterval = 0 }, "invalid snapshot interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewCmdReadsEnvironment(t *testing.T) {
	t.Setenv("STOPTHEBUS_MAX_ROUNDS", "5")
	t.Setenv("STOPTHEBUS_SNAPSHOT_PATH", "/tmp/rooms.db")

	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, 5, cfg.maxRounds)
	assert.Equal(t, "/tmp/rooms.db", cfg.snapshotPath)
	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, 10, cfg.createLimit)
	assert.Equal(t, "https", (&Config{tlsCert: "c", tlsKey: "k"}).scheme())
}
