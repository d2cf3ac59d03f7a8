package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INBOX_DATABASE__URL", "postgres://localhost/inbox")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/inbox", cfg.Database.URL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "whatsapp:+14155238886", cfg.Twilio.WhatsAppNumber)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9000"
  metrics_port: "9100"
database:
  url: postgres://file/inbox
  max_open_conns: 4
scheduler:
  interval: 30s
  claim_timeout: 5m
cron:
  secret: from-file
log:
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("INBOX_CRON__SECRET", "from-env")
	t.Setenv("INBOX_SERVER__METRICS_PORT", "9200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "9200", cfg.Server.MetricsPort)
	assert.Equal(t, "postgres://file/inbox", cfg.Database.URL)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.ClaimTimeout)
	assert.Equal(t, "from-env", cfg.Cron.Secret)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "zero interval with scheduler enabled",
			modify:  func(c *Config) { c.Scheduler.Interval = 0 },
			wantErr: "scheduler.interval",
		},
		{
			name: "zero interval with scheduler disabled",
			modify: func(c *Config) {
				c.Scheduler.Enabled = false
				c.Scheduler.Interval = 0
			},
		},
		{
			name:    "twilio enabled without credentials",
			modify:  func(c *Config) { c.Twilio.Enabled = true },
			wantErr: "twilio.account_sid",
		},
		{
			name: "twilio enabled with credentials",
			modify: func(c *Config) {
				c.Twilio.Enabled = true
				c.Twilio.AccountSID = "AC123"
				c.Twilio.AuthToken = "token"
				c.Twilio.PhoneNumber = "+15550001111"
			},
		},
		{
			name: "redis enabled without ttl",
			modify: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.TTL = 0
			},
			wantErr: "redis.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.URL = "postgres://localhost/inbox"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
