package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.False(t, cfg.Journal.Enabled())
	assert.False(t, cfg.RabbitMQ.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Server.PingPeriodDuration())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
env: test
server:
  address: 192.168.1.10
  write_timeout: 3s
journal:
  database_url: postgres://u:p@localhost:5432/journal
resync:
  enabled: true
  cron: "0 * * * *"
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("COTONESTRUM_TOKEN", "secret")
	t.Setenv("HTTP_PORT", "9099")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "192.168.1.10", cfg.Server.Address)
	assert.Equal(t, "secret", cfg.Server.Token)
	assert.Equal(t, 3*time.Second, cfg.Server.WriteTimeoutDuration())
	assert.Equal(t, 9099, cfg.HTTP.Port)
	assert.True(t, cfg.Journal.Enabled())
	assert.Equal(t, 5, cfg.Journal.MaxConnections, "defaults survive partial YAML")
	assert.Equal(t, "0 * * * *", cfg.Resync.Cron)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Address, cfg.Server.Address)
}

func TestLoad_ResyncCronEnvEnablesResync(t *testing.T) {
	t.Setenv("RESYNC_CRON", "*/5 * * * *")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Resync.Enabled)
	assert.Equal(t, "*/5 * * * *", cfg.Resync.Cron)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad env", func(c *Config) { c.Env = "qa" }, "env"},
		{"empty address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"address with scheme", func(c *Config) { c.Server.Address = "ws://localhost" }, "server.address"},
		{"address octet out of range", func(c *Config) { c.Server.Address = "300.1.1.1" }, "server.address"},
		{"address port out of range", func(c *Config) { c.Server.Address = "localhost:70000" }, "server.address"},
		{"address hostname", func(c *Config) { c.Server.Address = "example.com" }, "server.address"},
		{"address short quad", func(c *Config) { c.Server.Address = "10.0.1" }, "server.address"},
		{"bad duration", func(c *Config) { c.Server.PingPeriod = "often" }, "server.ping_period"},
		{"negative read limit", func(c *Config) { c.Server.ReadLimit = -1 }, "server.read_limit"},
		{"bad http port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"bad journal url", func(c *Config) { c.Journal.DatabaseURL = "mysql://x" }, "journal.database_url"},
		{"idle above max", func(c *Config) {
			c.Journal.DatabaseURL = "postgres://x"
			c.Journal.MaxIdleConnections = 10
		}, "journal.max_idle_connections"},
		{"bad amqp url", func(c *Config) { c.RabbitMQ.URL = "http://mq" }, "rabbitmq.url"},
		{"bad reconnect delay", func(c *Config) {
			c.RabbitMQ.URL = "amqp://mq"
			c.RabbitMQ.ReconnectDelay = "soon"
		}, "rabbitmq.reconnect_delay"},
		{"bad cron", func(c *Config) {
			c.Resync.Enabled = true
			c.Resync.Cron = "every minute"
		}, "resync.cron"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			fields := make([]string, 0, len(errs))
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_DisabledSectionsAreNotChecked(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Port = 0
	cfg.Resync.Cron = "nonsense"
	cfg.RabbitMQ.Exchange = ""

	assert.NoError(t, Validate(cfg))
}
