// Package config provides configuration management for Cotonestrum.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Journal  JournalConfig  `yaml:"journal"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Resync   ResyncConfig   `yaml:"resync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig describes the moderation server connection.
type ServerConfig struct {
	// Address is host[:port]; the port defaults to 3005.
	Address string `yaml:"address"`
	// Token is the Misskey access token sent with auth after connecting.
	Token            string `yaml:"token"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`
	PingPeriod       string `yaml:"ping_period"`
	// ReadLimit caps inbound frame size in bytes. Zero means no limit.
	ReadLimit int64 `yaml:"read_limit"`
	// AutoFetch sends the fetch_all requests after a moderator logs in.
	AutoFetch bool `yaml:"auto_fetch"`
}

// HandshakeTimeoutDuration returns the handshake timeout as a time.Duration.
func (s *ServerConfig) HandshakeTimeoutDuration() time.Duration {
	return parseDuration(s.HandshakeTimeout, 10*time.Second)
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(s.WriteTimeout, 10*time.Second)
}

// PingPeriodDuration returns the ping period as a time.Duration.
func (s *ServerConfig) PingPeriodDuration() time.Duration {
	return parseDuration(s.PingPeriod, 30*time.Second)
}

// HTTPConfig contains the local status API settings.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// JournalConfig contains the PostgreSQL journal settings. The journal is
// disabled when DatabaseURL is empty.
type JournalConfig struct {
	DatabaseURL        string `yaml:"database_url"`
	MaxConnections     int    `yaml:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections"`
	ConnMaxLifetime    string `yaml:"conn_max_lifetime"`
	// Recent is how many entries the in-memory journal keeps.
	Recent int `yaml:"recent"`
	// Retain bounds the persisted table. Zero keeps everything.
	Retain int `yaml:"retain"`
}

// Enabled reports whether entries are persisted to PostgreSQL.
func (j *JournalConfig) Enabled() bool {
	return j.DatabaseURL != ""
}

// RabbitMQConfig contains the change-feed settings. Publishing is disabled
// when URL is empty.
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	Exchange         string `yaml:"exchange"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	MaxReconnectWait string `yaml:"max_reconnect_wait"`
	// QueueSize bounds the events waiting to be published.
	QueueSize int `yaml:"queue_size"`
}

// Enabled reports whether registry changes are published.
func (r *RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

// ReconnectDelayDuration returns the initial reconnect delay.
func (r *RabbitMQConfig) ReconnectDelayDuration() time.Duration {
	return parseDuration(r.ReconnectDelay, 5*time.Second)
}

// MaxReconnectWaitDuration returns the reconnect backoff cap.
func (r *RabbitMQConfig) MaxReconnectWaitDuration() time.Duration {
	return parseDuration(r.MaxReconnectWait, 30*time.Second)
}

// ResyncConfig contains the periodic full resync settings.
type ResyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Address:          "localhost:3005",
			HandshakeTimeout: "10s",
			WriteTimeout:     "10s",
			PingPeriod:       "30s",
			AutoFetch:        true,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Port:    8085,
		},
		Journal: JournalConfig{
			MaxConnections:     5,
			MaxIdleConnections: 1,
			ConnMaxLifetime:    "1h",
			Recent:             500,
			Retain:             100000,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:         "cotonestrum.events",
			ReconnectDelay:   "5s",
			MaxReconnectWait: "30s",
			QueueSize:        1024,
		},
		Resync: ResyncConfig{
			Enabled: false,
			Cron:    "*/30 * * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
