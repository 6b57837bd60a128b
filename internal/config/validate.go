package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[cfg.Env] {
		errs = append(errs, ValidationError{
			Field:   "env",
			Message: "must be one of: development, staging, production, test",
		})
	}

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateHTTP(&cfg.HTTP)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateRabbitMQ(&cfg.RabbitMQ)...)
	errs = append(errs, validateResync(&cfg.Resync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "server.address",
			Message: "is required",
		})
	} else if strings.Contains(s.Address, "://") {
		errs = append(errs, ValidationError{
			Field:   "server.address",
			Message: "must be host[:port] without a scheme",
		})
	} else if _, err := domain.ParseServerAddress(s.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.address",
			Message: strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": "),
		})
	}

	for field, value := range map[string]string{
		"server.handshake_timeout": s.HandshakeTimeout,
		"server.write_timeout":     s.WriteTimeout,
		"server.ping_period":       s.PingPeriod,
	} {
		if err := validateDuration(value); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	if s.ReadLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_limit",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	var errs ValidationErrors

	if h.Enabled && (h.Port <= 0 || h.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "http.port",
			Message: "must be a valid port number (1-65535)",
		})
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if j.Recent < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.recent",
			Message: "must be non-negative",
		})
	}

	if j.Retain < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.retain",
			Message: "must be non-negative",
		})
	}

	if !j.Enabled() {
		return errs
	}

	if !strings.HasPrefix(j.DatabaseURL, "postgres://") && !strings.HasPrefix(j.DatabaseURL, "postgresql://") {
		errs = append(errs, ValidationError{
			Field:   "journal.database_url",
			Message: "must start with postgres:// or postgresql://",
		})
	}
	if j.MaxConnections <= 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.max_connections",
			Message: "must be greater than 0",
		})
	}
	if j.MaxIdleConnections < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.max_idle_connections",
			Message: "must be non-negative",
		})
	}
	if j.MaxIdleConnections > j.MaxConnections {
		errs = append(errs, ValidationError{
			Field:   "journal.max_idle_connections",
			Message: "must not exceed max_connections",
		})
	}
	if err := validateDuration(j.ConnMaxLifetime); err != nil {
		errs = append(errs, ValidationError{Field: "journal.conn_max_lifetime", Message: err.Error()})
	}

	return errs
}

func validateRabbitMQ(mq *RabbitMQConfig) ValidationErrors {
	var errs ValidationErrors

	if !mq.Enabled() {
		return errs
	}

	if !strings.HasPrefix(mq.URL, "amqp://") && !strings.HasPrefix(mq.URL, "amqps://") {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.url",
			Message: "must start with amqp:// or amqps://",
		})
	}
	if mq.Exchange == "" {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.exchange",
			Message: "is required",
		})
	}
	for field, value := range map[string]string{
		"rabbitmq.reconnect_delay":    mq.ReconnectDelay,
		"rabbitmq.max_reconnect_wait": mq.MaxReconnectWait,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "invalid duration format",
			})
		}
	}
	if mq.QueueSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.queue_size",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateResync(r *ResyncConfig) ValidationErrors {
	var errs ValidationErrors

	if !r.Enabled {
		return errs
	}

	if _, err := cron.ParseStandard(r.Cron); err != nil {
		errs = append(errs, ValidationError{
			Field:   "resync.cron",
			Message: "invalid cron expression: " + err.Error(),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validFormats[l.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}

func validateDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
