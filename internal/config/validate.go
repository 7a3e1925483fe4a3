package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
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
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	checkDuration := func(field, value string, required bool) {
		if value == "" {
			if required {
				errs = append(errs, ValidationError{Field: field, Message: "required"})
			}
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	checkDuration("TICK_INTERVAL", cfg.TickIntervalStr, false)
	checkDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeoutStr, false)
	checkDuration("RETENTION_WINDOW", cfg.RetentionWindowStr, false)
	checkDuration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr, false)
	checkDuration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr, false)
	checkDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr, false)
	checkDuration("DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeoutStr, false)
	checkDuration("LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr, false)
	checkDuration("LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr, false)

	// GRACE_WINDOW may be zero (treat every missed trigger as stale)
	// but not negative.
	if cfg.GraceWindowStr != "" {
		d, err := time.ParseDuration(cfg.GraceWindowStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "GRACE_WINDOW",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d < 0 {
			errs = append(errs, ValidationError{
				Field:   "GRACE_WINDOW",
				Message: "must not be negative",
			})
		}
	}

	if cfg.ReminderOffsets != "" {
		if _, err := ParseOffsets(cfg.ReminderOffsets); err != nil {
			errs = append(errs, ValidationError{
				Field:   "REMINDER_OFFSETS",
				Message: err.Error(),
			})
		}
	}

	if _, err := time.LoadLocation(cfg.EventTimezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "EVENT_TIMEZONE",
			Message: fmt.Sprintf("unknown timezone: %v", err),
		})
	}

	// NOTIFY_CHANNEL selects the sender implementation
	switch cfg.NotifyChannel {
	case "log":
	case "smtp":
		if cfg.SMTPHost == "" {
			errs = append(errs, ValidationError{
				Field:   "SMTP_HOST",
				Message: "required when NOTIFY_CHANNEL=smtp",
			})
		}
		if cfg.SMTPFrom == "" {
			errs = append(errs, ValidationError{
				Field:   "SMTP_FROM",
				Message: "required when NOTIFY_CHANNEL=smtp",
			})
		}
	case "webhook":
		if cfg.WebhookURL == "" {
			errs = append(errs, ValidationError{
				Field:   "WEBHOOK_URL",
				Message: "required when NOTIFY_CHANNEL=webhook",
			})
		}
	case "telegram":
		if cfg.TelegramToken == "" {
			errs = append(errs, ValidationError{
				Field:   "TELEGRAM_TOKEN",
				Message: "required when NOTIFY_CHANNEL=telegram",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "NOTIFY_CHANNEL",
			Message: fmt.Sprintf("must be 'log', 'smtp', 'webhook' or 'telegram', got %q", cfg.NotifyChannel),
		})
	}

	if cfg.JanitorEnabled {
		if _, err := cron.ParseStandard(cfg.JanitorSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "JANITOR_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
