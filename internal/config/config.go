package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the remindd application.
// Values are loaded from environment variables; see the serve command's
// usage text for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	GraceWindow    time.Duration `json:"-"`
	GraceWindowStr string        `json:"grace_window"`

	// ReminderOffsets is a comma-separated kind=offset list, e.g.
	// "one_day_before=24h,one_hour_before=1h". Empty means the stock set.
	ReminderOffsets string `json:"reminder_offsets,omitempty"`

	// EventTimezone is the IANA location event start times are resolved in.
	// A deployment choice, not a code constant.
	EventTimezone string `json:"event_timezone"`

	NotifyChannel    string        `json:"notify_channel"`
	NotifyTimeout    time.Duration `json:"-"`
	NotifyTimeoutStr string        `json:"notify_timeout"`

	SMTPHost     string `json:"smtp_host,omitempty"`
	SMTPPort     string `json:"smtp_port,omitempty"`
	SMTPFrom     string `json:"smtp_from,omitempty"`
	SMTPUsername string `json:"smtp_username,omitempty"`
	SMTPPassword string `json:"-"`

	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"-"`

	TelegramToken string `json:"-"`

	DispatcherWorkers int `json:"dispatcher_workers"`
	FireBusBufferSize int `json:"firebus_buffer_size"`

	RetentionWindow    time.Duration `json:"-"`
	RetentionWindowStr string        `json:"retention_window"`

	JanitorEnabled  bool   `json:"janitor_enabled"`
	JanitorSchedule string `json:"janitor_schedule"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the
	// same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		GraceWindowStr:             os.Getenv("GRACE_WINDOW"),
		ReminderOffsets:            os.Getenv("REMINDER_OFFSETS"),
		EventTimezone:              os.Getenv("EVENT_TIMEZONE"),
		NotifyChannel:              os.Getenv("NOTIFY_CHANNEL"),
		NotifyTimeoutStr:           os.Getenv("NOTIFY_TIMEOUT"),
		SMTPHost:                   os.Getenv("SMTP_HOST"),
		SMTPPort:                   os.Getenv("SMTP_PORT"),
		SMTPFrom:                   os.Getenv("SMTP_FROM"),
		SMTPUsername:               os.Getenv("SMTP_USERNAME"),
		SMTPPassword:               os.Getenv("SMTP_PASSWORD"),
		WebhookURL:                 os.Getenv("WEBHOOK_URL"),
		WebhookSecret:              os.Getenv("WEBHOOK_SECRET"),
		TelegramToken:              os.Getenv("TELEGRAM_TOKEN"),
		RetentionWindowStr:         os.Getenv("RETENTION_WINDOW"),
		JanitorEnabled:             os.Getenv("JANITOR_ENABLED") == "true",
		JanitorSchedule:            os.Getenv("JANITOR_SCHEDULE"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr:  os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		LeaderElectionEnabled:      os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	if workersStr := os.Getenv("DISPATCHER_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.DispatcherWorkers = n
		} else {
			log.Printf("config: invalid DISPATCHER_WORKERS %q (must be a positive integer), using default 1", workersStr)
		}
	}
	if cfg.DispatcherWorkers == 0 {
		cfg.DispatcherWorkers = 1
	}

	if bufStr := os.Getenv("FIREBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.FireBusBufferSize = n
		} else {
			log.Printf("config: invalid FIREBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.FireBusBufferSize == 0 {
		cfg.FireBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 615243", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 615243
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support platform PORT variables as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.GraceWindowStr == "" {
		cfg.GraceWindowStr = "5m"
	}
	if cfg.EventTimezone == "" {
		cfg.EventTimezone = "UTC"
	}
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = "log"
	}
	if cfg.NotifyTimeoutStr == "" {
		cfg.NotifyTimeoutStr = "10s"
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	if cfg.RetentionWindowStr == "" {
		cfg.RetentionWindowStr = "720h"
	}
	if cfg.JanitorSchedule == "" {
		cfg.JanitorSchedule = "0 3 * * *"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.GraceWindowStr); err == nil {
		cfg.GraceWindow = d
	}
	if d, err := time.ParseDuration(cfg.NotifyTimeoutStr); err == nil {
		cfg.NotifyTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RetentionWindowStr); err == nil {
		cfg.RetentionWindow = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// ParseOffsets parses a "kind=offset,kind=offset" list into a map of
// reminder kind names to offsets. Order of the input is not significant;
// the trigger calculator sorts by computed time.
func ParseOffsets(s string) (map[string]time.Duration, error) {
	if s == "" {
		return nil, nil
	}

	offsets := make(map[string]time.Duration)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("offset entry %q: want kind=duration", part)
		}
		d, err := time.ParseDuration(kv[1])
		if err != nil {
			return nil, fmt.Errorf("offset entry %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("offset entry %q: duration must be positive", part)
		}
		offsets[kv[0]] = d
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("no offsets in %q", s)
	}
	return offsets, nil
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		TickInterval            string `json:"tick_interval"`
		GraceWindow             string `json:"grace_window"`
		ReminderOffsets         string `json:"reminder_offsets,omitempty"`
		EventTimezone           string `json:"event_timezone"`
		NotifyChannel           string `json:"notify_channel"`
		NotifyTimeout           string `json:"notify_timeout"`
		SMTPHost                string `json:"smtp_host,omitempty"`
		SMTPPort                string `json:"smtp_port,omitempty"`
		SMTPFrom                string `json:"smtp_from,omitempty"`
		SMTPUsername            string `json:"smtp_username,omitempty"`
		SMTPPassword            string `json:"smtp_password,omitempty"`
		WebhookURL              string `json:"webhook_url,omitempty"`
		WebhookSecret           string `json:"webhook_secret,omitempty"`
		TelegramToken           string `json:"telegram_token,omitempty"`
		DispatcherWorkers       int    `json:"dispatcher_workers"`
		FireBusBufferSize       int    `json:"firebus_buffer_size"`
		RetentionWindow         string `json:"retention_window"`
		JanitorEnabled          bool   `json:"janitor_enabled"`
		JanitorSchedule         string `json:"janitor_schedule"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		TickInterval:            c.TickIntervalStr,
		GraceWindow:             c.GraceWindowStr,
		ReminderOffsets:         c.ReminderOffsets,
		EventTimezone:           c.EventTimezone,
		NotifyChannel:           c.NotifyChannel,
		NotifyTimeout:           c.NotifyTimeoutStr,
		SMTPHost:                c.SMTPHost,
		SMTPPort:                c.SMTPPort,
		SMTPFrom:                c.SMTPFrom,
		SMTPUsername:            c.SMTPUsername,
		SMTPPassword:            maskIfSet(c.SMTPPassword),
		WebhookURL:              c.WebhookURL,
		WebhookSecret:           maskIfSet(c.WebhookSecret),
		TelegramToken:           maskIfSet(c.TelegramToken),
		DispatcherWorkers:       c.DispatcherWorkers,
		FireBusBufferSize:       c.FireBusBufferSize,
		RetentionWindow:         c.RetentionWindowStr,
		JanitorEnabled:          c.JanitorEnabled,
		JanitorSchedule:         c.JanitorSchedule,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeoutStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
