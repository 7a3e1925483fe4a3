package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Tannybot/remindd/internal/api"
	"github.com/Tannybot/remindd/internal/audit"
	"github.com/Tannybot/remindd/internal/circuitbreaker"
	"github.com/Tannybot/remindd/internal/config"
	"github.com/Tannybot/remindd/internal/dispatcher"
	"github.com/Tannybot/remindd/internal/domain"
	"github.com/Tannybot/remindd/internal/janitor"
	"github.com/Tannybot/remindd/internal/leaderelection"
	"github.com/Tannybot/remindd/internal/metrics"
	"github.com/Tannybot/remindd/internal/scheduler"
	"github.com/Tannybot/remindd/internal/store/postgres"
	"github.com/Tannybot/remindd/internal/transport/channel"
	"github.com/Tannybot/remindd/internal/trigger"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`remindd - event reminder scheduling daemon

Usage:
  remindd <command>

Commands:
  serve      Start the scheduler and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for the fire audit trail (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")
  GRACE_WINDOW              Max age of a missed trigger that still fires (default: "5m")
  REMINDER_OFFSETS          kind=offset list (default: "one_day_before=24h,one_hour_before=1h")
  EVENT_TIMEZONE            IANA timezone event start times are read in (default: "UTC")

  NOTIFY_CHANNEL            Sender: log, smtp, webhook or telegram (default: "log")
  NOTIFY_TIMEOUT            Per-recipient send timeout (default: "10s")
  SMTP_HOST                 SMTP server host (required for smtp)
  SMTP_PORT                 SMTP server port (default: "587")
  SMTP_FROM                 From address (required for smtp)
  SMTP_USERNAME             SMTP auth username (optional)
  SMTP_PASSWORD             SMTP auth password (optional)
  WEBHOOK_URL               Webhook endpoint (required for webhook)
  WEBHOOK_SECRET            HMAC signing secret (optional)
  TELEGRAM_TOKEN            Bot token (required for telegram)

  DISPATCHER_WORKERS        Concurrent fire workers (default: "1")
  FIREBUS_BUFFER_SIZE       Fire event channel buffer (default: "100")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher fire drain timeout (default: "30s")

  CIRCUIT_BREAKER_THRESHOLD Failures before a recipient is cut off, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Breaker recovery probe delay (default: "2m")

  JANITOR_ENABLED           Enable terminal job purging (default: "false")
  JANITOR_SCHEDULE          Purge cron schedule, UTC (default: "0 3 * * *")
  RETENTION_WINDOW          How long fired/superseded jobs are kept (default: "720h")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_ELECTION_ENABLED   Require the leader lock before ticking (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all replicas (default: "615243")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("remindd: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	calc, err := buildCalculator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build trigger calculator: %v\n", err)
		return exitInvalidConfig
	}

	sender, err := buildSender(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build sender: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("remindd: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("remindd: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("remindd: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("remindd: METRICS_ENABLED not set; metrics disabled")
	}

	bus := channel.NewFireBus(cfg.FireBusBufferSize)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval: cfg.TickInterval,
			GraceWindow:  cfg.GraceWindow,
		},
		store,
		store,
		calc,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(store, store, store, sender).
		WithSendTimeout(cfg.NotifyTimeout).
		WithDrainTimeout(cfg.DispatcherDrainTimeout).
		WithCompleter(sched)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("remindd: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Wire the fire audit trail if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		disp = disp.WithAudit(audit.NewRedisSink(redisClient, cfg.RetentionWindow))
		log.Printf("remindd: fire audit enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("remindd: REDIS_ADDR not set; fire audit disabled")
	}

	apiHandler := api.NewHandler(sched, store).WithHealthChecker(db)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("remindd: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("remindd: http server error: %v", err)
		}
	}()

	// Separate contexts for each component enable ordered shutdown.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var dispatcherWg sync.WaitGroup
	for i := 0; i < cfg.DispatcherWorkers; i++ {
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, bus.Channel())
		}()
	}
	log.Printf("remindd: dispatcher started (workers=%d)", cfg.DispatcherWorkers)

	// Leader duties: the scheduler tick loop and the janitor. With leader
	// election disabled this instance always runs them.
	var jan *janitor.Janitor
	if cfg.JanitorEnabled {
		jan, err = janitor.New(janitor.Config{
			Schedule:  cfg.JanitorSchedule,
			Retention: cfg.RetentionWindow,
		}, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build janitor: %v\n", err)
			cancelDispatcher()
			return exitInvalidConfig
		}
		log.Printf("remindd: janitor enabled (schedule=%q, retention=%s)", cfg.JanitorSchedule, cfg.RetentionWindow)
	} else {
		log.Println("remindd: JANITOR_ENABLED not set; janitor disabled")
	}

	var dutiesWg sync.WaitGroup
	runDuties := func(ctx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("remindd: scheduler error: %v", err)
			}
		}()
		if jan != nil {
			dutiesWg.Add(1)
			go func() {
				defer dutiesWg.Done()
				jan.Run(ctx)
			}()
		}
	}

	var cancelDuties context.CancelFunc
	var electorWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			runDuties,
			dutiesWg.Wait,
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		electorCtx, cancelElector := context.WithCancel(context.Background())
		cancelDuties = cancelElector
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("remindd: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		var dutiesCtx context.Context
		dutiesCtx, cancelDuties = context.WithCancel(context.Background())
		runDuties(dutiesCtx)
	}

	log.Printf("remindd: started (tick=%s, grace=%s, channel=%s, http=%s)",
		cfg.TickInterval, cfg.GraceWindow, cfg.NotifyChannel, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("remindd: received signal %v, shutting down", received)

	// Phase 1: Stop leader duties (no new fires emitted, no purges)
	log.Println("remindd: stopping scheduler...")
	cancelDuties()
	electorWg.Wait()
	dutiesWg.Wait()
	log.Println("remindd: scheduler stopped")

	// Phase 2: Stop dispatcher (drains buffered fires before returning)
	log.Println("remindd: stopping dispatcher (draining fires)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("remindd: dispatcher stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("remindd: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("remindd: http server shutdown error: %v", err)
	}
	log.Println("remindd: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("remindd: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("remindd: metrics server shutdown error: %v", err)
		}
		log.Println("remindd: metrics server stopped")
	}

	log.Println("remindd: stopped")
	return exitSuccess
}

// buildCalculator assembles the trigger calculator from the configured
// offsets and event timezone.
func buildCalculator(cfg config.Config) (*trigger.Calculator, error) {
	loc, err := time.LoadLocation(cfg.EventTimezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.EventTimezone, err)
	}

	var offsets []trigger.Offset
	if cfg.ReminderOffsets != "" {
		parsed, err := config.ParseOffsets(cfg.ReminderOffsets)
		if err != nil {
			return nil, err
		}
		for kind, before := range parsed {
			offsets = append(offsets, trigger.Offset{
				Kind:   domain.ReminderKind(kind),
				Before: before,
			})
		}
	}

	return trigger.NewCalculator(offsets, loc), nil
}

// buildSender picks the notification sender for NOTIFY_CHANNEL.
func buildSender(cfg config.Config) (dispatcher.Sender, error) {
	switch cfg.NotifyChannel {
	case "smtp":
		return dispatcher.NewSMTPSender(dispatcher.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}), nil
	case "webhook":
		return dispatcher.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret), nil
	case "telegram":
		return dispatcher.NewTelegramSender(cfg.TelegramToken)
	case "log":
		return dispatcher.NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", cfg.NotifyChannel)
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("remindd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
