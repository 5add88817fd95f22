package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/clinical"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/internal/platform/versioning"
	"github.com/clinic/clinic/migrations"
)

const serviceVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic scheduling and clinical records API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(relayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "clinic-server").Logger()
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		LockTimeout:      cfg.DBLockTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
	}
}

// migrationFiles returns the embedded migrations unless dir overrides them.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.Files
	}
	return os.DirFS(dir)
}

// newLocker builds the practitioner lock for the configured mode. rdb is
// only consulted in redis mode.
func newLocker(mode lock.Mode, tx db.TxRunner, rdb redis.UniversalClient, cfg *config.Config) (lock.Locker, error) {
	switch mode {
	case lock.ModeExclusion:
		return lock.NewRow(tx), nil
	case lock.ModeAdvisory:
		return lock.NewAdvisory(tx), nil
	case lock.ModeLocal:
		return lock.NewLocal(), nil
	case lock.ModeRedis:
		if rdb == nil {
			return nil, errors.New("redis lock mode requires a redis client")
		}
		return lock.NewRedis(rdb, cfg.LockTTL, cfg.LockWait), nil
	}
	return nil, fmt.Errorf("unsupported lock mode %q", mode)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox events to Kafka until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			brokers := events.SplitBrokers(cfg.KafkaBrokers)
			if len(brokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}
			logger := newLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, telemetryConfig(cfg, "clinic-relay"))
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			writer := events.NewKafkaWriter(brokers)
			defer writer.Close()

			txm := db.NewTxManager(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries}, logger)
			events.NewRelay(txm, events.NewOutbox(pool), writer, logger, events.RelayConfig{
				PollEvery: cfg.OutboxPollInterval,
				BatchSize: cfg.OutboxBatchSize,
			}).Run(ctx)
			return nil
		},
	}
}

func telemetryConfig(cfg *config.Config, name string) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    name,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRatio,
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetryConfig(cfg, "clinic-server"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	txm := db.NewTxManager(pool, db.TxOptions{MaxRetries: cfg.TxMaxRetries}, logger)
	checks := []db.Check{db.PingCheck(pool)}

	// Practitioner lock
	mode, err := lock.ParseMode(cfg.LedgerLockMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid lock mode")
	}
	var rdb *redis.Client
	if mode == lock.ModeRedis {
		rdb, err = lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		checks = append(checks, db.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	var lockClient redis.UniversalClient
	if rdb != nil {
		lockClient = rdb
	}
	locker, err := newLocker(mode, txm, lockClient, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build practitioner lock")
	}
	if mode == lock.ModeLocal {
		logger.Warn().Msg("local lock mode serializes bookings within this process only")
	}
	logger.Info().Str("mode", string(mode)).Msg("practitioner lock configured")

	outbox := events.NewOutbox(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("clinic-server")))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "If-Match"},
		ExposeHeaders: []string{"ETag", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serviceVersion,
		})
	})
	e.GET("/health/ready", db.ReadinessHandler(pool, checks...))

	// Auth
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		logger.Warn().Msg("development auth: unauthenticated requests act as admin")
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Scheduling and bookings
	practitionerRepo := scheduling.NewPractitionerRepoPG(pool)
	calendarRepo := scheduling.NewCalendarRepoPG(pool)
	bookingRepo := scheduling.NewBookingRepoPG(pool)
	resolver := scheduling.NewResolver(calendarRepo)
	ledger := scheduling.NewLedger(practitionerRepo, bookingRepo, resolver, txm, locker, outbox, logger)
	schedSvc := scheduling.NewService(practitionerRepo, calendarRepo, resolver, ledger, txm)
	scheduling.NewHandler(schedSvc, ledger).RegisterRoutes(apiV1)

	// Encounters and clinical notes
	noteVersions := versioning.NewPGStore(pool, txm, versioning.NoteTables)
	clinicalSvc := clinical.NewService(clinical.NewEncounterRepoPG(pool), clinical.NewNoteRepoPG(pool),
		bookingRepo, noteVersions, txm, outbox, logger)
	clinical.NewHandler(clinicalSvc).RegisterRoutes(apiV1)

	// Guardian and child profiles
	patientSvc := patient.NewService(patient.NewGuardianRepoPG(pool), patient.NewChildRepoPG(pool), txm)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Outbox relay
	relayDone := make(chan struct{})
	if brokers := events.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		writer := events.NewKafkaWriter(brokers)
		relay := events.NewRelay(txm, outbox, writer, logger, events.RelayConfig{
			PollEvery: cfg.OutboxPollInterval,
			BatchSize: cfg.OutboxBatchSize,
		})
		go func() {
			defer close(relayDone)
			defer writer.Close()
			relay.Run(ctx)
		}()
	} else {
		close(relayDone)
		logger.Info().Msg("KAFKA_BROKERS not set, outbox events stay in the database")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	<-relayDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
