package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/portal/internal/config"
	"github.com/ehr/portal/internal/domain/branch"
	"github.com/ehr/portal/internal/domain/identity"
	"github.com/ehr/portal/internal/domain/scheduling"
	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/cache"
	"github.com/ehr/portal/internal/platform/db"
	"github.com/ehr/portal/internal/platform/events"
	"github.com/ehr/portal/internal/platform/metrics"
	"github.com/ehr/portal/internal/platform/middleware"
	"github.com/ehr/portal/internal/platform/validate"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Clinic patient portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
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
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Migrations from %s on schema: %s\n", dir, schema)
	return fn(ctx, db.NewMigrator(pool, dir, schema))
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis and RabbitMQ are optional; the portal runs without them.
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	redisClient, err := cache.Connect(connectCtx, cfg.RedisURL)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, directory cache disabled")
	} else if redisClient != nil {
		defer redisClient.Close()
		logger.Info().Msg("connected to redis")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events disabled")
		} else {
			defer amqpPub.Close()
			publisher = amqpPub
			logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := newServer(app{
		cfg:       cfg,
		logger:    logger,
		db:        pool,
		pinger:    pool,
		poolStats: func() db.PoolStats { return db.StatsFromPool(pool.Stat()) },
		redis:     redisClient,
		events:    publisher,
		registry:  registry,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app holds the process-wide dependencies the HTTP server is built from.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	db        db.DBTX
	pinger    db.Pinger
	poolStats func() db.PoolStats
	redis     *redis.Client
	events    events.Publisher
	registry  *prometheus.Registry
}

func newServer(a app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)
	e.Validator = validate.New()

	httpMetrics := metrics.NewHTTPMetrics(a.registry)
	bookingMetrics := metrics.NewBookingMetrics(a.registry)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(httpMetrics))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pinger, a.poolStats))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := e.Group("/api",
		middleware.BodyLimit(cfg.BodyLimit),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.SecurityHeaders(cfg.IsProduction()),
	)

	dirCache := cache.New(a.redis, cfg.CacheTTL, logger)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	requireAuth := auth.JWTMiddleware(issuer)

	identitySvc := identity.NewService(identity.NewAccountRepoPG(a.db), issuer,
		identity.WithEvents(a.events),
		identity.WithLogger(logger.With().Str("domain", "identity").Logger()),
	)
	identity.NewHandler(identitySvc).RegisterRoutes(api, requireAuth)

	branchSvc := branch.NewService(branch.NewRepoPG(a.db), dirCache)
	branch.NewHandler(branchSvc).RegisterRoutes(api)

	// Validate has already rejected an unknown zone; fall back to UTC here.
	clinicLoc, err := cfg.Location()
	if err != nil {
		clinicLoc = time.UTC
	}
	schedulingSvc := scheduling.NewService(
		scheduling.NewDoctorRepoPG(a.db),
		scheduling.NewAppointmentRepoPG(a.db),
		scheduling.WithCache(dirCache),
		scheduling.WithEvents(a.events),
		scheduling.WithMetrics(bookingMetrics),
		scheduling.WithLogger(logger.With().Str("domain", "scheduling").Logger()),
		scheduling.WithMaxAttempts(cfg.SerialMaxAttempts),
		scheduling.WithLocation(clinicLoc),
	)
	scheduling.NewHandler(schedulingSvc, identitySvc).RegisterRoutes(api, requireAuth)

	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}
	return e
}
