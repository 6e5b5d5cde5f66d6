package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cardio/cardio/internal/config"
	"github.com/cardio/cardio/internal/domain/record"
	"github.com/cardio/cardio/internal/platform/db"
	"github.com/cardio/cardio/internal/platform/middleware"
	"github.com/cardio/cardio/internal/platform/mirror"
	"github.com/cardio/cardio/internal/platform/openapi"
	"github.com/cardio/cardio/internal/platform/telemetry"
	"github.com/cardio/cardio/migrations"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cardio-server",
		Short:         "Cardiovascular patient records API server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stores holds the open connections for one command invocation. mirror is
// nil when MIRROR_ENABLED is false.
type stores struct {
	pool   *pgxpool.Pool
	mirror *mirror.Store
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	s := &stores{pool: pool}

	if !cfg.MirrorEnabled {
		logger.Warn().Msg("mirror disabled; writes go to the primary store only")
		return s, nil
	}
	s.mirror, err = mirror.Connect(ctx, mirror.Config{
		URI:                    cfg.MongoURI,
		Database:               cfg.MongoDatabase,
		ConnectTimeout:         cfg.MongoConnectTimeout,
		ServerSelectionTimeout: cfg.MongoServerSelectionTimeout,
	}, logger)
	if err != nil {
		// the primary alone is enough to serve
		logger.Error().Err(err).Str("store", "secondary").Msg("mirror unavailable; continuing without it")
		s.mirror = nil
	}
	return s, nil
}

func (s *stores) Close(ctx context.Context) {
	if s.mirror != nil {
		_ = s.mirror.Close(ctx)
	}
	s.pool.Close()
}

func newCoordinator(s *stores, reporter record.FaultReporter, logger zerolog.Logger) *record.Coordinator {
	opts := []record.Option{
		record.WithLogger(logger),
		record.WithReporter(reporter),
	}
	if s.mirror != nil {
		opts = append(opts, record.WithMirror(s.mirror), record.WithProbes(record.NewPrimaryProbe(s.pool), s.mirror))
	} else {
		opts = append(opts, record.WithProbes(record.NewPrimaryProbe(s.pool), nil))
	}

	return record.NewCoordinator(db.NewTransactor(s.pool), record.Repositories{
		Patients:     record.NewPatientRepo(s.pool),
		Measurements: record.NewMeasurementRepo(s.pool),
		Lifestyle:    record.NewLifestyleRepo(s.pool),
		Diagnoses:    record.NewDiagnosisRepo(s.pool),
		DiagnosisLog: record.NewDiagnosisLogRepo(s.pool),
		Risk:         record.NewRiskRepo(s.pool),
	}, opts...)
}

func migrate(ctx context.Context, pool *pgxpool.Pool, schema string) (int, error) {
	if err := db.EnsureSchema(ctx, pool, schema); err != nil {
		return 0, err
	}
	return db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
}

// -- serve --

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply pending migrations before serving")
	return cmd
}

// newServer builds the HTTP surface. reader is nil when the mirror is off.
func newServer(cfg *config.Config, logger zerolog.Logger, coord *record.Coordinator, reader mirror.Reader, tp *telemetry.TelemetryProvider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.MetricsEnabled {
		e.Use(tp.MetricsMiddleware())
		e.GET("/metrics", tp.PrometheusHandler())
	}

	h := record.NewHandler(coord)
	h.RegisterSystemRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1")
	h.RegisterRoutes(apiV1)
	if reader != nil {
		mirror.NewHandler(reader).RegisterRoutes(apiV1)
	}

	openapi.NewGenerator(e, version, "/").RegisterRoutes(e.Group(""))
	return e
}

// watchHealth refreshes the pool and store gauges until ctx is done.
func watchHealth(ctx context.Context, pool *pgxpool.Pool, coord *record.Coordinator, hm *telemetry.HealthMetricsRecorder, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		stats := db.GetPoolStats(pool)
		hm.SetDBPoolActive(int64(stats.AcquiredConns))
		hm.SetDBPoolIdle(int64(stats.IdleConns))
		hm.RecordHealth(coord.Health(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer(autoMigrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to primary store")
		return err
	}
	defer s.Close(context.Background())
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to primary store")

	if autoMigrate {
		n, err := migrate(ctx, s.pool, cfg.DBSchema)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	var reader mirror.Reader
	if s.mirror != nil {
		reader = s.mirror
		if err := s.mirror.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("mirror indexes not ensured; queries may be slow")
		}
	}

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})
	coord := newCoordinator(s, tp.SyncMetrics(), logger)
	e := newServer(cfg, logger, coord, reader, tp)

	if cfg.MetricsEnabled {
		go watchHealth(ctx, s.pool, coord, tp.HealthMetrics(), 30*time.Second)
	}

	// Graceful shutdown
	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// -- migrate --

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run primary store migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema := schemaFlag(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrate(ctx, pool, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema := schemaFlag(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsureSchema(ctx, pool, schema); err != nil {
				return err
			}
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemaFlag(cmd *cobra.Command, cfg *config.Config) string {
	if s, _ := cmd.Flags().GetString("schema"); s != "" {
		return s
	}
	return cfg.DBSchema
}

// -- score --

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a patient's cardiovascular risk and record the assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("patient")
			patientID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || patientID <= 0 {
				return fmt.Errorf("--patient must be a positive integer, got %q", raw)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			s, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			a, err := newCoordinator(s, nil, logger).Score(ctx, patientID)
			if err != nil {
				return err
			}
			return printJSON(a)
		},
	}
	cmd.Flags().String("patient", "", "Patient ID to score")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

// -- health --

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report the reachability of both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			s, err := openStores(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("primary store unreachable: %w", err)
			}
			defer s.Close(ctx)

			report := newCoordinator(s, nil, logger).Health(ctx)
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Status == record.HealthUnhealthy {
				return errors.New("primary store unreachable")
			}
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
