package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "payments",
		Short:         "NovaFuze payments service",
		Long:          "Creates provider orders, verifies payment signatures and reports purchase status.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, false)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newReconcileCmd(&configPath))
	cmd.AddCommand(newConfigCmd(&configPath))
	cmd.AddCommand(newTokenCmd(&configPath))
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}

			pool, err := initDB(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := applyMigrations(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info("✅ Migrations applied", zap.Strings("applied", applied))
			return nil
		},
	}
}

func newReconcileCmd(configPath *string) *cobra.Command {
	var pendingTTL time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail pending orders older than the pending TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			if pendingTTL > 0 {
				cfg.Reconcile.PendingTTL = pendingTTL
			}

			shutdown, err := initTelemetry(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			pool, err := initDB(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			ids, err := NewReconcileUseCase(NewOrderRepository(pool), cfg.Reconcile.PendingTTL, logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale pending orders\n", len(ids))
			return nil
		},
	}
	cmd.Flags().DurationVar(&pendingTTL, "pending-ttl", 0, "override reconcile.pending_ttl")
	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		user CurrentUser
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Session.Secret == "" {
				return errors.New("session.secret (SESSION_SECRET) is required")
			}
			if user.ID == "" {
				return errors.New("--uid is required")
			}
			token, err := NewSessionVerifier(cfg.Session).Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.ID, "uid", "", "user id (token subject)")
	cmd.Flags().StringVar(&user.Email, "email", "", "user email")
	cmd.Flags().StringVar(&user.Name, "name", "", "user display name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func bootstrap(configPath string) (*Config, *zap.Logger, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(parent context.Context, configPath string, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize OpenTelemetry
	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Error shutting down telemetry", zap.Error(err))
		}
	}()

	// Initialize database
	pool, err := initDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		applied, err := applyMigrations(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("✅ Migrations applied", zap.Strings("applied", applied))
	}

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// Initialize dependencies
	repository := NewOrderRepository(pool)
	provider := NewRazorpayClient(cfg.Razorpay)
	useCase := NewPaymentUseCase(repository, provider, notifier, PaymentUseCaseConfig{
		SignatureSecret: cfg.Razorpay.KeySecret,
		NotifyTimeout:   cfg.Payments.NotifyTimeout,
	}, logger)
	handler := NewPaymentHandler(useCase, otel.Tracer(cfg.ServiceName), logger, cfg.Payments)
	verifier := NewSessionVerifier(cfg.Session)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(handler, verifier, cfg, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Payments Service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifier assembles the configured confirmation channels.
func buildNotifier(cfg *Config, logger *zap.Logger) (Notifier, func(), error) {
	var channels multiNotifier
	closers := []func(){}

	if cfg.Email.Enabled() {
		channels = append(channels, NewEmailNotifier(cfg.Email, logger))
	} else {
		logger.Info("📧 Email not configured - skipping payment confirmation email")
	}

	if cfg.Kafka.Enabled() {
		producer, err := newKafkaProducer(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		kafka := NewKafkaNotifier(producer, cfg.Kafka.Topic)
		channels = append(channels, kafka)
		closers = append(closers, func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("Error closing kafka producer", zap.Error(err))
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(channels) == 0 {
		return noopNotifier{}, closeAll, nil
	}
	return channels, closeAll, nil
}

func initDB(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			logger.Info("✅ Connected to payments database")
			return pool, nil
		}
		logger.Info("⏳ Waiting for database...", zap.Int("attempt", i+1), zap.Error(err))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts: %w", err)
}
