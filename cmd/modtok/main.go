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

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modtok/internal/api"
	"modtok/internal/config"
	"modtok/internal/db"
	"modtok/internal/lib/ratelimit"
	"modtok/internal/observability"
)

var (
	envFile string
	logger  *zap.Logger
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:           "modtok",
	Short:         "MODTOK back-office API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}
		cfg = config.Load()
		l, err := observability.NewLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(conn *sqlx.DB) error {
			if err := db.MigrateUp(conn.DB); err != nil {
				return err
			}
			return logVersion(conn)
		})
	},
}

var downSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(conn *sqlx.DB) error {
			if err := db.MigrateDown(conn.DB, downSteps); err != nil {
				return err
			}
			return logVersion(conn)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(logVersion)
	},
}

var (
	adminEmail    string
	adminPassword string
	adminName     string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create a super_admin profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(conn *sqlx.DB) error {
			id, created, err := api.CreateAdmin(cmd.Context(), conn, adminEmail, adminPassword, adminName)
			if err != nil {
				return err
			}
			if !created {
				logger.Warn("profile already exists", zap.String("admin_id", id), zap.String("email", adminEmail))
				return nil
			}
			logger.Info("admin created", zap.String("admin_id", id), zap.String("email", adminEmail))
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
	createAdminCmd.Flags().StringVar(&adminName, "name", "Admin MODTOK", "display name")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func withDB(fn func(conn *sqlx.DB) error) error {
	conn, err := db.OpenMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func logVersion(conn *sqlx.DB) error {
	v, dirty, err := db.Version(conn.DB)
	if err != nil {
		return err
	}
	logger.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

func runServe(ctx context.Context) error {
	conn, err := db.OpenMySQL(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer conn.Close()

	if cfg.AutoMigrate {
		if err := db.MigrateUp(conn.DB); err != nil {
			return err
		}
	}

	deps := api.Deps{
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unavailable, login stats disabled", zap.Error(err))
		} else {
			deps.LoginStats = ratelimit.NewRedisStats(rdb, "modtok:login", 48*time.Hour)
		}
		cancel()
	}

	srv := api.NewServer(conn, cfg, deps)
	defer srv.Close()
	if err := srv.EnsureBootstrapAdmin(ctx); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	srv.LoginLimiter().StartJanitor(ctx)
	jobs, err := srv.StartHousekeeping(ctx)
	if err != nil {
		return err
	}
	defer func() { <-jobs.Stop().Done() }()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
