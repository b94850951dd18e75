package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sumire/bugtracker/internal/auth"
	"github.com/sumire/bugtracker/internal/authz"
	"github.com/sumire/bugtracker/internal/config"
	"github.com/sumire/bugtracker/internal/handler"
	"github.com/sumire/bugtracker/internal/logger"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/service"
	"github.com/sumire/bugtracker/internal/session"
	"github.com/sumire/bugtracker/internal/storage"
	"github.com/sumire/bugtracker/internal/view"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bugtracker",
		Short:         "Bugtracker - a multi-role issue tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger.
func setup() (config.Config, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")
	return db, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	policy, err := authz.NewPolicy()
	if err != nil {
		return err
	}
	renderer, err := view.NewRenderer(policy, view.NewMarkdown(), cfg.BusinessTimezone)
	if err != nil {
		return err
	}

	tx := repository.NewTxManager(db)
	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	ticketRepo := repository.NewTicketRepository(db)

	authSvc := service.NewAuthService(userRepo, auth.NewBcryptHasher(cfg.BcryptCost), tx, cfg.DemoLoginEnabled)
	oauthSvc := service.NewOAuthService(userRepo, tx, service.OAuthConfig{
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		BaseURL:            cfg.BaseURL,
	})
	ticketSvc := service.NewTicketService(service.TicketDeps{
		Tickets:     ticketRepo,
		Comments:    repository.NewCommentRepository(db),
		Attachments: repository.NewAttachmentRepository(db),
		History:     repository.NewHistoryRepository(db),
		Projects:    projectRepo,
		Users:       userRepo,
		Objects:     objects,
		Tx:          tx,
	})

	secure := strings.HasPrefix(cfg.BaseURL, "https:")
	e := handler.NewRouter(handler.RouterDeps{
		Renderer: renderer,
		Policy:   policy,
		Sessions: session.NewManager(sessionStore, session.Config{
			Secret: cfg.SessionSecret,
			TTL:    cfg.SessionTTL,
			Secure: secure,
		}),
		Auth:          authSvc,
		OAuth:         oauthSvc,
		Users:         service.NewUserService(userRepo),
		Projects:      service.NewProjectService(projectRepo, ticketRepo, userRepo, tx),
		Tickets:       ticketSvc,
		Dashboard:     service.NewDashboardService(ticketRepo, projectRepo, cfg.BusinessTimezone),
		SecureCookies: secure,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "demo_login", cfg.DemoLoginEnabled)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newSessionStore uses Redis when REDIS_URL is set and process memory
// otherwise.
func newSessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, sessions are kept in memory")
		return session.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	slog.Info("redis connected")
	return session.NewRedisStore(client), nil
}

// newObjectStore uses S3 when S3_BUCKET is set and process memory
// otherwise.
func newObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		slog.Warn("S3_BUCKET not set, attachments are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
}
