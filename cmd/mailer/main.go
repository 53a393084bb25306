package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/hscfreight/invoice-mailer/internal/config"
	"github.com/hscfreight/invoice-mailer/internal/db"
	"github.com/hscfreight/invoice-mailer/internal/email"
	"github.com/hscfreight/invoice-mailer/internal/function"
	"github.com/hscfreight/invoice-mailer/internal/notify"
	"github.com/hscfreight/invoice-mailer/internal/pipeline"
	"github.com/hscfreight/invoice-mailer/internal/store"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// ── Database ──────────────────────────────────────────────────────────────
	pool, queries, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// ── Store (atomic mark-sent + email log) ──────────────────────────────────
	st := store.New(pool, queries)

	// ── Mail transport ────────────────────────────────────────────────────────
	// Office365 with password auth when an MS account is configured, Gmail
	// with the OAuth2 refresh-token flow otherwise.
	var mailer email.Sender
	if cfg.MSUser != "" {
		mailer = email.NewOffice365(cfg.MSUser, cfg.MSEmailPassword, cfg.MSEmailDomain)
		logger.Info("mail: using Office365 SMTP", "user", cfg.MSUser+cfg.MSEmailDomain)
	} else {
		mailer = email.NewGmail(cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailRefreshToken, cfg.GmailSendFrom)
		logger.Info("mail: using Gmail XOAUTH2", "from", cfg.GmailSendFrom)
	}

	// ── Notifications ─────────────────────────────────────────────────────────
	notifier := notify.NewTeams(cfg.TeamsWebhookURL, logger)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	job := pipeline.NewJob(queries, st, mailer, notifier, logger)

	// ── Custom-handler HTTP server ────────────────────────────────────────────
	handler := function.NewServer(job, cfg.RunTimeout, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RunTimeout + 30*time.Second, // the invocation blocks for the whole run
		IdleTimeout:  120 * time.Second,
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give an in-flight run up to the run timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool, tunes it, and verifies connectivity. The
// pool is shared by every run; each run's writes go through short-lived
// transactions on top of it.
func openDB(dsn string) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	// The batch is single-threaded; a small pool is plenty.
	pool.SetMaxOpenConns(5)
	pool.SetMaxIdleConns(2)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return pool, db.New(pool), nil
}
