package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/pickletv/internal/config"
	"github.com/dukerupert/pickletv/internal/content"
	"github.com/dukerupert/pickletv/internal/database"
	"github.com/dukerupert/pickletv/internal/email"
	"github.com/dukerupert/pickletv/internal/logging"
	"github.com/dukerupert/pickletv/internal/metrics"
	"github.com/dukerupert/pickletv/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(database.Config{
		Driver:   cfg.DB.Driver,
		DSN:      cfg.DB.URL,
		MinConns: cfg.DB.MinConns,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DB.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics.MustRegister()

	sender := newSender(cfg, logger.With("component", "email"))
	assets := newAssetStore(cfg)

	srv := server.New(cfg, db, sender, assets, logger)

	// Cleanup goroutine for stale rate limiter entries
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup(cfg.RateLimit.Window)
			case <-ctx.Done():
				return
			}
		}
	}()

	// No read/write timeouts: status streams stay open for the link lifetime.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"db_driver", cfg.DB.Driver,
			"email_provider", cfg.Email.Provider,
			"assets_backend", cfg.Assets.Backend,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func newSender(cfg *config.Config, logger *slog.Logger) email.Sender {
	switch cfg.Email.Provider {
	case "smtp":
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.FromEmail,
			FromName: cfg.Email.FromName,
		})
	case "postmark":
		from := (&mail.Address{Name: cfg.Email.FromName, Address: cfg.Email.FromEmail}).String()
		return email.NewPostmarkSender(cfg.Email.PostmarkToken, from)
	default:
		if cfg.IsProduction() {
			logger.Warn("log email provider in production; magic links will not be delivered")
		}
		return email.NewLogSender(logger)
	}
}

func newAssetStore(cfg *config.Config) content.Store {
	if cfg.Assets.Backend == "s3" {
		return content.NewS3Store(content.S3Config{
			Endpoint:  cfg.Assets.S3Endpoint,
			Bucket:    cfg.Assets.S3Bucket,
			Region:    cfg.Assets.S3Region,
			Prefix:    cfg.Assets.S3Prefix,
			AccessKey: cfg.Assets.S3AccessKey,
			SecretKey: cfg.Assets.S3SecretKey,
		})
	}
	return content.NewDirStore(cfg.Assets.Dir)
}
