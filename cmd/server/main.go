package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mwestra/ballotbox/assets"
	"github.com/mwestra/ballotbox/internal"
	"github.com/mwestra/ballotbox/internal/auth"
	authdb "github.com/mwestra/ballotbox/internal/auth/db"
	"github.com/mwestra/ballotbox/internal/ballot"
	ballotdb "github.com/mwestra/ballotbox/internal/ballot/db"
	"github.com/mwestra/ballotbox/internal/db"
	"github.com/mwestra/ballotbox/internal/db/migrate"
	"github.com/mwestra/ballotbox/internal/email"
	"github.com/mwestra/ballotbox/internal/email/mailgun"
	"github.com/mwestra/ballotbox/internal/email/postmark"
	"github.com/mwestra/ballotbox/internal/email/view"
	"github.com/mwestra/ballotbox/internal/krypto"
	"github.com/mwestra/ballotbox/internal/web"
	"github.com/mwestra/ballotbox/migrations"
	"golang.org/x/sync/errgroup"
)

func main() {
	// A .env file is a convenience for development, not having one is
	// fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	// All writes go through a single serialized connection, see
	// db.OpenSQLite.
	sqlDB, err := db.OpenSQLite(cfg.db.file, true)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}

	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if cfg.db.migrate {
		logger.Info("attempting to migrate database", "file", cfg.db.file)

		ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, migrate.Metadata{
			AppVersion: internal.BuildRevision,
			Timestamp:  time.Now(),
		})
		if err != nil {
			logger.Error("failed to migrate database", "error", err)
			return 1
		}

		for _, m := range ran {
			logger.Info("migration ran", "sequence", m.Sequence, "filename", m.Filename)
		}
	}

	encryptor, err := krypto.NewEncryptor(cfg.db.encryptionKeys)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		return 1
	}

	emailSvc := email.NewService(
		view.NewFSRenderer(assets.EmailFS),
		emailSender(logger, cfg.email),
		cfg.email.from,
	)

	sessions := auth.NewSessionAuthenticator(cfg.auth.sessionSecret, cfg.auth.sessionTTL)

	authSvc, err := auth.NewService(
		authdb.New(sqlDB, encryptor, cfg.db.blindIndexKey),
		emailSvc,
		sessions,
		func(err error) {
			logger.Error("async auth failure", "error", err)
		},
		cfg.auth.service,
	)
	if err != nil {
		logger.Error("failed to create auth service", "error", err)
		return 1
	}

	ballotSvc := ballot.NewService(ballotdb.New(sqlDB))

	srv := &http.Server{
		Addr:         cfg.http.addr,
		ReadTimeout:  cfg.http.readTimeout,
		WriteTimeout: cfg.http.writeTimeout,
		IdleTimeout:  cfg.http.idleTimeout,
		Handler: web.NewServer(&web.ServerDeps{
			Logger:        logger,
			AuthService:   authSvc,
			BallotService: ballotSvc,
			Sessions:      sessions,
		}),
	}

	// We need to run two tasks concurrently:
	// - Listen and serving of the HTTP server.
	// - Waiting for a signal to stop the server.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.http.addr,
			"buildRevision", internal.BuildRevision,
			"buildRevisionTime", internal.BuildRevisionTime,
			"buildLocalModified", internal.BuildLocalModified,
		)
		// ListenAndServe always returns a non-nil error,
		// g will cancel gCtx when an error is returned, so
		// this will also stop the other goroutine.
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.http.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()

	// Wait for in-flight email workers before reporting the outcome.
	authSvc.Wait()

	if err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped with error", "error", err)
		return 1
	}

	logger.Info("http server stopped successfully")

	return 0
}

// emailSender selects the sender for the configured driver.
func emailSender(logger *slog.Logger, cfg emailConfig) email.Sender {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	switch cfg.driver {
	case "postmark":
		return postmark.NewSender(client, cfg.postmark)
	case "mailgun":
		return mailgun.NewSender(client, cfg.mailgun)
	case "memory":
		return email.NewMemorySender()
	default:
		return email.NewLogSender(logger)
	}
}
