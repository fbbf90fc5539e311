package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"brokercrm/internal/app"
	"brokercrm/internal/blob"
	"brokercrm/internal/config"
	"brokercrm/internal/email"
	"brokercrm/internal/export"
	"brokercrm/internal/obs"
	"brokercrm/internal/search"
	"brokercrm/internal/secret"
	"brokercrm/internal/session"
	"brokercrm/internal/store"
	"brokercrm/internal/synclock"
	"go.uber.org/zap"
)

func main() {
	rollback := flag.Int("rollback", 0, "revert the newest N migrations and exit")
	flag.Parse()

	cfg := config.Load()
	logger, err := obs.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *rollback); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger, rollback int) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if rollback > 0 {
		if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, rollback); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		logger.Info("migrations rolled back", zap.Int("steps", rollback))
		return nil
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	cipher, err := secret.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	deps := app.Deps{
		Cipher:    cipher,
		Sender:    email.NewSMTPSender(cfg.MailTimeout),
		Mailboxes: email.NewIMAPOpener(cfg.MailTimeout),
		Exporter:  export.NewService(export.NewChromeRenderer()),
		Logger:    logger,
	}
	deps.Mailer = email.NewMailer(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, deps.Sender)
	if !deps.Mailer.IsConfigured() {
		logger.Warn("system SMTP not configured, signing invitations will not be sent")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Dial(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisStore := session.NewRedisStoreWithClient(client)
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Locker = synclock.NewRedisLocker(client, 2*time.Minute)
		logger.Info("using redis for refresh sessions and sync locks")
	} else {
		logger.Info("using postgres for refresh sessions, in-process sync locks")
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		blobs, err := blob.New(blob.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = blobs.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("minio bucket: %w", err)
		}
		deps.Blobs = blobs
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger.Named("search"))
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	service := app.New(cfg, store.NewPostgresStore(db), deps)

	obs.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.Handle("/", obs.Instrument(app.NewHTTPServer(service, cfg.CORSOrigin).Handler()))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("broker crm api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
