package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"approvaldesk/internal/app"
	"approvaldesk/internal/approval"
	"approvaldesk/internal/archive"
	"approvaldesk/internal/config"
	"approvaldesk/internal/lock"
	"approvaldesk/internal/logging"
	"approvaldesk/internal/metrics"
	"approvaldesk/internal/notify"
	"approvaldesk/internal/search"
	"approvaldesk/internal/store"
)

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	requests, err := store.NewApprovalStore(db, cfg.Approval.RequestTable)
	if err != nil {
		return err
	}
	records := store.NewRecordStore(db)

	descriptors, err := cfg.Approval.Descriptors()
	if err != nil {
		return err
	}
	registry, err := approval.NewRegistry(descriptors...)
	if err != nil {
		return err
	}
	serviceCfg, err := cfg.Approval.ServiceConfig(cfg.LockTTL)
	if err != nil {
		return err
	}

	m := metrics.New()
	checks := map[string]app.Pinger{"database": app.PingFunc(db.PingContext)}
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}

	opts := []approval.Option{
		approval.WithTransactor(store.NewTxManager(db)),
		approval.WithMetrics(m),
		approval.WithLogger(logger.With().Str("component", "approval").Logger()),
	}

	var inbox app.Inbox
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer locker.Close()
		redisInbox := notify.NewRedisInboxWithClient(locker.Client(), logger)
		notifiers = append(notifiers, redisInbox)
		inbox = redisInbox
		checks["redis"] = locker
		opts = append(opts, approval.WithLocker(locker))
		logger.Info().Msg("using redis for target locks and notification inbox")
	} else {
		logger.Warn().Msg("REDIS_URL is empty, pending checks rely on the database index only")
	}
	opts = append(opts, approval.WithNotifier(notifiers))

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFallback(requests), logger)
	opts = append(opts, approval.WithIndexer(searchService))
	go searchService.ReindexAllFromPG(ctx)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := archive.NewMinioArchiver(ctx, archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("object storage setup failed: %w", err)
		}
		opts = append(opts, approval.WithArchiver(archiver))
	}

	approvals := approval.New(serviceCfg, registry, requests, records, opts...)
	service := app.NewService(app.Deps{
		Approvals: approvals,
		Search:    searchService,
		Inbox:     inbox,
		Checks:    checks,
		JWTSecret: cfg.JWTSecret,
		Log:       logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, m, logger.With().Str("component", "http").Logger())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Strs("types", registry.Types()).Msg("approvaldesk API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
