// Command gateway serves the Vendor and Admin consoles' authentication
// endpoints and proxies their API calls to the remote backend.
//
//	@title			Storefront Gateway API
//	@version		1.0
//	@description	Session endpoints for the Vendor and Admin consoles.
//	@BasePath		/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/99minutos/storefront-gateway/docs"
	"github.com/99minutos/storefront-gateway/internal/api"
	"github.com/99minutos/storefront-gateway/internal/core/service"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/config"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
	mongodb "github.com/99minutos/storefront-gateway/internal/infrastructure/db/mongo"
	redisdb "github.com/99minutos/storefront-gateway/internal/infrastructure/db/redis"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/queue"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/upstream"
	"github.com/99minutos/storefront-gateway/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log := logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("load config")
	}
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: !cfg.Production()})

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}

	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()

	rdb, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return err
	}
	defer rdb.Close()

	auditRepo := mongodb.NewAuditRepository(db)
	if err := auditRepo.EnsureIndexes(ctx); err != nil {
		return err
	}
	// Closed after Shutdown; events from handlers still running are dropped.
	audit := queue.NewDispatcher(cfg.AuditWorkers, auditRepo, logger.Component("audit"))
	audit.Start(context.WithoutCancel(ctx))
	defer audit.Close()

	ledger, err := redisdb.NewRenewalLedger(rdb, []byte(cfg.SessionSecret))
	if err != nil {
		return err
	}

	client := upstream.New(upstream.Config{BaseURL: cfg.Upstream.URL, Timeout: cfg.Upstream.Timeout})
	sessions := service.NewSessionService(client, cfg.TTLPolicy(), audit, logger.Component("sessions"))
	registry := service.NewRegistry(client, cfg.Session.RenewalGrace, service.CoordinatorOptions{
		Ledger: ledger,
		Audit:  audit,
		Log:    logger.Component("renewal"),
	})

	e := api.NewRouter(api.Dependencies{
		Log:      logger.Component("http"),
		Sessions: sessions,
		Renewer:  registry,
		Monitor:  service.NewFailureMonitor(audit, logger.Component("monitor")),
		Upstream: client,
		Jar:      cookiestore.NewJar([]byte(cfg.SessionSecret), cfg.Production()),
		Mongo:    db,
		Redis:    rdb,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("upstream", cfg.Upstream.URL).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
