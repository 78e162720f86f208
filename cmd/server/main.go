package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iliyamo/eduvault/internal/blob"
	"github.com/iliyamo/eduvault/internal/config"
	"github.com/iliyamo/eduvault/internal/database"
	"github.com/iliyamo/eduvault/internal/jobs"
	"github.com/iliyamo/eduvault/internal/logging"
	"github.com/iliyamo/eduvault/internal/portal"
	"github.com/iliyamo/eduvault/internal/queue"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/router"
	"github.com/iliyamo/eduvault/internal/service"
	"github.com/iliyamo/eduvault/internal/utils"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	db, err := openDB(cfg)
	if err != nil {
		fatal(log, "open database", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = database.Migrate(mctx, db, cfg.DBDriver)
	cancel()
	if err != nil {
		fatal(log, "migrate", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}

	var sealer *utils.Sealer
	if cfg.EncryptionKey != "" {
		if sealer, err = utils.NewSealer(cfg.EncryptionKey); err != nil {
			fatal(log, "ENCRYPTION_KEY", err)
		}
	} else {
		log.Warn("ENCRYPTION_KEY not set: institution portal features disabled")
	}

	blobs, err := blob.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL, cfg.APIPrefix+"/uploads")
	if err != nil {
		fatal(log, "upload dir", err)
	}

	var events service.EventPublisher = service.NoopPublisher{}
	if cfg.EventsEnabled {
		events = service.NewAMQPPublisher(cfg.RabbitURL, log)
	}
	if cfg.ConsumerEnabled {
		consumer := queue.NewConsumer(cfg.RabbitURL, cfg.EventLogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event consumer stopped", "err", err)
			}
		}()
	}

	accounts := repository.NewAccountRepo(db)
	tokens := service.NewTokenService(accounts, repository.NewTokenRepo(db), service.TokenConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}, log)
	directory := service.NewDirectory(accounts, service.DirectoryOptions{
		BcryptCost:    cfg.BcryptCost,
		Sealer:        sealer,
		Portal:        portal.New(cfg.PortalTimeout),
		PortalTimeout: cfg.PortalTimeout,
		Logger:        log,
	})
	ledger := service.NewLedger(repository.NewCertificationRepo(db), accounts, blobs, service.LedgerOptions{
		Events:      events,
		BlobTimeout: cfg.BlobTimeout,
		Logger:      log,
	})

	if cfg.ReconcileSchedule != "" {
		sched, err := jobs.NewReconcileScheduler(cfg.ReconcileSchedule, ledger, time.Minute, log)
		if err != nil {
			fatal(log, "RECONCILE_SCHEDULE", err)
		}
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sched.Stop(sctx)
		}()
	}

	e := router.New(router.Deps{
		Config:    cfg,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     rdb,
		DB:        db,
		Tokens:    tokens,
		Directory: directory,
		Ledger:    ledger,
		Logger:    log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "http server", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == database.DriverSQLite {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func fatal(log *slog.Logger, what string, err error) {
	log.Error(what, "err", err)
	os.Exit(1)
}
