package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/healthdesk/scheduling-core/internal/api"
	"github.com/healthdesk/scheduling-core/internal/config"
	"github.com/healthdesk/scheduling-core/internal/db"
	"github.com/healthdesk/scheduling-core/internal/identity"
	"github.com/healthdesk/scheduling-core/internal/logging"
	"github.com/healthdesk/scheduling-core/internal/notify"
	redisclient "github.com/healthdesk/scheduling-core/internal/redis"
	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "api-server")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(cfg.Env, cfg.ServiceName)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	var sender notify.Sender
	if len(cfg.KafkaBrokers) > 0 {
		ks := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := ks.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing kafka writer")
			}
		}()
		sender = ks
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("notifications via Kafka")
	} else {
		sender = notify.NewLogSender(log)
		log.Info().Msg("no Kafka brokers configured, notifications go to the log")
	}

	repo := scheduling.NewPgRepository(pgPool)
	ids := identity.NewPgResolver(pgPool)
	clock := scheduling.SystemClock()
	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)

	slots := scheduling.NewSlotService(repo, clock, log)
	reminders := scheduling.NewReminderService(repo, ids, sender, clock, log)
	waitlist := scheduling.NewWaitlistService(repo, ids, sender, clock, log)
	booking := scheduling.NewBookingService(repo, ids, reminders, locker, clock, log)
	lifecycle := scheduling.NewLifecycleService(repo, booking, reminders, waitlist, clock, log, cfg.NotifyTimeout)

	router := api.NewRouter(api.RouterConfig{
		Handlers: &api.Handlers{
			Slots:     slots,
			Booking:   booking,
			Lifecycle: lifecycle,
			Waitlist:  waitlist,
			Repo:      repo,
		},
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}

	log.Info().Msg("api-server stopped")
}
