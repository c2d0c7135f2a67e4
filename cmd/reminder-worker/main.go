package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthdesk/scheduling-core/internal/config"
	"github.com/healthdesk/scheduling-core/internal/db"
	"github.com/healthdesk/scheduling-core/internal/identity"
	"github.com/healthdesk/scheduling-core/internal/logging"
	"github.com/healthdesk/scheduling-core/internal/notify"
	redisclient "github.com/healthdesk/scheduling-core/internal/redis"
	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

// The worker owns the two periodic jobs: draining due reminders and sweeping
// no-shows. A Redis lease keeps it to one worker at a time, so scaling out
// replicas does not double-send.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "reminder-worker")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(cfg.Env, "reminder-worker")
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("batch_size", cfg.WorkerBatchSize).
		Dur("noshow_grace", cfg.NoShowGrace).
		Msg("reminder-worker starting up")

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
	} else {
		sender = notify.NewLogSender(log)
	}

	repo := scheduling.NewPgRepository(pgPool)
	ids := identity.NewPgResolver(pgPool)
	clock := scheduling.SystemClock()
	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)

	reminders := scheduling.NewReminderService(repo, ids, sender, clock, log)
	waitlist := scheduling.NewWaitlistService(repo, ids, sender, clock, log)
	booking := scheduling.NewBookingService(repo, ids, reminders, locker, clock, log)
	lifecycle := scheduling.NewLifecycleService(repo, booking, reminders, waitlist, clock, log, cfg.NotifyTimeout)

	// Lease TTL covers a full tick plus slack so a live holder never loses it
	// mid-run.
	lease := redisclient.NewLease(rdb, "reminder-drain", cfg.WorkerInterval*2)

	w := &worker{
		reminders: reminders,
		lifecycle: lifecycle,
		lease:     lease,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}

	w.runOnce(rootCtx)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder-worker")
			return
		case <-ticker.C:
			w.runOnce(rootCtx)
		}
	}
}

type worker struct {
	reminders *scheduling.ReminderService
	lifecycle *scheduling.LifecycleService
	lease     *redisclient.Lease
	clock     scheduling.Clock
	cfg       config.Config
	log       zerolog.Logger
}

func (w *worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkerInterval)
	defer cancel()

	held, err := w.lease.Acquire(runCtx)
	if err != nil {
		w.log.Warn().Err(err).Msg("lease acquire failed, skipping tick")
		return
	}
	if !held {
		w.log.Debug().Msg("another worker holds the lease, skipping tick")
		return
	}
	defer func() {
		if err := w.lease.Release(runCtx); err != nil {
			w.log.Warn().Err(err).Msg("lease release failed")
		}
	}()

	start := time.Now()

	stats, err := w.reminders.DrainDue(runCtx, w.clock.Now(), w.cfg.WorkerBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("reminder drain failed")
	} else if stats.Due > 0 {
		w.log.Info().
			Int("due", stats.Due).
			Int("sent", stats.Sent).
			Int("failed", stats.Failed).
			Int("cancelled", stats.Cancelled).
			Msg("reminder drain complete")
	}

	marked, err := w.lifecycle.SweepNoShows(runCtx, w.cfg.NoShowGrace)
	if err != nil {
		w.log.Error().Err(err).Msg("no-show sweep failed")
	} else if marked > 0 {
		w.log.Info().Int("marked", marked).Msg("no-show sweep complete")
	}

	w.log.Debug().Dur("elapsed", time.Since(start)).Msg("worker tick complete")
}
