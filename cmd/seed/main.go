package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/healthdesk/scheduling-core/internal/config"
	"github.com/healthdesk/scheduling-core/internal/db"
	"github.com/healthdesk/scheduling-core/internal/identity"
	"github.com/healthdesk/scheduling-core/internal/logging"
	"github.com/healthdesk/scheduling-core/internal/notify"
	redisclient "github.com/healthdesk/scheduling-core/internal/redis"
	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

const (
	providerCount = 25
	patientCount  = 2000
)

// Seed fills a fresh database with providers, patients and care services via
// direct inserts, then builds two weeks of slots, a spread of booked
// appointments and some waitlist entries through the real services so the
// seeded data obeys the same invariants as production writes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "seed")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(cfg.Env, "seed")
	log.Info().Msg("seed starting")

	ctx := context.Background()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providers, err := seedProviders(ctx, pool, log, providerCount)
	if err != nil {
		log.Fatal().Err(err).Msg("seed providers")
	}
	patients, err := seedPatients(ctx, pool, log, patientCount)
	if err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	services, err := seedCareServices(ctx, pool, log, providers)
	if err != nil {
		log.Fatal().Err(err).Msg("seed care services")
	}

	repo := scheduling.NewPgRepository(pool)
	ids := identity.NewPgResolver(pool)
	clock := scheduling.SystemClock()
	sender := notify.NewLogSender(log)
	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)

	slots := scheduling.NewSlotService(repo, clock, log)
	reminders := scheduling.NewReminderService(repo, ids, sender, clock, log)
	waitlist := scheduling.NewWaitlistService(repo, ids, sender, clock, log)
	booking := scheduling.NewBookingService(repo, ids, reminders, locker, clock, log)

	if err := seedSlots(ctx, slots, providers); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}
	log.Info().Msg("slots seeded")

	if err := seedAppointments(ctx, booking, clock, providers, patients, services); err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}
	log.Info().Msg("appointments seeded")

	if err := seedWaitlist(ctx, waitlist, clock, providers, patients); err != nil {
		log.Fatal().Err(err).Msg("seed waitlist")
	}
	log.Info().Msg("waitlist seeded")

	log.Info().Msg("seed complete")
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding providers")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		fee := float64(gofakeit.Number(40, 200))

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, full_name, specialty, standard_fee, created_at)
			VALUES ($1, $2, $3, $4, now())
		`, id, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)], fee)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}

	return out, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500
	out := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, email, phone, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			out = append(out, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return out, nil
}

func seedCareServices(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, providers []uuid.UUID) ([]uuid.UUID, error) {
	names := []string{"Initial consultation", "Follow-up", "Annual check-up", "Minor procedure"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var out []uuid.UUID
	for _, providerID := range providers {
		for _, name := range names {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO care_services (id, provider_id, name, price, duration_minutes, active)
				VALUES ($1, $2, $3, $4, $5, true)
			`, id, providerID, name, float64(gofakeit.Number(30, 250)), 30*gofakeit.Number(1, 3))
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}

	log.Info().Int("count", len(out)).Msg("care services seeded")
	return out, tx.Commit(ctx)
}

// seedSlots gives each provider weekday morning and afternoon blocks for the
// next two weeks.
func seedSlots(ctx context.Context, slots *scheduling.SlotService, providers []uuid.UUID) error {
	from := time.Now().UTC()
	until := from.AddDate(0, 0, 14)

	templates := []scheduling.SlotTemplate{
		{StartMinutes: 9 * 60, EndMinutes: 12 * 60, MaxAppointments: 6},
		{StartMinutes: 14 * 60, EndMinutes: 17 * 60, MaxAppointments: 6},
	}
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	for _, providerID := range providers {
		_, err := slots.CreateRecurringSlots(ctx, scheduling.CreateRecurringParams{
			ProviderID: providerID,
			From:       from,
			Until:      until,
			Templates:  templates,
			Weekdays:   weekdays,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func seedAppointments(ctx context.Context, booking *scheduling.BookingService, clock scheduling.Clock, providers, patients, services []uuid.UUID) error {
	now := clock.Now()

	// Care services were inserted in provider order, servicesPerProvider per
	// provider, so a provider's block starts at its index times that.
	servicesPerProvider := 0
	if len(providers) > 0 {
		servicesPerProvider = len(services) / len(providers)
	}

	for p, providerID := range providers {
		// A handful of bookings per provider spread over the next week.
		for i := 0; i < gofakeit.Number(3, 8); i++ {
			day := now.AddDate(0, 0, gofakeit.Number(1, 7))
			start := (9 + gofakeit.Number(0, 7)) * 60

			req := scheduling.BookRequest{
				ProviderID:      providerID,
				PatientID:       patients[gofakeit.Number(0, len(patients)-1)],
				Date:            day,
				StartMinutes:    start,
				DurationMinutes: 30,
				Type:            "consultation",
				Reason:          gofakeit.Sentence(6),
				BookedBy:        "seed",
				BookingMethod:   "online",
			}
			if gofakeit.Bool() && servicesPerProvider > 0 {
				svc := services[p*servicesPerProvider+gofakeit.Number(0, servicesPerProvider-1)]
				req.ServiceID = &svc
			}

			if _, err := booking.Book(ctx, req); err != nil {
				// Conflicts are expected when two picks land on the same
				// time; anything else aborts.
				if scheduling.IsConflict(err) {
					continue
				}
				return err
			}
		}
	}

	return nil
}

func seedWaitlist(ctx context.Context, waitlist *scheduling.WaitlistService, clock scheduling.Clock, providers, patients []uuid.UUID) error {
	now := clock.Now()

	for _, providerID := range providers {
		for i := 0; i < gofakeit.Number(1, 4); i++ {
			windowStart := (9 + gofakeit.Number(0, 5)) * 60
			windowEnd := windowStart + 120

			_, err := waitlist.AddEntry(ctx, scheduling.AddWaitlistParams{
				PatientID:          patients[gofakeit.Number(0, len(patients)-1)],
				ProviderID:         providerID,
				PreferredDate:      now.AddDate(0, 0, gofakeit.Number(1, 7)),
				WindowStartMinutes: &windowStart,
				WindowEndMinutes:   &windowEnd,
				Type:               "consultation",
				Reason:             gofakeit.Sentence(5),
				Priority:           gofakeit.Number(1, 10),
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}
