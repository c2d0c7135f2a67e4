package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Handlers *Handlers
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecovererMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)

	h := cfg.Handlers

	r.Post("/slots", h.createSlot)
	r.Post("/slots/recurring", h.createRecurringSlots)
	r.Get("/slots/available", h.listAvailableSlots)

	r.Post("/appointments", h.bookAppointment)
	r.Get("/appointments", h.listAppointments)
	r.Get("/appointments/{id}", h.getAppointment)
	r.Get("/appointments/{id}/logs", h.listAppointmentLogs)
	r.Post("/appointments/{id}/confirm", h.confirmAppointment)
	r.Post("/appointments/{id}/cancel", h.cancelAppointment)
	r.Post("/appointments/{id}/complete", h.completeAppointment)
	r.Post("/appointments/{id}/reschedule", h.rescheduleAppointment)
	r.Post("/appointments/{id}/no-show", h.markNoShow)

	r.Post("/waitlist", h.addWaitlistEntry)
	r.Get("/waitlist", h.listWaitlistEntries)

	return r
}
