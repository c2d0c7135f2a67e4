package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/healthdesk/scheduling-core/internal/redis"
)

// BookingService is the only path that turns a patient request into a
// committed appointment. Conflict detection matches the exact
// (provider, date, start time) tuple; the partial unique index over active
// statuses breaks the race when two requests slip past the pre-check.
type BookingService struct {
	repo      Repository
	ids       IdentityResolver
	reminders *ReminderService
	locker    redisclient.BookingLocker
	clock     Clock
	log       zerolog.Logger
}

func NewBookingService(repo Repository, ids IdentityResolver, reminders *ReminderService, locker redisclient.BookingLocker, clock Clock, log zerolog.Logger) *BookingService {
	return &BookingService{
		repo:      repo,
		ids:       ids,
		reminders: reminders,
		locker:    locker,
		clock:     clock,
		log:       log,
	}
}

type BookRequest struct {
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	Date            time.Time
	StartMinutes    int
	DurationMinutes int
	Type            string
	Reason          string
	ServiceID       *uuid.UUID
	SlotID          *uuid.UUID
	BookedBy        string
	BookingMethod   string
	// RescheduledFrom links the new appointment back to the one it replaces.
	RescheduledFrom *uuid.UUID
	// InitialStatus defaults to pending. Reschedules book as scheduled.
	InitialStatus AppointmentStatus
	// FeeOverride carries a fee across a reschedule; nil derives the fee from
	// the care service or the provider's standard fee.
	FeeOverride *float64
}

func (s *BookingService) validate(req *BookRequest) error {
	if req.ProviderID == uuid.Nil {
		return &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if req.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if req.StartMinutes < 0 || req.StartMinutes >= 24*60 {
		return &ValidationError{Field: "time", Reason: "must be within the day"}
	}
	if req.DurationMinutes < 1 {
		return &ValidationError{Field: "duration", Reason: "must be at least 1 minute"}
	}
	if req.Type == "" {
		req.Type = "consultation"
	}
	switch req.InitialStatus {
	case "":
		req.InitialStatus = StatusPending
	case StatusPending, StatusScheduled:
	default:
		return &ValidationError{Field: "status", Reason: "initial status must be pending or scheduled"}
	}
	return nil
}

func (s *BookingService) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	date := DayOf(req.Date)
	startsAt := date.Add(time.Duration(req.StartMinutes) * time.Minute)
	if !startsAt.After(s.clock.Now()) {
		return nil, &ValidationError{Field: "date", Reason: "appointment time is in the past"}
	}

	provider, err := s.ids.Provider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	patient, err := s.ids.Patient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	fee := provider.StandardFee
	if req.ServiceID != nil {
		svc, err := s.repo.GetCareService(ctx, *req.ServiceID)
		if err != nil {
			return nil, err
		}
		if svc.ProviderID != provider.ID {
			return nil, &ValidationError{Field: "service_id", Reason: "service belongs to a different provider"}
		}
		fee = svc.Price
	}
	if req.FeeOverride != nil {
		fee = *req.FeeOverride
	}

	if req.SlotID != nil {
		slot, err := s.repo.GetSlot(ctx, *req.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.ProviderID != provider.ID {
			return nil, &ValidationError{Field: "slot_id", Reason: "slot belongs to a different provider"}
		}
		if !slot.IsAvailable {
			return nil, &ConflictError{Resource: "time_slot", Detail: "slot is not open for booking"}
		}
		if !slot.Date.Equal(date) || !Overlaps(req.StartMinutes, req.StartMinutes+req.DurationMinutes, slot.StartMinutes, slot.EndMinutes) {
			return nil, &ValidationError{Field: "slot_id", Reason: "requested time falls outside the slot"}
		}
	}

	// Pre-check keeps the common double-booking out of the lock; the unique
	// index still decides the true race.
	if _, err := s.repo.FindActiveAt(ctx, provider.ID, date, req.StartMinutes); err == nil {
		return nil, &ConflictError{Resource: "appointment", Detail: "this time is not available"}
	} else if !IsNotFound(err) {
		return nil, fmt.Errorf("check existing appointment: %w", err)
	}

	appt := &Appointment{
		ID:              uuid.New(),
		ProviderID:      provider.ID,
		PatientID:       patient.ID,
		SlotID:          req.SlotID,
		ServiceID:       req.ServiceID,
		Date:            date,
		StartMinutes:    req.StartMinutes,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Status:          req.InitialStatus,
		Reason:          req.Reason,
		BookedBy:        req.BookedBy,
		BookingMethod:   req.BookingMethod,
		ConsultationFee: fee,
		RescheduledFrom: req.RescheduledFrom,
	}

	entry := AppointmentLog{
		AppointmentID: appt.ID,
		Action:        ActionCreated,
		Actor:         req.BookedBy,
		Note:          req.Reason,
		NewValue:      strPtr(string(appt.Status)),
	}

	err = s.locker.WithBookingLock(ctx, provider.ID, date, req.StartMinutes, func(lockCtx context.Context) error {
		return s.repo.CreateAppointment(lockCtx, appt, entry)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, &ConflictError{Resource: "appointment", Detail: "this time is being booked, please retry shortly"}
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("provider_id", provider.ID.String()).
		Str("patient_id", patient.ID.String()).
		Str("date", date.Format("2006-01-02")).
		Str("time", MinutesToClock(appt.StartMinutes)).
		Str("status", string(appt.Status)).
		Msg("appointment booked")

	// Reminder scheduling is best effort; the booking already committed.
	if _, err := s.reminders.ScheduleDefaults(ctx, appt); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to schedule reminders")
	}

	return appt, nil
}
