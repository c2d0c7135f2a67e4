package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LifecycleService owns every status change after booking. Each transition
// is an explicit named operation that writes its own audit log row in the
// same transaction as the status change; an invalid attempt fails with
// InvalidStateError and mutates nothing.
type LifecycleService struct {
	repo          Repository
	booking       *BookingService
	reminders     *ReminderService
	waitlist      *WaitlistService
	clock         Clock
	log           zerolog.Logger
	notifyTimeout time.Duration
}

func NewLifecycleService(repo Repository, booking *BookingService, reminders *ReminderService, waitlist *WaitlistService, clock Clock, log zerolog.Logger, notifyTimeout time.Duration) *LifecycleService {
	if notifyTimeout <= 0 {
		notifyTimeout = 5 * time.Second
	}
	return &LifecycleService{
		repo:          repo,
		booking:       booking,
		reminders:     reminders,
		waitlist:      waitlist,
		clock:         clock,
		log:           log,
		notifyTimeout: notifyTimeout,
	}
}

// Confirm moves a pending appointment to confirmed.
func (s *LifecycleService) Confirm(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	now := s.clock.Now()
	entry := AppointmentLog{
		AppointmentID: id,
		Action:        ActionConfirmed,
		Actor:         actor,
		OldValue:      strPtr(string(StatusPending)),
		NewValue:      strPtr(string(StatusConfirmed)),
	}

	appt, err := s.repo.ConfirmAppointment(ctx, id, now, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("actor", actor).Msg("appointment confirmed")
	return appt, nil
}

// Start moves a confirmed or scheduled appointment to in_progress.
func (s *LifecycleService) Start(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	entry := AppointmentLog{
		AppointmentID: id,
		Action:        ActionStarted,
		Actor:         actor,
		NewValue:      strPtr(string(StatusInProgress)),
	}

	appt, err := s.repo.StartAppointment(ctx, id, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("actor", actor).Msg("appointment started")
	return appt, nil
}

// Complete closes out a confirmed, scheduled or in-progress appointment.
// Payment fields are left alone; billing is someone else's job.
func (s *LifecycleService) Complete(ctx context.Context, id uuid.UUID, actor, notes string) (*Appointment, error) {
	now := s.clock.Now()
	entry := AppointmentLog{
		AppointmentID: id,
		Action:        ActionCompleted,
		Actor:         actor,
		Note:          notes,
		NewValue:      strPtr(string(StatusCompleted)),
	}

	appt, err := s.repo.CompleteAppointment(ctx, id, now, notes, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("actor", actor).Msg("appointment completed")
	return appt, nil
}

// CanCancel reports whether the appointment may still be cancelled: it is
// not in a terminal state and its start time has not passed.
func (s *LifecycleService) CanCancel(appt *Appointment, now time.Time) bool {
	if !appt.Status.Active() {
		return false
	}
	return appt.StartsAt().After(now)
}

// Cancel releases an active future appointment. Cancelling an already
// cancelled appointment is a no-op that returns the stored row: no second
// log entry, no second slot decrement. After the commit the appointment's
// pending reminders are voided and the waiting list is offered the freed
// time.
func (s *LifecycleService) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*Appointment, error) {
	return s.cancel(ctx, id, actor, reason, ActionCancelled)
}

func (s *LifecycleService) cancel(ctx context.Context, id uuid.UUID, actor, reason, action string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}

	now := s.clock.Now()
	if !s.CanCancel(appt, now) {
		return nil, &InvalidStateError{Current: appt.Status, Attempted: "cancel"}
	}

	entry := AppointmentLog{
		AppointmentID: id,
		Action:        action,
		Actor:         actor,
		Note:          reason,
		OldValue:      strPtr(string(appt.Status)),
		NewValue:      strPtr(string(StatusCancelled)),
	}

	cancelled, err := s.repo.CancelAppointment(ctx, id, Cancellation{At: now, By: actor, Reason: reason}, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("actor", actor).
		Str("reason", reason).
		Msg("appointment cancelled")

	if _, err := s.reminders.CancelPending(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", id.String()).Msg("failed to cancel pending reminders")
	}

	s.offerFreedTime(ctx, cancelled)

	return cancelled, nil
}

// offerFreedTime runs the waiting-list match for the cancelled appointment's
// time under a bounded timeout so a slow notifier cannot hang the cancel
// path. Failures are logged; the cancellation already committed.
func (s *LifecycleService) offerFreedTime(ctx context.Context, appt *Appointment) {
	matchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	n, err := s.waitlist.NotifyForFreedSlot(matchCtx, appt.ProviderID, appt.Date, appt.StartMinutes)
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("waiting list match failed")
		return
	}
	if n > 0 {
		s.log.Info().
			Str("appointment_id", appt.ID.String()).
			Int("notified", n).
			Msg("waiting list notified for freed time")
	}
}

// RescheduleResult pairs the replacement appointment with the cancelled
// original.
type RescheduleResult struct {
	New      *Appointment
	Original *Appointment
}

// Reschedule is cancel-plus-rebook rather than an in-place move, so the
// audit trail keeps both encounters. The new appointment is booked first
// with a back-reference to the original; only once that commits is the
// original cancelled with a reason naming its replacement. A conflict on the
// new time leaves the original untouched.
func (s *LifecycleService) Reschedule(ctx context.Context, id uuid.UUID, actor string, newDate time.Time, newStartMinutes int, reason string) (*RescheduleResult, error) {
	original, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.CanCancel(original, s.clock.Now()) {
		return nil, &InvalidStateError{Current: original.Status, Attempted: "reschedule"}
	}

	newAppt, err := s.booking.Book(ctx, BookRequest{
		ProviderID:      original.ProviderID,
		PatientID:       original.PatientID,
		Date:            newDate,
		StartMinutes:    newStartMinutes,
		DurationMinutes: original.DurationMinutes,
		Type:            original.Type,
		Reason:          reason,
		ServiceID:       original.ServiceID,
		BookedBy:        actor,
		BookingMethod:   "reschedule",
		RescheduledFrom: &original.ID,
		InitialStatus:   StatusScheduled,
		FeeOverride:     &original.ConsultationFee,
	})
	if err != nil {
		return nil, fmt.Errorf("book replacement appointment: %w", err)
	}

	cancelReason := fmt.Sprintf("rescheduled to %s", newAppt.ID)
	if reason != "" {
		cancelReason = fmt.Sprintf("%s (%s)", cancelReason, reason)
	}

	cancelled, err := s.cancel(ctx, id, actor, cancelReason, ActionRescheduled)
	if err != nil {
		// The replacement exists but the original would not cancel. Surface
		// the error with both ids so an operator can reconcile.
		return nil, fmt.Errorf("cancel original %s after booking %s: %w", id, newAppt.ID, err)
	}

	s.log.Info().
		Str("original_id", id.String()).
		Str("new_id", newAppt.ID.String()).
		Str("actor", actor).
		Msg("appointment rescheduled")

	return &RescheduleResult{New: newAppt, Original: cancelled}, nil
}

// MarkNoShow records that the patient never arrived. It is valid only for a
// confirmed or scheduled appointment whose time has fully elapsed.
func (s *LifecycleService) MarkNoShow(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusConfirmed, StatusScheduled:
	default:
		return nil, &InvalidStateError{Current: appt.Status, Attempted: "mark no-show"}
	}

	if appt.EndsAt().After(s.clock.Now()) {
		return nil, &InvalidStateError{Current: appt.Status, Attempted: "mark no-show before the appointment has elapsed"}
	}

	entry := AppointmentLog{
		AppointmentID: id,
		Action:        ActionNoShow,
		Actor:         actor,
		OldValue:      strPtr(string(appt.Status)),
		NewValue:      strPtr(string(StatusNoShow)),
	}

	updated, err := s.repo.MarkNoShow(ctx, id, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("actor", actor).Msg("appointment marked no-show")
	return updated, nil
}

const noShowSweepBatch = 500

// SweepNoShows is the worker entry point: it marks no-show every confirmed
// or scheduled appointment whose end time plus grace has passed. One
// appointment's failure does not stop the sweep.
func (s *LifecycleService) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	now := s.clock.Now()

	candidates, err := s.repo.FindNoShowCandidates(ctx, DayOf(now), noShowSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find no-show candidates: %w", err)
	}

	var marked int
	for _, appt := range candidates {
		if appt.EndsAt().Add(grace).After(now) {
			continue
		}

		if _, err := s.MarkNoShow(ctx, appt.ID, "system"); err != nil {
			// A concurrent transition already moved it; fine either way.
			if IsInvalidState(err) {
				continue
			}
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("no-show sweep failed for appointment")
			continue
		}
		marked++
	}

	return marked, nil
}
