package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/google/uuid"

	"github.com/healthdesk/scheduling-core/internal/notify"
)

// reminderOffset is one entry of the default reminder plan: a lead time
// before the appointment and the channel to use.
type reminderOffset struct {
	lead    time.Duration
	channel ReminderChannel
}

var defaultReminderPlan = []reminderOffset{
	{lead: 24 * time.Hour, channel: ChannelEmail},
	{lead: 2 * time.Hour, channel: ChannelSMS},
}

// ReminderService persists reminder jobs at booking time and drains the due
// ones from the worker. Sending goes through the external notify.Sender; the
// core only decides what and when.
type ReminderService struct {
	repo   Repository
	ids    IdentityResolver
	sender notify.Sender
	clock  Clock
	log    zerolog.Logger
}

func NewReminderService(repo Repository, ids IdentityResolver, sender notify.Sender, clock Clock, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		repo:   repo,
		ids:    ids,
		sender: sender,
		clock:  clock,
		log:    log,
	}
}

// ScheduleDefaults creates the default reminder jobs for a new appointment.
// A job whose computed time is not strictly in the future is skipped, so an
// appointment booked on short notice gets fewer reminders, never a
// past-dated one.
func (s *ReminderService) ScheduleDefaults(ctx context.Context, appt *Appointment) ([]AppointmentReminder, error) {
	now := s.clock.Now()
	start := appt.StartsAt()

	var created []AppointmentReminder
	for _, p := range defaultReminderPlan {
		remindAt := start.Add(-p.lead)
		if !remindAt.After(now) {
			continue
		}

		rem := &AppointmentReminder{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			Channel:       p.channel,
			ScheduledFor:  remindAt,
			Status:        ReminderPending,
		}

		if err := s.repo.CreateReminder(ctx, rem); err != nil {
			return created, fmt.Errorf("schedule %s reminder: %w", p.channel, err)
		}

		created = append(created, *rem)
	}

	return created, nil
}

type DrainStats struct {
	Due       int
	Sent      int
	Failed    int
	Cancelled int
}

// DrainDue processes reminders whose scheduled time has arrived. Reminders
// of cancelled appointments are marked cancelled without sending. One
// reminder's failure is recorded on that reminder and never aborts the
// batch.
func (s *ReminderService) DrainDue(ctx context.Context, now time.Time, batchSize int) (DrainStats, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	due, err := s.repo.ListDueReminders(ctx, now, batchSize)
	if err != nil {
		return DrainStats{}, fmt.Errorf("list due reminders: %w", err)
	}

	stats := DrainStats{Due: len(due)}
	for _, rem := range due {
		s.processReminder(ctx, rem, &stats)
	}

	return stats, nil
}

func (s *ReminderService) processReminder(ctx context.Context, rem AppointmentReminder, stats *DrainStats) {
	appt, err := s.repo.GetAppointment(ctx, rem.AppointmentID)
	if err != nil {
		s.failReminder(ctx, rem, fmt.Sprintf("load appointment: %v", err))
		stats.Failed++
		return
	}

	if appt.Status == StatusCancelled {
		if err := s.repo.MarkReminderCancelled(ctx, rem.ID); err != nil {
			s.log.Warn().Err(err).Str("reminder_id", rem.ID.String()).Msg("failed to mark reminder cancelled")
		}
		stats.Cancelled++
		return
	}

	msg, err := s.buildMessage(ctx, rem, appt)
	if err != nil {
		s.failReminder(ctx, rem, err.Error())
		stats.Failed++
		return
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		s.failReminder(ctx, rem, err.Error())
		stats.Failed++
		return
	}

	// Marking follows the successful send. A crash in between costs at most
	// a duplicate notification on the next run, never a silently lost one.
	if err := s.repo.MarkReminderSent(ctx, rem.ID, s.clock.Now()); err != nil {
		s.log.Warn().Err(err).Str("reminder_id", rem.ID.String()).Msg("failed to mark reminder sent")
	}
	stats.Sent++
}

func (s *ReminderService) failReminder(ctx context.Context, rem AppointmentReminder, detail string) {
	s.log.Warn().
		Str("reminder_id", rem.ID.String()).
		Str("appointment_id", rem.AppointmentID.String()).
		Str("detail", detail).
		Msg("reminder failed")

	if err := s.repo.MarkReminderFailed(ctx, rem.ID, detail); err != nil {
		s.log.Warn().Err(err).Str("reminder_id", rem.ID.String()).Msg("failed to mark reminder failed")
	}
}

func (s *ReminderService) buildMessage(ctx context.Context, rem AppointmentReminder, appt *Appointment) (notify.Message, error) {
	patient, err := s.ids.Patient(ctx, appt.PatientID)
	if err != nil {
		return notify.Message{}, fmt.Errorf("resolve patient: %w", err)
	}
	provider, err := s.ids.Provider(ctx, appt.ProviderID)
	if err != nil {
		return notify.Message{}, fmt.Errorf("resolve provider: %w", err)
	}

	var recipient string
	switch rem.Channel {
	case ChannelEmail:
		recipient = patient.Email
	case ChannelSMS, ChannelWhatsApp:
		recipient = patient.Phone
	default:
		recipient = patient.ID.String()
	}
	if recipient == "" {
		return notify.Message{}, fmt.Errorf("patient %s has no %s contact", patient.ID, rem.Channel)
	}

	date := appt.Date.Format("Monday, 2 January 2006")
	clock := MinutesToClock(appt.StartMinutes)

	return notify.Message{
		Kind:          notify.KindReminder,
		Channel:       string(rem.Channel),
		Recipient:     recipient,
		Subject:       "Appointment reminder",
		Body:          fmt.Sprintf("Reminder: you have an appointment with %s on %s at %s.", provider.FullName, date, clock),
		AppointmentID: appt.ID,
		Meta: map[string]string{
			"provider": provider.FullName,
			"date":     appt.Date.Format("2006-01-02"),
			"time":     clock,
		},
	}, nil
}

// CancelPending voids the unsent reminders of an appointment. Called from
// the cancellation path so a cancelled appointment stops notifying.
func (s *ReminderService) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	n, err := s.repo.CancelPendingReminders(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}
	return n, nil
}
