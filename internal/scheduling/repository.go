package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentFilter narrows ListAppointments. Nil fields are ignored.
type AppointmentFilter struct {
	ProviderID *uuid.UUID
	PatientID  *uuid.UUID
	Date       *time.Time
	Status     *AppointmentStatus
	Limit      int
	Offset     int
}

// Cancellation carries the fields written by a cancel transition.
type Cancellation struct {
	At     time.Time
	By     string
	Reason string
}

// Repository contains all storage interactions needed by the services.
//
// Implementations map storage-level conditions to the package error types:
// missing rows become NotFoundError, unique-index violations become
// ConflictError, and a transition whose CAS predicate matches no row is
// reported as InvalidStateError carrying the stored status. Transition
// methods write their audit log entry in the same transaction as the status
// change.
type Repository interface {
	// Time slots
	CreateSlot(ctx context.Context, s *TimeSlot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListSlots(ctx context.Context, providerID uuid.UUID, from, until time.Time) ([]TimeSlot, error)
	// CountActiveInWindow counts active appointments for the provider on the
	// date whose [start, start+duration) range overlaps [startMinutes, endMinutes).
	CountActiveInWindow(ctx context.Context, providerID uuid.UUID, date time.Time, startMinutes, endMinutes int) (int, error)

	// Care services
	GetCareService(ctx context.Context, id uuid.UUID) (*CareService, error)

	// Appointments
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindActiveAt(ctx context.Context, providerID uuid.UUID, date time.Time, startMinutes int) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	// CreateAppointment inserts the appointment and its creation log entry in
	// one transaction. When the appointment is bound to a slot, the slot's
	// occupancy is recomputed from active appointments in the same
	// transaction and the insert fails with ConflictError if that would
	// exceed the slot's capacity.
	CreateAppointment(ctx context.Context, a *Appointment, entry AppointmentLog) error
	ConfirmAppointment(ctx context.Context, id uuid.UUID, at time.Time, entry AppointmentLog) (*Appointment, error)
	StartAppointment(ctx context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, at time.Time, notes string, entry AppointmentLog) (*Appointment, error)
	// CancelAppointment releases the bound slot's occupancy in the same
	// transaction. Cancelling an already-cancelled appointment is a no-op
	// that returns the stored row unchanged.
	CancelAppointment(ctx context.Context, id uuid.UUID, c Cancellation, entry AppointmentLog) (*Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error)
	// FindNoShowCandidates returns confirmed/scheduled appointments dated on
	// or before the given day. The caller refines by exact end time.
	FindNoShowCandidates(ctx context.Context, onOrBefore time.Time, limit int) ([]Appointment, error)

	// Audit log
	ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error)

	// Reminders
	CreateReminder(ctx context.Context, rem *AppointmentReminder) error
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]AppointmentReminder, error)
	// MarkReminderSent also flips the parent appointment's reminder_sent flag.
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkReminderFailed(ctx context.Context, id uuid.UUID, detail string) error
	MarkReminderCancelled(ctx context.Context, id uuid.UUID) error
	CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int, error)

	// Waiting list
	CreateWaitlistEntry(ctx context.Context, e *WaitingListEntry) error
	// ListOpenWaitlistEntries returns active, not-yet-notified entries for
	// the provider and date, ordered by priority then created_at.
	ListOpenWaitlistEntries(ctx context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error)
	ListWaitlistEntries(ctx context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error)
	// MarkWaitlistNotified flips the one-shot notified flag and deactivates
	// the entry. It reports false when another caller already claimed it.
	MarkWaitlistNotified(ctx context.Context, id uuid.UUID) (bool, error)
}
