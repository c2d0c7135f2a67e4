package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusInProgress  AppointmentStatus = "in_progress"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// ActiveStatuses are the states that hold capacity: an appointment in any of
// them counts against its slot and blocks the (provider, date, time) tuple.
func ActiveStatuses() []AppointmentStatus {
	return []AppointmentStatus{StatusPending, StatusConfirmed, StatusScheduled, StatusInProgress}
}

func (s AppointmentStatus) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusScheduled, StatusInProgress:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type ReminderChannel string

const (
	ChannelEmail    ReminderChannel = "email"
	ChannelSMS      ReminderChannel = "sms"
	ChannelPush     ReminderChannel = "push"
	ChannelWhatsApp ReminderChannel = "whatsapp"
)

func (c ReminderChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWhatsApp:
		return true
	}
	return false
}

// Audit log action tags, one per lifecycle transition.
const (
	ActionCreated     = "created"
	ActionConfirmed   = "confirmed"
	ActionStarted     = "started"
	ActionCompleted   = "completed"
	ActionCancelled   = "cancelled"
	ActionNoShow      = "no_show"
	ActionRescheduled = "rescheduled"
)

// TimeSlot is a bookable capacity unit for one provider on one calendar date.
// Times are stored as minutes from midnight so that uniqueness and overlap
// checks stay integer comparisons; Date is always UTC midnight.
type TimeSlot struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	Date                time.Time
	StartMinutes        int
	EndMinutes          int
	IsAvailable         bool
	IsBooked            bool
	MaxAppointments     int
	CurrentAppointments int
	IsRecurring         bool
	Weekdays            []time.Weekday
	RecurrenceEnd       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *TimeSlot) DurationMinutes() int {
	return s.EndMinutes - s.StartMinutes
}

func (s *TimeSlot) StartsAt() time.Time {
	return s.Date.Add(time.Duration(s.StartMinutes) * time.Minute)
}

func (s *TimeSlot) EndsAt() time.Time {
	return s.Date.Add(time.Duration(s.EndMinutes) * time.Minute)
}

// SlotAvailability pairs a slot with its recomputed remaining capacity.
type SlotAvailability struct {
	Slot      TimeSlot
	Remaining int
}

// CareService is a bookable service offered by one provider. Its price takes
// precedence over the provider's standard fee when an appointment references it.
type CareService struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Name            string
	Price           float64
	DurationMinutes int
	Active          bool
}

type Appointment struct {
	ID                 uuid.UUID
	ProviderID         uuid.UUID
	PatientID          uuid.UUID
	SlotID             *uuid.UUID
	ServiceID          *uuid.UUID
	Date               time.Time
	StartMinutes       int
	DurationMinutes    int
	Type               string
	Status             AppointmentStatus
	Reason             string
	Notes              string
	BookedBy           string
	BookingMethod      string
	ConsultationFee    float64
	IsPaid             bool
	PaymentMethod      *string
	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	ReminderSent       bool
	CancelledAt        *time.Time
	CancelledBy        *string
	CancellationReason *string
	RescheduledFrom    *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Appointment) StartsAt() time.Time {
	return a.Date.Add(time.Duration(a.StartMinutes) * time.Minute)
}

func (a *Appointment) EndsAt() time.Time {
	return a.StartsAt().Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AppointmentLog is an immutable audit entry. One row is written per
// lifecycle transition, inside the same transaction as the status change.
type AppointmentLog struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Action        string
	Actor         string
	Note          string
	OldValue      *string
	NewValue      *string
	CreatedAt     time.Time
}

// AppointmentReminder is a scheduled notification job. Created when the
// appointment is booked, mutated only by the reminder drain.
type AppointmentReminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Channel       ReminderChannel
	ScheduledFor  time.Time
	IsSent        bool
	Status        ReminderStatus
	ErrorDetail   *string
	SentAt        *time.Time
	CreatedAt     time.Time
}

// WaitingListEntry is a standing request to be told when capacity frees up
// for a provider on a date. Priority 1 is highest, 10 lowest; Notified is a
// one-shot flag and the entry is deactivated once it fires.
type WaitingListEntry struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	PreferredDate      time.Time
	WindowStartMinutes *int
	WindowEndMinutes   *int
	Type               string
	Reason             string
	Priority           int
	IsActive           bool
	Notified           bool
	CreatedAt          time.Time
}

// MatchesTime reports whether the entry's preferred window contains the
// given start time. Entries without a window match any time.
func (e *WaitingListEntry) MatchesTime(startMinutes int) bool {
	if e.WindowStartMinutes == nil || e.WindowEndMinutes == nil {
		return true
	}
	return *e.WindowStartMinutes <= startMinutes && startMinutes < *e.WindowEndMinutes
}

// DayOf truncates t to UTC midnight. All calendar dates in the package are
// normalized through it before storage or comparison.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Overlaps reports whether the half-open minute ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// MinutesToClock renders minutes-from-midnight as "HH:MM".
func MinutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func strPtr(s string) *string { return &s }
