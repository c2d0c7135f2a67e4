package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

// Dates wire as "2006-01-02" and clock times as "HH:MM".

type CreateSlotRequest struct {
	ProviderID      string `json:"provider_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	MaxAppointments int    `json:"max_appointments"`
}

type SlotTemplateRequest struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	MaxAppointments int    `json:"max_appointments"`
}

type CreateRecurringSlotsRequest struct {
	ProviderID string                `json:"provider_id"`
	From       string                `json:"from"`
	Until      string                `json:"until"`
	Templates  []SlotTemplateRequest `json:"templates"`
	// Weekdays uses 0=Sunday through 6=Saturday. Empty means every day.
	Weekdays []int `json:"weekdays,omitempty"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	IsAvailable     bool      `json:"is_available"`
	IsBooked        bool      `json:"is_booked"`
	MaxAppointments int       `json:"max_appointments"`
	Remaining       *int      `json:"remaining,omitempty"`
}

type RecurringSlotsResponse struct {
	Created int            `json:"created"`
	Slots   []SlotResponse `json:"slots"`
}

type BookAppointmentRequest struct {
	ProviderID      string  `json:"provider_id"`
	PatientID       string  `json:"patient_id"`
	Date            string  `json:"date"`
	Time            string  `json:"time"`
	DurationMinutes int     `json:"duration_minutes"`
	Type            string  `json:"type"`
	Reason          string  `json:"reason"`
	ServiceID       *string `json:"service_id,omitempty"`
	SlotID          *string `json:"slot_id,omitempty"`
	BookedBy        string  `json:"booked_by"`
	BookingMethod   string  `json:"booking_method"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	SlotID             *uuid.UUID `json:"slot_id,omitempty"`
	ServiceID          *uuid.UUID `json:"service_id,omitempty"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	DurationMinutes    int        `json:"duration_minutes"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	ConsultationFee    float64    `json:"consultation_fee"`
	IsPaid             bool       `json:"is_paid"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *string    `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID `json:"rescheduled_from,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type ActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	Actor   string `json:"actor"`
	NewDate string `json:"new_date"`
	NewTime string `json:"new_time"`
	Reason  string `json:"reason,omitempty"`
}

type RescheduleResponse struct {
	New      AppointmentResponse `json:"new"`
	Original AppointmentResponse `json:"original"`
}

type AppointmentLogResponse struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AddWaitlistRequest struct {
	PatientID     string  `json:"patient_id"`
	ProviderID    string  `json:"provider_id"`
	PreferredDate string  `json:"preferred_date"`
	WindowStart   *string `json:"window_start,omitempty"`
	WindowEnd     *string `json:"window_end,omitempty"`
	Type          string  `json:"type"`
	Reason        string  `json:"reason"`
	Priority      int     `json:"priority"`
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	PreferredDate string    `json:"preferred_date"`
	WindowStart   *string   `json:"window_start,omitempty"`
	WindowEnd     *string   `json:"window_end,omitempty"`
	Type          string    `json:"type"`
	Priority      int       `json:"priority"`
	IsActive      bool      `json:"is_active"`
	Notified      bool      `json:"notified"`
	CreatedAt     time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD")
	}
	return t, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	return h*60 + m, nil
}

func slotToResponse(s *scheduling.TimeSlot, remaining *int) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		Date:            s.Date.Format("2006-01-02"),
		StartTime:       scheduling.MinutesToClock(s.StartMinutes),
		EndTime:         scheduling.MinutesToClock(s.EndMinutes),
		IsAvailable:     s.IsAvailable,
		IsBooked:        s.IsBooked,
		MaxAppointments: s.MaxAppointments,
		Remaining:       remaining,
	}
}

func appointmentToResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		PatientID:          a.PatientID,
		SlotID:             a.SlotID,
		ServiceID:          a.ServiceID,
		Date:               a.Date.Format("2006-01-02"),
		Time:               scheduling.MinutesToClock(a.StartMinutes),
		DurationMinutes:    a.DurationMinutes,
		Type:               a.Type,
		Status:             string(a.Status),
		Reason:             a.Reason,
		Notes:              a.Notes,
		ConsultationFee:    a.ConsultationFee,
		IsPaid:             a.IsPaid,
		ConfirmedAt:        a.ConfirmedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		RescheduledFrom:    a.RescheduledFrom,
		CreatedAt:          a.CreatedAt,
	}
}

func waitlistToResponse(e *scheduling.WaitingListEntry) WaitlistEntryResponse {
	resp := WaitlistEntryResponse{
		ID:            e.ID,
		PatientID:     e.PatientID,
		ProviderID:    e.ProviderID,
		PreferredDate: e.PreferredDate.Format("2006-01-02"),
		Type:          e.Type,
		Priority:      e.Priority,
		IsActive:      e.IsActive,
		Notified:      e.Notified,
		CreatedAt:     e.CreatedAt,
	}
	if e.WindowStartMinutes != nil {
		s := scheduling.MinutesToClock(*e.WindowStartMinutes)
		resp.WindowStart = &s
	}
	if e.WindowEndMinutes != nil {
		s := scheduling.MinutesToClock(*e.WindowEndMinutes)
		resp.WindowEnd = &s
	}
	return resp
}
