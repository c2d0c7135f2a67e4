package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

type Handlers struct {
	Slots     *scheduling.SlotService
	Booking   *scheduling.BookingService
	Lifecycle *scheduling.LifecycleService
	Waitlist  *scheduling.WaitlistService
	Repo      scheduling.Repository
}

func (h *Handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	start, err := parseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
		return
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
		return
	}

	slot, err := h.Slots.CreateSlot(r.Context(), scheduling.CreateSlotParams{
		ProviderID:      providerID,
		Date:            date,
		StartMinutes:    start,
		EndMinutes:      end,
		MaxAppointments: req.MaxAppointments,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, slotToResponse(slot, nil))
}

func (h *Handlers) createRecurringSlots(w http.ResponseWriter, r *http.Request) {
	var req CreateRecurringSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	from, err := parseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
		return
	}
	until, err := parseDate(req.Until)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_until", err.Error())
		return
	}

	templates := make([]scheduling.SlotTemplate, 0, len(req.Templates))
	for _, t := range req.Templates {
		start, err := parseClock(t.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
			return
		}
		end, err := parseClock(t.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
			return
		}
		templates = append(templates, scheduling.SlotTemplate{
			StartMinutes:    start,
			EndMinutes:      end,
			MaxAppointments: t.MaxAppointments,
		})
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d < 0 || d > 6 {
			writeError(w, http.StatusBadRequest, "invalid_weekdays", "weekdays must be 0 (Sunday) through 6 (Saturday)")
			return
		}
		weekdays = append(weekdays, time.Weekday(d))
	}

	created, err := h.Slots.CreateRecurringSlots(r.Context(), scheduling.CreateRecurringParams{
		ProviderID: providerID,
		From:       from,
		Until:      until,
		Templates:  templates,
		Weekdays:   weekdays,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := RecurringSlotsResponse{Created: len(created)}
	for _, s := range created {
		resp.Slots = append(resp.Slots, slotToResponse(s, nil))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) listAvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	providerID, err := uuid.Parse(q.Get("provider_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	duration := 0
	if v := q.Get("duration"); v != "" {
		duration, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be minutes as an integer")
			return
		}
	}

	avail, err := h.Slots.ListAvailable(r.Context(), providerID, date, duration)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]SlotResponse, 0, len(avail))
	for i := range avail {
		remaining := avail[i].Remaining
		resp = append(resp, slotToResponse(&avail[i].Slot, &remaining))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	start, err := parseClock(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
		return
	}

	book := scheduling.BookRequest{
		ProviderID:      providerID,
		PatientID:       patientID,
		Date:            date,
		StartMinutes:    start,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Reason:          req.Reason,
		BookedBy:        req.BookedBy,
		BookingMethod:   req.BookingMethod,
	}

	if req.ServiceID != nil {
		id, err := uuid.Parse(*req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		book.ServiceID = &id
	}
	if req.SlotID != nil {
		id, err := uuid.Parse(*req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		book.SlotID = &id
	}

	appt, err := h.Booking.Book(r.Context(), book)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, appointmentToResponse(appt))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	appt, err := h.Repo.GetAppointment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter scheduling.AppointmentFilter

	if v := q.Get("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		filter.ProviderID = &id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		filter.PatientID = &id
	}
	if v := q.Get("date"); v != "" {
		date, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		date = scheduling.DayOf(date)
		filter.Date = &date
	}
	if v := q.Get("status"); v != "" {
		status := scheduling.AppointmentStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
			return
		}
		filter.Status = &status
	}

	filter.Limit = 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	appts, err := h.Repo.ListAppointments(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, appointmentToResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	appt, err := h.Lifecycle.Confirm(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	appt, err := h.Lifecycle.Cancel(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *Handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	appt, err := h.Lifecycle.Complete(r.Context(), id, req.Actor, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *Handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	newDate, err := parseDate(req.NewDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_new_date", err.Error())
		return
	}
	newTime, err := parseClock(req.NewTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_new_time", err.Error())
		return
	}

	result, err := h.Lifecycle.Reschedule(r.Context(), id, req.Actor, newDate, newTime, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RescheduleResponse{
		New:      appointmentToResponse(result.New),
		Original: appointmentToResponse(result.Original),
	})
}

func (h *Handlers) markNoShow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	appt, err := h.Lifecycle.MarkNoShow(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *Handlers) listAppointmentLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	// Verify the appointment exists so an unknown id reads as 404 rather
	// than an empty trail.
	if _, err := h.Repo.GetAppointment(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	logs, err := h.Repo.ListLogs(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]AppointmentLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, AppointmentLogResponse{
			ID:        l.ID,
			Action:    l.Action,
			Actor:     l.Actor,
			Note:      l.Note,
			OldValue:  l.OldValue,
			NewValue:  l.NewValue,
			CreatedAt: l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) addWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req AddWaitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, err := parseDate(req.PreferredDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_preferred_date", err.Error())
		return
	}

	params := scheduling.AddWaitlistParams{
		PatientID:     patientID,
		ProviderID:    providerID,
		PreferredDate: date,
		Type:          req.Type,
		Reason:        req.Reason,
		Priority:      req.Priority,
	}

	if req.WindowStart != nil {
		m, err := parseClock(*req.WindowStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window_start", err.Error())
			return
		}
		params.WindowStartMinutes = &m
	}
	if req.WindowEnd != nil {
		m, err := parseClock(*req.WindowEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window_end", err.Error())
			return
		}
		params.WindowEndMinutes = &m
	}

	entry, err := h.Waitlist.AddEntry(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, waitlistToResponse(entry))
}

func (h *Handlers) listWaitlistEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	providerID, err := uuid.Parse(q.Get("provider_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	entries, err := h.Waitlist.ListEntries(r.Context(), providerID, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]WaitlistEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, waitlistToResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeAction reads the actor/reason/notes body shared by the transition
// endpoints. An empty body is allowed.
func decodeAction(w http.ResponseWriter, r *http.Request) (ActionRequest, bool) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return ActionRequest{}, false
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	return req, true
}
