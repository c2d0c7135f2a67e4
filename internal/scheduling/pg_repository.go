package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository implements Repository over the tables time_slots,
// care_services, appointments, appointment_logs, appointment_reminders and
// waiting_list. Appointment times are minutes from midnight against a date
// column; a partial unique index on (provider_id, appt_date, start_minutes)
// over active statuses is the booking race-breaker, and
// (provider_id, slot_date, start_minutes) is unique on time_slots.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const slotCols = `id, provider_id, slot_date, start_minutes, end_minutes, is_available, is_booked,
	max_appointments, current_appointments, is_recurring, weekdays, recurrence_end, created_at, updated_at`

const appointmentCols = `id, provider_id, patient_id, slot_id, service_id, appt_date, start_minutes,
	duration_minutes, appt_type, status, reason, notes, booked_by, booking_method, consultation_fee,
	is_paid, payment_method, confirmed_at, completed_at, reminder_sent, cancelled_at, cancelled_by,
	cancellation_reason, rescheduled_from, created_at, updated_at`

const reminderCols = `id, appointment_id, channel, scheduled_for, is_sent, status, error_detail, sent_at, created_at`

const waitlistCols = `id, patient_id, provider_id, preferred_date, window_start_minutes, window_end_minutes,
	appt_type, reason, priority, is_active, notified, created_at`

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func activeStatusStrings() []string {
	active := ActiveStatuses()
	out := make([]string, 0, len(active))
	for _, s := range active {
		out = append(out, string(s))
	}
	return out
}

func weekdaysToInts(ws []time.Weekday) []int32 {
	if len(ws) == 0 {
		return nil
	}
	out := make([]int32, 0, len(ws))
	for _, w := range ws {
		out = append(out, int32(w))
	}
	return out
}

func intsToWeekdays(xs []int32) []time.Weekday {
	if len(xs) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(xs))
	for _, x := range xs {
		out = append(out, time.Weekday(x))
	}
	return out
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var weekdays []int32

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartMinutes,
		&s.EndMinutes,
		&s.IsAvailable,
		&s.IsBooked,
		&s.MaxAppointments,
		&s.CurrentAppointments,
		&s.IsRecurring,
		&weekdays,
		&s.RecurrenceEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Weekdays = intsToWeekdays(weekdays)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.SlotID,
		&a.ServiceID,
		&a.Date,
		&a.StartMinutes,
		&a.DurationMinutes,
		&a.Type,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.BookedBy,
		&a.BookingMethod,
		&a.ConsultationFee,
		&a.IsPaid,
		&a.PaymentMethod,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.ReminderSent,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func scanReminder(row pgx.Row) (*AppointmentReminder, error) {
	var rem AppointmentReminder

	err := row.Scan(
		&rem.ID,
		&rem.AppointmentID,
		&rem.Channel,
		&rem.ScheduledFor,
		&rem.IsSent,
		&rem.Status,
		&rem.ErrorDetail,
		&rem.SentAt,
		&rem.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &rem, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitingListEntry, error) {
	var e WaitingListEntry

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.ProviderID,
		&e.PreferredDate,
		&e.WindowStartMinutes,
		&e.WindowEndMinutes,
		&e.Type,
		&e.Reason,
		&e.Priority,
		&e.IsActive,
		&e.Notified,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func insertLog(ctx context.Context, tx pgx.Tx, entry AppointmentLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_logs (id, appointment_id, action, actor, note, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`, entry.ID, entry.AppointmentID, entry.Action, entry.Actor, entry.Note, entry.OldValue, entry.NewValue, nullableTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// syncSlotOccupancy locks the slot row, recounts active appointments
// overlapping its window and persists the counter and is_booked flag. It
// returns the fresh count together with the slot's capacity.
func syncSlotOccupancy(ctx context.Context, tx pgx.Tx, slotID uuid.UUID) (current, capacity int, err error) {
	var providerID uuid.UUID
	var date time.Time
	var startMin, endMin, maxAppts int

	err = tx.QueryRow(ctx, `
		SELECT provider_id, slot_date, start_minutes, end_minutes, max_appointments
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&providerID, &date, &startMin, &endMin, &maxAppts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, &NotFoundError{Resource: "time_slot", ID: slotID}
		}
		return 0, 0, fmt.Errorf("lock slot: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		  AND status = ANY($3)
		  AND start_minutes < $5
		  AND start_minutes + duration_minutes > $4
	`, providerID, date, activeStatusStrings(), startMin, endMin).Scan(&current)
	if err != nil {
		return 0, 0, fmt.Errorf("count slot occupancy: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE time_slots
		SET current_appointments = $2,
		    is_booked = $3,
		    updated_at = now()
		WHERE id = $1
	`, slotID, current, current >= maxAppts)
	if err != nil {
		return 0, 0, fmt.Errorf("update slot occupancy: %w", err)
	}

	return current, maxAppts, nil
}

// Time slots

func (r *PgRepository) CreateSlot(ctx context.Context, s *TimeSlot) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO time_slots (id, provider_id, slot_date, start_minutes, end_minutes, is_available, is_booked,
			max_appointments, current_appointments, is_recurring, weekdays, recurrence_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`, s.ID, s.ProviderID, s.Date, s.StartMinutes, s.EndMinutes, s.IsAvailable, s.IsBooked,
		s.MaxAppointments, s.CurrentAppointments, s.IsRecurring, weekdaysToInts(s.Weekdays), s.RecurrenceEnd)

	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Resource: "time_slot", Detail: "slot already exists for this provider, date and start time"}
		}
		return fmt.Errorf("insert slot: %w", err)
	}

	return nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE id = $1
	`, id)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "time_slot", ID: id}
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}

	return s, nil
}

func (r *PgRepository) ListSlots(ctx context.Context, providerID uuid.UUID, from, until time.Time) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE provider_id = $1
		  AND slot_date >= $2
		  AND slot_date <= $3
		ORDER BY slot_date, start_minutes
	`, providerID, from, until)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountActiveInWindow(ctx context.Context, providerID uuid.UUID, date time.Time, startMinutes, endMinutes int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		  AND status = ANY($3)
		  AND start_minutes < $5
		  AND start_minutes + duration_minutes > $4
	`, providerID, date, activeStatusStrings(), startMinutes, endMinutes).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}

	return count, nil
}

// Care services

func (r *PgRepository) GetCareService(ctx context.Context, id uuid.UUID) (*CareService, error) {
	var cs CareService
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, name, price, duration_minutes, active
		FROM care_services
		WHERE id = $1
	`, id).Scan(&cs.ID, &cs.ProviderID, &cs.Name, &cs.Price, &cs.DurationMinutes, &cs.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "care_service", ID: id}
		}
		return nil, fmt.Errorf("get care service: %w", err)
	}

	return &cs, nil
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "appointment", ID: id}
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	return a, nil
}

func (r *PgRepository) FindActiveAt(ctx context.Context, providerID uuid.UUID, date time.Time, startMinutes int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		  AND start_minutes = $3
		  AND status = ANY($4)
		LIMIT 1
	`, providerID, date, startMinutes, activeStatusStrings())

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "appointment", ID: uuid.Nil}
		}
		return nil, fmt.Errorf("find active appointment: %w", err)
	}

	return a, nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	q := `SELECT ` + appointmentCols + ` FROM appointments WHERE 1=1`
	var args []any

	if f.ProviderID != nil {
		args = append(args, *f.ProviderID)
		q += fmt.Sprintf(" AND provider_id = $%d", len(args))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		q += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.Date != nil {
		args = append(args, *f.Date)
		q += fmt.Sprintf(" AND appt_date = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}

	q += " ORDER BY appt_date DESC, start_minutes DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment, entry AppointmentLog) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the slot row before inserting so that concurrent bookings against
	// the same slot serialize and each sees the other's committed row when
	// recounting.
	if a.SlotID != nil {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM time_slots WHERE id = $1 FOR UPDATE`, *a.SlotID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &NotFoundError{Resource: "time_slot", ID: *a.SlotID}
			}
			return fmt.Errorf("lock slot: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, slot_id, service_id, appt_date, start_minutes,
			duration_minutes, appt_type, status, reason, notes, booked_by, booking_method, consultation_fee,
			is_paid, payment_method, reminder_sent, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.ProviderID, a.PatientID, a.SlotID, a.ServiceID, a.Date, a.StartMinutes,
		a.DurationMinutes, a.Type, a.Status, a.Reason, a.Notes, a.BookedBy, a.BookingMethod, a.ConsultationFee,
		a.IsPaid, a.PaymentMethod, a.ReminderSent, a.RescheduledFrom)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Resource: "appointment", Detail: "this time is not available"}
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if a.SlotID != nil {
		current, capacity, err := syncSlotOccupancy(ctx, tx, *a.SlotID)
		if err != nil {
			return err
		}
		if current > capacity {
			return &ConflictError{Resource: "time_slot", Detail: "slot is fully booked"}
		}
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}

	return nil
}

// transitionFailure reports why a CAS transition matched no row: either the
// appointment is gone or its stored status does not admit the transition.
func (r *PgRepository) transitionFailure(ctx context.Context, id uuid.UUID, attempted string) error {
	appt, err := r.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidStateError{Current: appt.Status, Attempted: attempted}
}

func (r *PgRepository) ConfirmAppointment(ctx context.Context, id uuid.UUID, at time.Time, entry AppointmentLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    confirmed_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentCols+`
	`, id, at, StatusConfirmed, StatusPending)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionFailure(ctx, id, "confirm")
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm tx: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) StartAppointment(ctx context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentCols+`
	`, id, StatusInProgress, []string{string(StatusConfirmed), string(StatusScheduled)})

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionFailure(ctx, id, "start")
		}
		return nil, fmt.Errorf("start appointment: %w", err)
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit start tx: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, at time.Time, notes string, entry AppointmentLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    completed_at = $2,
		    notes = CASE
		        WHEN $4 = '' THEN notes
		        WHEN notes = '' THEN $4
		        ELSE notes || E'\n' || $4
		    END,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($5)
		RETURNING `+appointmentCols+`
	`, id, at, StatusCompleted, notes, []string{string(StatusConfirmed), string(StatusScheduled), string(StatusInProgress)})

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionFailure(ctx, id, "complete")
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	if appt.SlotID != nil {
		if _, _, err := syncSlotOccupancy(ctx, tx, *appt.SlotID); err != nil {
			return nil, err
		}
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete tx: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, c Cancellation, entry AppointmentLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "appointment", ID: id}
		}
		return nil, fmt.Errorf("load appointment for cancel: %w", err)
	}

	// Idempotent: a second cancel sees the terminal status and changes nothing.
	if appt.Status == StatusCancelled {
		return appt, nil
	}

	if !appt.Status.Active() {
		return nil, &InvalidStateError{Current: appt.Status, Attempted: "cancel"}
	}

	row = tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_at = $3,
		    cancelled_by = $4,
		    cancellation_reason = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols+`
	`, id, StatusCancelled, c.At, c.By, c.Reason)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if updated.SlotID != nil {
		if _, _, err := syncSlotOccupancy(ctx, tx, *updated.SlotID); err != nil {
			return nil, err
		}
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) MarkNoShow(ctx context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin no-show tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentCols+`
	`, id, StatusNoShow, []string{string(StatusConfirmed), string(StatusScheduled)})

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionFailure(ctx, id, "mark no-show")
		}
		return nil, fmt.Errorf("mark no-show: %w", err)
	}

	if appt.SlotID != nil {
		if _, _, err := syncSlotOccupancy(ctx, tx, *appt.SlotID); err != nil {
			return nil, err
		}
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit no-show tx: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) FindNoShowCandidates(ctx context.Context, onOrBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = ANY($1)
		  AND appt_date <= $2
		ORDER BY appt_date, start_minutes
		LIMIT $3
	`, []string{string(StatusConfirmed), string(StatusScheduled)}, onOrBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find no-show candidates: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Audit log

func (r *PgRepository) ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, action, actor, note, old_value, new_value, created_at
		FROM appointment_logs
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list appointment logs: %w", err)
	}
	defer rows.Close()

	var result []AppointmentLog
	for rows.Next() {
		var l AppointmentLog
		if err := rows.Scan(&l.ID, &l.AppointmentID, &l.Action, &l.Actor, &l.Note, &l.OldValue, &l.NewValue, &l.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Reminders

func (r *PgRepository) CreateReminder(ctx context.Context, rem *AppointmentReminder) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_reminders (id, appointment_id, channel, scheduled_for, is_sent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`, rem.ID, rem.AppointmentID, rem.Channel, rem.ScheduledFor, rem.IsSent, rem.Status)

	if err := row.Scan(&rem.CreatedAt); err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}

	return nil
}

func (r *PgRepository) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]AppointmentReminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reminderCols+`
		FROM appointment_reminders
		WHERE scheduled_for <= $1
		  AND is_sent = false
		  AND status = $2
		ORDER BY scheduled_for
		LIMIT $3
	`, now, ReminderPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var result []AppointmentReminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rem)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reminder tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var appointmentID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE appointment_reminders
		SET status = $2,
		    is_sent = true,
		    sent_at = $3
		WHERE id = $1
		RETURNING appointment_id
	`, id, ReminderSent, at).Scan(&appointmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Resource: "reminder", ID: id}
		}
		return fmt.Errorf("mark reminder sent: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("flag appointment reminder_sent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reminder tx: %w", err)
	}

	return nil
}

func (r *PgRepository) MarkReminderFailed(ctx context.Context, id uuid.UUID, detail string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = $2,
		    error_detail = $3
		WHERE id = $1
	`, id, ReminderFailed, detail)
	if err != nil {
		return fmt.Errorf("mark reminder failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &NotFoundError{Resource: "reminder", ID: id}
	}

	return nil
}

func (r *PgRepository) MarkReminderCancelled(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = $2
		WHERE id = $1
	`, id, ReminderCancelled)
	if err != nil {
		return fmt.Errorf("mark reminder cancelled: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &NotFoundError{Resource: "reminder", ID: id}
	}

	return nil
}

func (r *PgRepository) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = $2
		WHERE appointment_id = $1
		  AND status = $3
		  AND is_sent = false
	`, appointmentID, ReminderCancelled, ReminderPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// Waiting list

func (r *PgRepository) CreateWaitlistEntry(ctx context.Context, e *WaitingListEntry) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO waiting_list (id, patient_id, provider_id, preferred_date, window_start_minutes,
			window_end_minutes, appt_type, reason, priority, is_active, notified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at
	`, e.ID, e.PatientID, e.ProviderID, e.PreferredDate, e.WindowStartMinutes,
		e.WindowEndMinutes, e.Type, e.Reason, e.Priority, e.IsActive, e.Notified)

	if err := row.Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("insert waiting list entry: %w", err)
	}

	return nil
}

func (r *PgRepository) ListOpenWaitlistEntries(ctx context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+waitlistCols+`
		FROM waiting_list
		WHERE provider_id = $1
		  AND preferred_date = $2
		  AND is_active = true
		  AND notified = false
		ORDER BY priority, created_at
	`, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list open waiting list entries: %w", err)
	}
	defer rows.Close()

	return collectWaitlist(rows)
}

func (r *PgRepository) ListWaitlistEntries(ctx context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+waitlistCols+`
		FROM waiting_list
		WHERE provider_id = $1
		  AND preferred_date = $2
		ORDER BY priority, created_at
	`, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list waiting list entries: %w", err)
	}
	defer rows.Close()

	return collectWaitlist(rows)
}

func collectWaitlist(rows pgx.Rows) ([]WaitingListEntry, error) {
	var result []WaitingListEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkWaitlistNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE waiting_list
		SET notified = true,
		    is_active = false
		WHERE id = $1
		  AND notified = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark waiting list entry notified: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}
