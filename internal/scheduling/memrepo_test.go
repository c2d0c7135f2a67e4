package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthdesk/scheduling-core/internal/notify"
)

// Shared test fakes: an in-memory Repository with the same error mapping and
// occupancy bookkeeping as the Postgres implementation, a fixed clock, a
// map-backed identity resolver, a recording sender and a pass-through lock.

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type fakeResolver struct {
	providers map[uuid.UUID]*Provider
	patients  map[uuid.UUID]*Patient
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		providers: make(map[uuid.UUID]*Provider),
		patients:  make(map[uuid.UUID]*Patient),
	}
}

func (r *fakeResolver) Provider(_ context.Context, id uuid.UUID) (*Provider, error) {
	if p, ok := r.providers[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, &NotFoundError{Resource: "provider", ID: id}
}

func (r *fakeResolver) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, &NotFoundError{Resource: "patient", ID: id}
}

type recordSender struct {
	mu       sync.Mutex
	messages []notify.Message
	// failWith, when set, makes Send fail for matching recipients.
	failWith map[string]error
}

func newRecordSender() *recordSender {
	return &recordSender{failWith: make(map[string]error)}
}

func (s *recordSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failWith[msg.Recipient]; ok {
		return err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordSender) Close() error { return nil }

func (s *recordSender) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

type passLocker struct{}

func (passLocker) WithBookingLock(ctx context.Context, _ uuid.UUID, _ time.Time, _ int, fn func(context.Context) error) error {
	return fn(ctx)
}

type memRepo struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*TimeSlot
	careServices map[uuid.UUID]*CareService
	appointments map[uuid.UUID]*Appointment
	logs         []AppointmentLog
	reminders    map[uuid.UUID]*AppointmentReminder
	waitlist     map[uuid.UUID]*WaitingListEntry
	seq          int
}

func newMemRepo() *memRepo {
	return &memRepo{
		slots:        make(map[uuid.UUID]*TimeSlot),
		careServices: make(map[uuid.UUID]*CareService),
		appointments: make(map[uuid.UUID]*Appointment),
		reminders:    make(map[uuid.UUID]*AppointmentReminder),
		waitlist:     make(map[uuid.UUID]*WaitingListEntry),
	}
}

// tick produces strictly increasing timestamps for created_at ordering.
func (r *memRepo) tick() time.Time {
	r.seq++
	return time.Date(2025, 1, 1, 0, 0, 0, r.seq, time.UTC)
}

func cloneAppt(a *Appointment) *Appointment {
	cp := *a
	return &cp
}

func cloneSlot(s *TimeSlot) *TimeSlot {
	cp := *s
	return &cp
}

// Time slots

func (r *memRepo) CreateSlot(_ context.Context, s *TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.slots {
		if existing.ProviderID == s.ProviderID && existing.Date.Equal(s.Date) && existing.StartMinutes == s.StartMinutes {
			return &ConflictError{Resource: "time_slot", Detail: "slot already exists for this provider, date and start time"}
		}
	}

	s.CreatedAt = r.tick()
	s.UpdatedAt = s.CreatedAt
	r.slots[s.ID] = cloneSlot(s)
	return nil
}

func (r *memRepo) GetSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, &NotFoundError{Resource: "time_slot", ID: id}
	}
	return cloneSlot(s), nil
}

func (r *memRepo) ListSlots(_ context.Context, providerID uuid.UUID, from, until time.Time) ([]TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TimeSlot
	for _, s := range r.slots {
		if s.ProviderID != providerID {
			continue
		}
		if s.Date.Before(from) || s.Date.After(until) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartMinutes < out[j].StartMinutes
	})
	return out, nil
}

func (r *memRepo) countActiveInWindowLocked(providerID uuid.UUID, date time.Time, startMinutes, endMinutes int) int {
	count := 0
	for _, a := range r.appointments {
		if a.ProviderID != providerID || !a.Date.Equal(date) || !a.Status.Active() {
			continue
		}
		if Overlaps(a.StartMinutes, a.StartMinutes+a.DurationMinutes, startMinutes, endMinutes) {
			count++
		}
	}
	return count
}

func (r *memRepo) CountActiveInWindow(_ context.Context, providerID uuid.UUID, date time.Time, startMinutes, endMinutes int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countActiveInWindowLocked(providerID, date, startMinutes, endMinutes), nil
}

// Care services

func (r *memRepo) GetCareService(_ context.Context, id uuid.UUID) (*CareService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.careServices[id]
	if !ok {
		return nil, &NotFoundError{Resource: "care_service", ID: id}
	}
	cp := *cs
	return &cp, nil
}

// Appointments

func (r *memRepo) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	return cloneAppt(a), nil
}

func (r *memRepo) FindActiveAt(_ context.Context, providerID uuid.UUID, date time.Time, startMinutes int) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.StartMinutes == startMinutes && a.Status.Active() {
			return cloneAppt(a), nil
		}
	}
	return nil, &NotFoundError{Resource: "appointment", ID: uuid.Nil}
}

func (r *memRepo) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Date != nil && !a.Date.Equal(*f.Date) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) syncSlotLocked(slotID uuid.UUID) (current, capacity int, err error) {
	slot, ok := r.slots[slotID]
	if !ok {
		return 0, 0, &NotFoundError{Resource: "time_slot", ID: slotID}
	}

	current = r.countActiveInWindowLocked(slot.ProviderID, slot.Date, slot.StartMinutes, slot.EndMinutes)
	slot.CurrentAppointments = current
	slot.IsBooked = current >= slot.MaxAppointments
	return current, slot.MaxAppointments, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment, entry AppointmentLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.appointments {
		if existing.ProviderID == a.ProviderID && existing.Date.Equal(a.Date) && existing.StartMinutes == a.StartMinutes && existing.Status.Active() {
			return &ConflictError{Resource: "appointment", Detail: "this time is not available"}
		}
	}

	a.CreatedAt = r.tick()
	a.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = cloneAppt(a)

	if a.SlotID != nil {
		current, capacity, err := r.syncSlotLocked(*a.SlotID)
		if err != nil {
			delete(r.appointments, a.ID)
			return err
		}
		if current > capacity {
			delete(r.appointments, a.ID)
			r.syncSlotLocked(*a.SlotID)
			return &ConflictError{Resource: "time_slot", Detail: "slot is fully booked"}
		}
	}

	r.appendLogLocked(entry)
	return nil
}

func (r *memRepo) appendLogLocked(entry AppointmentLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.tick()
	}
	r.logs = append(r.logs, entry)
}

func (r *memRepo) transitionFailureLocked(id uuid.UUID, attempted string) error {
	a, ok := r.appointments[id]
	if !ok {
		return &NotFoundError{Resource: "appointment", ID: id}
	}
	return &InvalidStateError{Current: a.Status, Attempted: attempted}
}

func (r *memRepo) ConfirmAppointment(_ context.Context, id uuid.UUID, at time.Time, entry AppointmentLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusPending {
		return nil, r.transitionFailureLocked(id, "confirm")
	}

	a.Status = StatusConfirmed
	a.ConfirmedAt = &at
	a.UpdatedAt = r.tick()
	r.appendLogLocked(entry)
	return cloneAppt(a), nil
}

func (r *memRepo) StartAppointment(_ context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || (a.Status != StatusConfirmed && a.Status != StatusScheduled) {
		return nil, r.transitionFailureLocked(id, "start")
	}

	a.Status = StatusInProgress
	a.UpdatedAt = r.tick()
	r.appendLogLocked(entry)
	return cloneAppt(a), nil
}

func (r *memRepo) CompleteAppointment(_ context.Context, id uuid.UUID, at time.Time, notes string, entry AppointmentLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || (a.Status != StatusConfirmed && a.Status != StatusScheduled && a.Status != StatusInProgress) {
		return nil, r.transitionFailureLocked(id, "complete")
	}

	a.Status = StatusCompleted
	a.CompletedAt = &at
	if notes != "" {
		if a.Notes == "" {
			a.Notes = notes
		} else {
			a.Notes = a.Notes + "\n" + notes
		}
	}
	a.UpdatedAt = r.tick()

	if a.SlotID != nil {
		r.syncSlotLocked(*a.SlotID)
	}

	r.appendLogLocked(entry)
	return cloneAppt(a), nil
}

func (r *memRepo) CancelAppointment(_ context.Context, id uuid.UUID, c Cancellation, entry AppointmentLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}

	if a.Status == StatusCancelled {
		return cloneAppt(a), nil
	}
	if !a.Status.Active() {
		return nil, &InvalidStateError{Current: a.Status, Attempted: "cancel"}
	}

	a.Status = StatusCancelled
	at := c.At
	a.CancelledAt = &at
	by := c.By
	a.CancelledBy = &by
	reason := c.Reason
	a.CancellationReason = &reason
	a.UpdatedAt = r.tick()

	if a.SlotID != nil {
		r.syncSlotLocked(*a.SlotID)
	}

	r.appendLogLocked(entry)
	return cloneAppt(a), nil
}

func (r *memRepo) MarkNoShow(_ context.Context, id uuid.UUID, entry AppointmentLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || (a.Status != StatusConfirmed && a.Status != StatusScheduled) {
		return nil, r.transitionFailureLocked(id, "mark no-show")
	}

	a.Status = StatusNoShow
	a.UpdatedAt = r.tick()

	if a.SlotID != nil {
		r.syncSlotLocked(*a.SlotID)
	}

	r.appendLogLocked(entry)
	return cloneAppt(a), nil
}

func (r *memRepo) FindNoShowCandidates(_ context.Context, onOrBefore time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusConfirmed && a.Status != StatusScheduled {
			continue
		}
		if a.Date.After(onOrBefore) {
			continue
		}
		out = append(out, *a)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Audit log

func (r *memRepo) ListLogs(_ context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AppointmentLog
	for _, l := range r.logs {
		if l.AppointmentID == appointmentID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Reminders

func (r *memRepo) CreateReminder(_ context.Context, rem *AppointmentReminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem.CreatedAt = r.tick()
	cp := *rem
	r.reminders[rem.ID] = &cp
	return nil
}

func (r *memRepo) ListDueReminders(_ context.Context, now time.Time, limit int) ([]AppointmentReminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AppointmentReminder
	for _, rem := range r.reminders {
		if rem.IsSent || rem.Status != ReminderPending || rem.ScheduledFor.After(now) {
			continue
		}
		out = append(out, *rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.reminders[id]
	if !ok {
		return &NotFoundError{Resource: "reminder", ID: id}
	}
	rem.Status = ReminderSent
	rem.IsSent = true
	sentAt := at
	rem.SentAt = &sentAt

	if a, ok := r.appointments[rem.AppointmentID]; ok {
		a.ReminderSent = true
	}
	return nil
}

func (r *memRepo) MarkReminderFailed(_ context.Context, id uuid.UUID, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.reminders[id]
	if !ok {
		return &NotFoundError{Resource: "reminder", ID: id}
	}
	rem.Status = ReminderFailed
	d := detail
	rem.ErrorDetail = &d
	return nil
}

func (r *memRepo) MarkReminderCancelled(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.reminders[id]
	if !ok {
		return &NotFoundError{Resource: "reminder", ID: id}
	}
	rem.Status = ReminderCancelled
	return nil
}

func (r *memRepo) CancelPendingReminders(_ context.Context, appointmentID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rem := range r.reminders {
		if rem.AppointmentID == appointmentID && rem.Status == ReminderPending && !rem.IsSent {
			rem.Status = ReminderCancelled
			n++
		}
	}
	return n, nil
}

// Waiting list

func (r *memRepo) CreateWaitlistEntry(_ context.Context, e *WaitingListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.CreatedAt = r.tick()
	cp := *e
	r.waitlist[e.ID] = &cp
	return nil
}

func (r *memRepo) listWaitlistLocked(providerID uuid.UUID, date time.Time, openOnly bool) []WaitingListEntry {
	var out []WaitingListEntry
	for _, e := range r.waitlist {
		if e.ProviderID != providerID || !e.PreferredDate.Equal(date) {
			continue
		}
		if openOnly && (!e.IsActive || e.Notified) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memRepo) ListOpenWaitlistEntries(_ context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listWaitlistLocked(providerID, date, true), nil
}

func (r *memRepo) ListWaitlistEntries(_ context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listWaitlistLocked(providerID, date, false), nil
}

func (r *memRepo) MarkWaitlistNotified(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.waitlist[id]
	if !ok {
		return false, &NotFoundError{Resource: "waiting_list_entry", ID: id}
	}
	if e.Notified {
		return false, nil
	}
	e.Notified = true
	e.IsActive = false
	return true, nil
}

// testEnv wires every service over the shared fakes.
type testEnv struct {
	repo      *memRepo
	ids       *fakeResolver
	sender    *recordSender
	clock     *fixedClock
	slots     *SlotService
	booking   *BookingService
	lifecycle *LifecycleService
	reminders *ReminderService
	waitlist  *WaitlistService

	provider *Provider
	patient  *Patient
}

func newTestEnv(now time.Time) *testEnv {
	repo := newMemRepo()
	ids := newFakeResolver()
	sender := newRecordSender()
	clock := &fixedClock{now: now}
	log := zerolog.Nop()

	provider := &Provider{ID: uuid.New(), FullName: "Dr. Vera Osei", Specialty: "Cardiology", StandardFee: 80}
	patient := &Patient{ID: uuid.New(), FullName: "Sam Kato", Email: "sam@example.com", Phone: "+15550100"}
	ids.providers[provider.ID] = provider
	ids.patients[patient.ID] = patient

	reminders := NewReminderService(repo, ids, sender, clock, log)
	waitlist := NewWaitlistService(repo, ids, sender, clock, log)
	booking := NewBookingService(repo, ids, reminders, passLocker{}, clock, log)
	lifecycle := NewLifecycleService(repo, booking, reminders, waitlist, clock, log, time.Second)
	slots := NewSlotService(repo, clock, log)

	return &testEnv{
		repo:      repo,
		ids:       ids,
		sender:    sender,
		clock:     clock,
		slots:     slots,
		booking:   booking,
		lifecycle: lifecycle,
		reminders: reminders,
		waitlist:  waitlist,
		provider:  provider,
		patient:   patient,
	}
}

func (e *testEnv) addPatient(name, email, phone string) *Patient {
	p := &Patient{ID: uuid.New(), FullName: name, Email: email, Phone: phone}
	e.ids.patients[p.ID] = p
	return p
}

func (e *testEnv) addCareService(providerID uuid.UUID, price float64) *CareService {
	cs := &CareService{
		ID:              uuid.New(),
		ProviderID:      providerID,
		Name:            fmt.Sprintf("service-%d", len(e.repo.careServices)+1),
		Price:           price,
		DurationMinutes: 30,
		Active:          true,
	}
	e.repo.careServices[cs.ID] = cs
	return cs
}
