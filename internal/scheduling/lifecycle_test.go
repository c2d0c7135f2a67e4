package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdesk/scheduling-core/internal/notify"
)

func bookFuture(t *testing.T, env *testEnv, startMinutes int) *Appointment {
	t.Helper()
	appt, err := env.booking.Book(context.Background(), BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    startMinutes,
		DurationMinutes: 30,
		BookedBy:        "patient",
	})
	require.NoError(t, err)
	return appt
}

func TestLifecycleService_Confirm(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	confirmed, err := env.lifecycle.Confirm(ctx, appt.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, testNow, *confirmed.ConfirmedAt)

	logs, err := env.repo.ListLogs(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, ActionConfirmed, logs[1].Action)
	assert.Equal(t, "staff", logs[1].Actor)
}

func TestLifecycleService_Confirm_OnlyFromPending(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	_, err := env.lifecycle.Confirm(ctx, appt.ID, "staff")
	require.NoError(t, err)

	_, err = env.lifecycle.Confirm(ctx, appt.ID, "staff")
	require.True(t, IsInvalidState(err))
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StatusConfirmed, ise.Current)

	// The failed attempt must not add a log entry.
	logs, err := env.repo.ListLogs(ctx, appt.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestLifecycleService_StartAndComplete(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	_, err := env.lifecycle.Confirm(ctx, appt.ID, "staff")
	require.NoError(t, err)

	started, err := env.lifecycle.Start(ctx, appt.ID, "provider")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	done, err := env.lifecycle.Complete(ctx, appt.ID, "provider", "all good")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "all good", done.Notes)

	// Completed appointments accept no further transitions.
	_, err = env.lifecycle.Start(ctx, appt.ID, "provider")
	assert.True(t, IsInvalidState(err))
	_, err = env.lifecycle.Confirm(ctx, appt.ID, "staff")
	assert.True(t, IsInvalidState(err))
}

func TestLifecycleService_Start_RequiresConfirmedOrScheduled(t *testing.T) {
	env := newTestEnv(testNow)
	appt := bookFuture(t, env, 10*60)

	_, err := env.lifecycle.Start(context.Background(), appt.ID, "provider")
	assert.True(t, IsInvalidState(err), "pending appointments cannot start, got %v", err)
}

func TestLifecycleService_Cancel_ReleasesSlot(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	date := testNow.AddDate(0, 0, 3)

	slot, err := env.slots.CreateSlot(ctx, CreateSlotParams{
		ProviderID:      env.provider.ID,
		Date:            date,
		StartMinutes:    9 * 60,
		EndMinutes:      10 * 60,
		MaxAppointments: 1,
	})
	require.NoError(t, err)

	appt, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            date,
		StartMinutes:    9 * 60,
		DurationMinutes: 30,
		SlotID:          &slot.ID,
	})
	require.NoError(t, err)

	stored, err := env.repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	require.True(t, stored.IsBooked)

	cancelled, err := env.lifecycle.Cancel(ctx, appt.ID, "patient", "can't make it")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, "patient", *cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "can't make it", *cancelled.CancellationReason)

	stored, err = env.repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentAppointments)
	assert.False(t, stored.IsBooked)
}

func TestLifecycleService_Cancel_Idempotent(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	first, err := env.lifecycle.Cancel(ctx, appt.ID, "patient", "conflict")
	require.NoError(t, err)

	second, err := env.lifecycle.Cancel(ctx, appt.ID, "patient", "again")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)
	require.NotNil(t, second.CancellationReason)
	assert.Equal(t, *first.CancellationReason, *second.CancellationReason, "second cancel must not overwrite the first")

	logs, err := env.repo.ListLogs(ctx, appt.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2, "created + one cancellation, no entry for the no-op")
}

func TestLifecycleService_Cancel_RejectsElapsed(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	env.clock.now = appt.StartsAt().Add(time.Minute)
	_, err := env.lifecycle.Cancel(ctx, appt.ID, "patient", "too late")
	assert.True(t, IsInvalidState(err))
}

func TestLifecycleService_Cancel_VoidsReminders(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	_, err := env.lifecycle.Cancel(ctx, appt.ID, "patient", "conflict")
	require.NoError(t, err)

	env.repo.mu.Lock()
	defer env.repo.mu.Unlock()
	for _, rem := range env.repo.reminders {
		if rem.AppointmentID == appt.ID {
			assert.Equal(t, ReminderCancelled, rem.Status)
		}
	}
}

func TestLifecycleService_Cancel_NotifiesWaitlistOnce(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	date := testNow.AddDate(0, 0, 3)

	waiting := env.addPatient("Noor Haddad", "noor@example.com", "+15550101")
	entry, err := env.waitlist.AddEntry(ctx, AddWaitlistParams{
		PatientID:     waiting.ID,
		ProviderID:    env.provider.ID,
		PreferredDate: date,
	})
	require.NoError(t, err)

	appt, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            date,
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	_, err = env.lifecycle.Cancel(ctx, appt.ID, "patient", "conflict")
	require.NoError(t, err)

	var freed []notify.Message
	for _, msg := range env.sender.sent() {
		if msg.Kind == notify.KindSlotFreed {
			freed = append(freed, msg)
		}
	}
	require.Len(t, freed, 1)
	assert.Equal(t, waiting.Email, freed[0].Recipient)

	open, err := env.repo.ListOpenWaitlistEntries(ctx, env.provider.ID, DayOf(date))
	require.NoError(t, err)
	assert.Empty(t, open, "notified entries leave the open set")

	all, err := env.waitlist.ListEntries(ctx, env.provider.ID, date)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, entry.ID, all[0].ID)
	assert.True(t, all[0].Notified)
	assert.False(t, all[0].IsActive)
}

func TestLifecycleService_Reschedule(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	svc := env.addCareService(env.provider.ID, 120)

	original, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
		ServiceID:       &svc.ID,
		BookedBy:        "patient",
	})
	require.NoError(t, err)

	newDate := testNow.AddDate(0, 0, 5)
	res, err := env.lifecycle.Reschedule(ctx, original.ID, "patient", newDate, 14*60, "work trip")
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, res.New.Status)
	require.NotNil(t, res.New.RescheduledFrom)
	assert.Equal(t, original.ID, *res.New.RescheduledFrom)
	assert.Equal(t, original.ConsultationFee, res.New.ConsultationFee, "fee carries over, not re-derived")
	assert.Equal(t, original.DurationMinutes, res.New.DurationMinutes)
	assert.Equal(t, svc.ID, *res.New.ServiceID)

	assert.Equal(t, StatusCancelled, res.Original.Status)
	require.NotNil(t, res.Original.CancellationReason)
	assert.Contains(t, *res.Original.CancellationReason, res.New.ID.String())
	assert.Contains(t, *res.Original.CancellationReason, "work trip")

	logs, err := env.repo.ListLogs(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, ActionRescheduled, logs[1].Action)
}

func TestLifecycleService_Reschedule_ConflictKeepsOriginal(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	original := bookFuture(t, env, 10*60)
	blocker := bookFuture(t, env, 11*60)
	_ = blocker

	// The target time is already taken, so the reschedule must fail and the
	// original must stay active.
	_, err := env.lifecycle.Reschedule(ctx, original.ID, "patient", testNow.AddDate(0, 0, 3), 11*60, "")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	stored, err := env.repo.GetAppointment(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestLifecycleService_MarkNoShow(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	_, err := env.lifecycle.Confirm(ctx, appt.ID, "staff")
	require.NoError(t, err)

	// Still in the future: refused.
	_, err = env.lifecycle.MarkNoShow(ctx, appt.ID, "staff")
	require.True(t, IsInvalidState(err))

	env.clock.now = appt.EndsAt().Add(time.Minute)
	marked, err := env.lifecycle.MarkNoShow(ctx, appt.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)
}

func TestLifecycleService_MarkNoShow_RequiresConfirmedOrScheduled(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()
	appt := bookFuture(t, env, 10*60)

	env.clock.now = appt.EndsAt().Add(time.Minute)
	_, err := env.lifecycle.MarkNoShow(ctx, appt.ID, "staff")
	assert.True(t, IsInvalidState(err), "pending appointments are not no-show candidates, got %v", err)
}

func TestLifecycleService_SweepNoShows(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	early := bookFuture(t, env, 9*60)
	late := bookFuture(t, env, 16*60)
	pending := bookFuture(t, env, 12*60)
	_ = pending

	_, err := env.lifecycle.Confirm(ctx, early.ID, "staff")
	require.NoError(t, err)
	_, err = env.lifecycle.Confirm(ctx, late.ID, "staff")
	require.NoError(t, err)

	// Midday on the appointment day: the early one has elapsed past the
	// grace period, the late one has not started, the pending one is not a
	// candidate at all.
	env.clock.now = early.EndsAt().Add(time.Hour)

	marked, err := env.lifecycle.SweepNoShows(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	stored, err := env.repo.GetAppointment(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, stored.Status)

	stored, err = env.repo.GetAppointment(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)

	stored, err = env.repo.GetAppointment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}
