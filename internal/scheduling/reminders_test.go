package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdesk/scheduling-core/internal/notify"
)

func TestReminderService_ScheduleDefaults(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	appt := &Appointment{
		ID:              uuid.New(),
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            DayOf(testNow.AddDate(0, 0, 3)),
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
		Status:          StatusPending,
	}

	created, err := env.reminders.ScheduleDefaults(ctx, appt)
	require.NoError(t, err)
	require.Len(t, created, 2)

	byChannel := map[ReminderChannel]AppointmentReminder{}
	for _, rem := range created {
		byChannel[rem.Channel] = rem
	}
	email, ok := byChannel[ChannelEmail]
	require.True(t, ok)
	assert.Equal(t, appt.StartsAt().Add(-24*time.Hour), email.ScheduledFor)

	sms, ok := byChannel[ChannelSMS]
	require.True(t, ok)
	assert.Equal(t, appt.StartsAt().Add(-2*time.Hour), sms.ScheduledFor)

	for _, rem := range created {
		assert.Equal(t, ReminderPending, rem.Status)
		assert.True(t, rem.ScheduledFor.After(testNow), "reminders are never past-dated")
	}
}

func TestReminderService_ScheduleDefaults_ShortNotice(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	// Three hours from now: only the 2 hour SMS lead still fits.
	appt := &Appointment{
		ID:              uuid.New(),
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            DayOf(testNow),
		StartMinutes:    12 * 60,
		DurationMinutes: 30,
		Status:          StatusPending,
	}
	created, err := env.reminders.ScheduleDefaults(ctx, appt)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, ChannelSMS, created[0].Channel)

	// Ninety minutes from now: no lead fits, no reminders at all.
	appt.ID = uuid.New()
	appt.StartMinutes = 10*60 + 30
	created, err = env.reminders.ScheduleDefaults(ctx, appt)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestReminderService_DrainDue(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	appt, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	// Nothing is due yet.
	stats, err := env.reminders.DrainDue(ctx, testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)

	// Past the email reminder's time, before the SMS one.
	drainAt := appt.StartsAt().Add(-23 * time.Hour)
	stats, err = env.reminders.DrainDue(ctx, drainAt, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Due: 1, Sent: 1}, stats)

	msgs := env.sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindReminder, msgs[0].Kind)
	assert.Equal(t, env.patient.Email, msgs[0].Recipient)
	assert.Equal(t, appt.ID, msgs[0].AppointmentID)
	assert.Contains(t, msgs[0].Body, env.provider.FullName)
	assert.Contains(t, msgs[0].Body, "10:00")

	// A second drain at the same instant finds nothing: sent is sent.
	stats, err = env.reminders.DrainDue(ctx, drainAt, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)

	// Past the SMS time the remaining reminder goes out to the phone.
	stats, err = env.reminders.DrainDue(ctx, appt.StartsAt().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Due: 1, Sent: 1}, stats)

	msgs = env.sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, env.patient.Phone, msgs[1].Recipient)
}

func TestReminderService_DrainDue_CancelledAppointment(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	appt, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	// Cancel behind the reminder service's back so the pending jobs are
	// still there when the drain runs.
	_, err = env.repo.CancelAppointment(ctx, appt.ID, Cancellation{At: testNow, By: "patient", Reason: "x"}, AppointmentLog{
		AppointmentID: appt.ID,
		Action:        ActionCancelled,
		Actor:         "patient",
	})
	require.NoError(t, err)

	stats, err := env.reminders.DrainDue(ctx, appt.StartsAt(), 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Due: 2, Cancelled: 2}, stats)
	assert.Empty(t, env.sender.sent())
}

func TestReminderService_DrainDue_FailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	// The second patient's email delivery fails.
	broken := env.addPatient("Noor Haddad", "noor@example.com", "+15550101")
	env.sender.failWith[broken.Email] = assert.AnError

	a1, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       env.patient.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    10 * 60,
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	a2, err := env.booking.Book(ctx, BookRequest{
		ProviderID:      env.provider.ID,
		PatientID:       broken.ID,
		Date:            testNow.AddDate(0, 0, 3),
		StartMinutes:    11 * 60,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	// Both email reminders are due; only one delivery succeeds.
	stats, err := env.reminders.DrainDue(ctx, a2.StartsAt().Add(-23*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent+stats.Failed)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)

	env.repo.mu.Lock()
	defer env.repo.mu.Unlock()
	for _, rem := range env.repo.reminders {
		if rem.Channel != ChannelEmail {
			continue
		}
		switch rem.AppointmentID {
		case a1.ID:
			assert.Equal(t, ReminderSent, rem.Status)
			assert.True(t, rem.IsSent)
		case a2.ID:
			assert.Equal(t, ReminderFailed, rem.Status)
			require.NotNil(t, rem.ErrorDetail)
		}
	}
}

func TestReminderService_DrainDue_BatchLimit(t *testing.T) {
	env := newTestEnv(testNow)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.booking.Book(ctx, BookRequest{
			ProviderID:      env.provider.ID,
			PatientID:       env.patient.ID,
			Date:            testNow.AddDate(0, 0, 3),
			StartMinutes:    (10 + i) * 60,
			DurationMinutes: 30,
		})
		require.NoError(t, err)
	}

	stats, err := env.reminders.DrainDue(ctx, testNow.AddDate(0, 0, 4), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Due, "batch size caps one drain pass")
}
