package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

func TestParseDate(t *testing.T) {
	got, err := parseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got)

	for _, bad := range []string{"", "10-03-2025", "2025/03/10", "2025-03-10T09:00:00Z"} {
		_, err := parseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"09:05": 9*60 + 5,
		"14:30": 14*60 + 30,
		"23:59": 23*60 + 59,
	}
	for in, want := range cases {
		got, err := parseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd", "-1:00"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestWriteDomainError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &scheduling.ValidationError{Field: "date", Reason: "is in the past"}, 400, "validation_failed"},
		{"not found", &scheduling.NotFoundError{Resource: "appointment", ID: uuid.New()}, 404, "not_found"},
		{"conflict", &scheduling.ConflictError{Resource: "appointment", Detail: "taken"}, 409, "conflict"},
		{"invalid state", &scheduling.InvalidStateError{Current: scheduling.StatusCompleted, Attempted: "cancel"}, 409, "invalid_state"},
		{"unknown", assert.AnError, 500, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantCode)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}
