package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SlotService owns bookable capacity: it creates single or recurring slots
// and answers availability queries. It never creates appointments.
type SlotService struct {
	repo  Repository
	clock Clock
	log   zerolog.Logger
}

func NewSlotService(repo Repository, clock Clock, log zerolog.Logger) *SlotService {
	return &SlotService{
		repo:  repo,
		clock: clock,
		log:   log,
	}
}

type CreateSlotParams struct {
	ProviderID      uuid.UUID
	Date            time.Time
	StartMinutes    int
	EndMinutes      int
	MaxAppointments int
}

// SlotTemplate is one daily entry of a recurring definition.
type SlotTemplate struct {
	StartMinutes    int
	EndMinutes      int
	MaxAppointments int
}

type CreateRecurringParams struct {
	ProviderID uuid.UUID
	From       time.Time
	Until      time.Time
	Templates  []SlotTemplate
	// Weekdays restricts creation to the given weekdays. Empty means every day.
	Weekdays []time.Weekday
}

func validateSlotWindow(startMinutes, endMinutes, maxAppointments int) error {
	if startMinutes < 0 || startMinutes >= 24*60 {
		return &ValidationError{Field: "start_time", Reason: "must be within the day"}
	}
	if endMinutes <= startMinutes {
		return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	if endMinutes > 24*60 {
		return &ValidationError{Field: "end_time", Reason: "must be within the day"}
	}
	if maxAppointments < 1 {
		return &ValidationError{Field: "max_appointments", Reason: "must be at least 1"}
	}
	return nil
}

func (s *SlotService) CreateSlot(ctx context.Context, p CreateSlotParams) (*TimeSlot, error) {
	if p.ProviderID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if err := validateSlotWindow(p.StartMinutes, p.EndMinutes, p.MaxAppointments); err != nil {
		return nil, err
	}

	date := DayOf(p.Date)
	if date.Before(DayOf(s.clock.Now())) {
		return nil, &ValidationError{Field: "date", Reason: "is in the past"}
	}

	slot := &TimeSlot{
		ID:              uuid.New(),
		ProviderID:      p.ProviderID,
		Date:            date,
		StartMinutes:    p.StartMinutes,
		EndMinutes:      p.EndMinutes,
		IsAvailable:     true,
		MaxAppointments: p.MaxAppointments,
	}

	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		// A duplicate (provider, date, start) is an input problem here, not a
		// booking race.
		if IsConflict(err) {
			return nil, &ValidationError{Field: "start_time", Reason: "a slot already exists for this provider, date and start time"}
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("provider_id", slot.ProviderID.String()).
		Str("date", date.Format("2006-01-02")).
		Int("start_minutes", slot.StartMinutes).
		Msg("slot created")

	return slot, nil
}

// CreateRecurringSlots walks each calendar day in the range, creating one
// slot per template on the days whose weekday is selected. Days and starts
// that already have a slot are skipped, so re-running an overlapping range is
// idempotent. Only newly created slots are returned.
func (s *SlotService) CreateRecurringSlots(ctx context.Context, p CreateRecurringParams) ([]*TimeSlot, error) {
	if p.ProviderID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if len(p.Templates) == 0 {
		return nil, &ValidationError{Field: "templates", Reason: "at least one slot template is required"}
	}
	for _, t := range p.Templates {
		if err := validateSlotWindow(t.StartMinutes, t.EndMinutes, t.MaxAppointments); err != nil {
			return nil, err
		}
	}

	from := DayOf(p.From)
	until := DayOf(p.Until)
	if until.Before(from) {
		return nil, &ValidationError{Field: "until", Reason: "must not be before from"}
	}
	if until.Before(DayOf(s.clock.Now())) {
		return nil, &ValidationError{Field: "until", Reason: "range is entirely in the past"}
	}

	wanted := make(map[time.Weekday]bool, len(p.Weekdays))
	for _, w := range p.Weekdays {
		wanted[w] = true
	}

	existing, err := s.repo.ListSlots(ctx, p.ProviderID, from, until)
	if err != nil {
		return nil, fmt.Errorf("list existing slots: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, sl := range existing {
		taken[slotKey(sl.Date, sl.StartMinutes)] = true
	}

	today := DayOf(s.clock.Now())
	recurrenceEnd := until

	var created []*TimeSlot
	for day := from; !day.After(until); day = day.AddDate(0, 0, 1) {
		if day.Before(today) {
			continue
		}
		if len(wanted) > 0 && !wanted[day.Weekday()] {
			continue
		}

		for _, t := range p.Templates {
			if taken[slotKey(day, t.StartMinutes)] {
				continue
			}

			slot := &TimeSlot{
				ID:              uuid.New(),
				ProviderID:      p.ProviderID,
				Date:            day,
				StartMinutes:    t.StartMinutes,
				EndMinutes:      t.EndMinutes,
				IsAvailable:     true,
				MaxAppointments: t.MaxAppointments,
				IsRecurring:     true,
				Weekdays:        p.Weekdays,
				RecurrenceEnd:   &recurrenceEnd,
			}

			if err := s.repo.CreateSlot(ctx, slot); err != nil {
				// Lost a race with another creator for the same start; the
				// slot exists either way.
				if IsConflict(err) {
					continue
				}
				return nil, fmt.Errorf("create recurring slot: %w", err)
			}

			taken[slotKey(day, t.StartMinutes)] = true
			created = append(created, slot)
		}
	}

	s.log.Info().
		Str("provider_id", p.ProviderID.String()).
		Str("from", from.Format("2006-01-02")).
		Str("until", until.Format("2006-01-02")).
		Int("created", len(created)).
		Msg("recurring slots created")

	return created, nil
}

func slotKey(date time.Time, startMinutes int) string {
	return fmt.Sprintf("%s#%d", date.Format("2006-01-02"), startMinutes)
}

// ListAvailable returns open slots for the provider on a date that can still
// take an appointment of the requested duration. Remaining capacity is
// recomputed from active appointments rather than trusted from the stored
// counter, so a drifted counter cannot hide or invent capacity.
func (s *SlotService) ListAvailable(ctx context.Context, providerID uuid.UUID, date time.Time, minDurationMinutes int) ([]SlotAvailability, error) {
	if providerID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if minDurationMinutes < 0 {
		return nil, &ValidationError{Field: "duration", Reason: "must not be negative"}
	}

	day := DayOf(date)
	now := s.clock.Now()
	if day.Before(DayOf(now)) {
		return nil, &ValidationError{Field: "date", Reason: "is in the past"}
	}

	slots, err := s.repo.ListSlots(ctx, providerID, day, day)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	var result []SlotAvailability
	for _, slot := range slots {
		if !slot.IsAvailable {
			continue
		}
		if minDurationMinutes > 0 && slot.DurationMinutes() < minDurationMinutes {
			continue
		}
		// Same-day queries drop slots that have fully elapsed.
		if slot.EndsAt().Before(now) {
			continue
		}

		active, err := s.repo.CountActiveInWindow(ctx, providerID, day, slot.StartMinutes, slot.EndMinutes)
		if err != nil {
			return nil, fmt.Errorf("count occupancy for slot %s: %w", slot.ID, err)
		}

		remaining := slot.MaxAppointments - active
		if remaining <= 0 {
			continue
		}

		result = append(result, SlotAvailability{Slot: slot, Remaining: remaining})
	}

	return result, nil
}
