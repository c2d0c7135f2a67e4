package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthdesk/scheduling-core/internal/notify"
)

// WaitlistService keeps standing requests for capacity and matches them when
// a cancellation frees a time. Matching never books anything; it only marks
// entries notified and hands payloads to the external sender.
type WaitlistService struct {
	repo   Repository
	ids    IdentityResolver
	sender notify.Sender
	clock  Clock
	log    zerolog.Logger
}

func NewWaitlistService(repo Repository, ids IdentityResolver, sender notify.Sender, clock Clock, log zerolog.Logger) *WaitlistService {
	return &WaitlistService{
		repo:   repo,
		ids:    ids,
		sender: sender,
		clock:  clock,
		log:    log,
	}
}

type AddWaitlistParams struct {
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	PreferredDate      time.Time
	WindowStartMinutes *int
	WindowEndMinutes   *int
	Type               string
	Reason             string
	// Priority runs 1 (highest) to 10 (lowest). Zero selects the default 5.
	Priority int
}

func (s *WaitlistService) AddEntry(ctx context.Context, p AddWaitlistParams) (*WaitingListEntry, error) {
	if p.PatientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if p.ProviderID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.Priority < 1 || p.Priority > 10 {
		return nil, &ValidationError{Field: "priority", Reason: "must be between 1 and 10"}
	}
	if (p.WindowStartMinutes == nil) != (p.WindowEndMinutes == nil) {
		return nil, &ValidationError{Field: "preferred_window", Reason: "start and end must be set together"}
	}
	if p.WindowStartMinutes != nil && *p.WindowStartMinutes >= *p.WindowEndMinutes {
		return nil, &ValidationError{Field: "preferred_window", Reason: "end must be after start"}
	}

	date := DayOf(p.PreferredDate)
	if date.Before(DayOf(s.clock.Now())) {
		return nil, &ValidationError{Field: "preferred_date", Reason: "is in the past"}
	}

	if _, err := s.ids.Patient(ctx, p.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.ids.Provider(ctx, p.ProviderID); err != nil {
		return nil, err
	}

	if p.Type == "" {
		p.Type = "consultation"
	}

	entry := &WaitingListEntry{
		ID:                 uuid.New(),
		PatientID:          p.PatientID,
		ProviderID:         p.ProviderID,
		PreferredDate:      date,
		WindowStartMinutes: p.WindowStartMinutes,
		WindowEndMinutes:   p.WindowEndMinutes,
		Type:               p.Type,
		Reason:             p.Reason,
		Priority:           p.Priority,
		IsActive:           true,
	}

	if err := s.repo.CreateWaitlistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("add waiting list entry: %w", err)
	}

	s.log.Info().
		Str("entry_id", entry.ID.String()).
		Str("provider_id", entry.ProviderID.String()).
		Str("date", date.Format("2006-01-02")).
		Int("priority", entry.Priority).
		Msg("waiting list entry added")

	return entry, nil
}

// NotifyForFreedSlot offers a freed time to every open entry for the
// provider and date whose preferred window contains it, in priority order
// with first-come tie-break. Each entry is claimed through the one-shot
// notified flag before its payload goes out, so re-running for the same time
// cannot notify anyone twice. All matches are notified, not just the first;
// one entry's failure does not stop the rest. Returns the count notified.
func (s *WaitlistService) NotifyForFreedSlot(ctx context.Context, providerID uuid.UUID, date time.Time, freedStartMinutes int) (int, error) {
	day := DayOf(date)

	entries, err := s.repo.ListOpenWaitlistEntries(ctx, providerID, day)
	if err != nil {
		return 0, fmt.Errorf("list open waiting list entries: %w", err)
	}

	var notified int
	for i := range entries {
		e := entries[i]
		if !e.MatchesTime(freedStartMinutes) {
			continue
		}

		claimed, err := s.repo.MarkWaitlistNotified(ctx, e.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("failed to claim waiting list entry")
			continue
		}
		if !claimed {
			continue
		}
		notified++

		// The claim stands even if the send fails: the flag is one-shot and
		// the entry is not re-armed.
		if err := s.sendFreedSlot(ctx, &e, day, freedStartMinutes); err != nil {
			s.log.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("waiting list notification failed")
		}
	}

	return notified, nil
}

func (s *WaitlistService) sendFreedSlot(ctx context.Context, e *WaitingListEntry, date time.Time, startMinutes int) error {
	patient, err := s.ids.Patient(ctx, e.PatientID)
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}
	provider, err := s.ids.Provider(ctx, e.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	recipient := patient.Email
	channel := ChannelEmail
	if recipient == "" {
		recipient = patient.Phone
		channel = ChannelSMS
	}
	if recipient == "" {
		return fmt.Errorf("patient %s has no contact details", patient.ID)
	}

	clock := MinutesToClock(startMinutes)
	return s.sender.Send(ctx, notify.Message{
		Kind:      notify.KindSlotFreed,
		Channel:   string(channel),
		Recipient: recipient,
		Subject:   "An appointment time has opened up",
		Body: fmt.Sprintf("A time with %s on %s at %s has just become available. Book soon if you still need it.",
			provider.FullName, date.Format("Monday, 2 January 2006"), clock),
		Meta: map[string]string{
			"provider": provider.FullName,
			"date":     date.Format("2006-01-02"),
			"time":     clock,
			"entry_id": e.ID.String(),
		},
	})
}

// ListEntries returns every waiting list entry for the provider and date,
// open or already handled, for the API surface.
func (s *WaitlistService) ListEntries(ctx context.Context, providerID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	if providerID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	entries, err := s.repo.ListWaitlistEntries(ctx, providerID, DayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list waiting list entries: %w", err)
	}
	return entries, nil
}
