// Package notify hands message payloads to the external notification
// pipeline. The scheduling core decides what to send and when; delivery to
// an inbox or a phone happens elsewhere.
package notify

import (
	"context"

	"github.com/google/uuid"
)

const (
	KindReminder  = "reminder"
	KindSlotFreed = "waitlist_slot_freed"
)

type Message struct {
	Kind          string            `json:"kind"`
	Channel       string            `json:"channel"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	AppointmentID uuid.UUID         `json:"appointment_id,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}
