package notification

import (
	"time"

	"github.com/google/uuid"
)

type DeviceToken struct {
	Token    string `json:"token" db:"token"`
	Platform string `json:"platform" db:"platform"`
}

// ChallengeEvent is the payload pushed to devices and published to in-process
// subscribers when a challenge record changes.
type ChallengeEvent struct {
	RecordID uuid.UUID `json:"record_id"`
	Kind     EventKind `json:"kind"`
	// ActorID is the user whose action produced the event. Push delivery
	// skips them; uuid.Nil means a system action and everyone is notified.
	ActorID   uuid.UUID `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

type EventKind string

const (
	EventRecordCreated EventKind = "record_created"
	EventRecordUpdated EventKind = "record_updated"
	EventRecordDeleted EventKind = "record_deleted"
)
