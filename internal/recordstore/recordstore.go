package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stepSyncAPI/internal/types/challenge"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrShareNotFound   = errors.New("share not found")
	ErrZoneNotFound    = errors.New("zone not found")
	ErrRecordExists    = errors.New("record already exists")
	ErrVersionMismatch = errors.New("record version mismatch")
)

// Zone is an isolated namespace in the record store, one per owner, scoped to
// the challenge feature. Records created by a user live in that user's zone;
// participants see into the owner's zone through an accepted share.
type Zone struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ZoneName is the single zone name used for challenge records.
const ZoneName = "step_challenges"

// Record is the remote source of truth for one challenge. Step counts are
// int64 end to end so they survive the record ↔ entity ↔ DTO round trip
// without truncation. Version backs the compare-and-swap save.
type Record struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	ZoneID           uuid.UUID        `json:"zone_id" db:"zone_id"`
	StartTime        time.Time        `json:"start_time" db:"start_time"`
	EndTime          time.Time        `json:"end_time" db:"end_time"`
	GoalSteps        int64            `json:"goal_steps" db:"goal_steps"`
	Status           challenge.Status `json:"status" db:"status"`
	Winner           *uuid.UUID       `json:"winner,omitempty" db:"winner"`
	CreatorID        uuid.UUID        `json:"creator_id" db:"creator_id"`
	CreatorName      string           `json:"creator_name" db:"creator_name"`
	CreatorPhoto     []byte           `json:"creator_photo,omitempty" db:"creator_photo"`
	CreatorSteps     int64            `json:"creator_steps" db:"creator_steps"`
	ParticipantID    *uuid.UUID       `json:"participant_id,omitempty" db:"participant_id"`
	ParticipantName  string           `json:"participant_name,omitempty" db:"participant_name"`
	ParticipantPhoto []byte           `json:"participant_photo,omitempty" db:"participant_photo"`
	ParticipantSteps int64            `json:"participant_steps" db:"participant_steps"`
	ShareID          *uuid.UUID       `json:"share_id,omitempty" db:"share_id"`
	Version          int64            `json:"version" db:"version"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// Joined reports whether a second participant has already written itself into
// the record. Accepting an invite against a joined record must be rejected.
func (r *Record) Joined() bool {
	return r.ParticipantID != nil
}

// Clone returns a deep copy so store implementations can hand out records
// without aliasing their internal state.
func (r *Record) Clone() *Record {
	c := *r
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	if r.ParticipantID != nil {
		p := *r.ParticipantID
		c.ParticipantID = &p
	}
	if r.ShareID != nil {
		s := *r.ShareID
		c.ShareID = &s
	}
	c.CreatorPhoto = append([]byte(nil), r.CreatorPhoto...)
	c.ParticipantPhoto = append([]byte(nil), r.ParticipantPhoto...)
	return &c
}

const SharePermissionPublicReadWrite = "public_read_write"

// Share wraps a record with a capability token. Whoever holds the token may
// resolve it to the record and join the challenge.
type Share struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RecordID   uuid.UUID `json:"record_id" db:"record_id"`
	ZoneID     uuid.UUID `json:"zone_id" db:"zone_id"`
	Token      string    `json:"token" db:"token"`
	Title      string    `json:"title" db:"title"`
	Permission string    `json:"permission" db:"permission"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RecordQuery selects records within a zone (or across the zones visible to a
// user) by status and end-time cutoff. Zero values mean "no constraint".
type RecordQuery struct {
	ZoneID    uuid.UUID
	Status    challenge.Status
	EndBefore time.Time
}

// Store is the remote structured record store the challenge lifecycle runs
// against. The production implementation is Postgres-backed; tests run against
// MemStore. Every call can fail and is never retried here; callers decide.
type Store interface {
	// EnsureZone creates the caller's challenge zone if it does not exist yet
	// and returns it. Idempotent and safe to retry after failure.
	EnsureZone(ctx context.Context, ownerID uuid.UUID) (*Zone, error)

	// CreateRecordWithShare writes a record and its share in one atomic
	// operation. On failure neither is visible.
	CreateRecordWithShare(ctx context.Context, rec *Record, share *Share) error

	FetchRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	// SaveRecord overwrites a record unconditionally and bumps its version.
	SaveRecord(ctx context.Context, rec *Record) (*Record, error)
	// SaveRecordCAS overwrites a record only if its stored version still
	// equals expectedVersion, otherwise ErrVersionMismatch.
	SaveRecordCAS(ctx context.Context, rec *Record, expectedVersion int64) (*Record, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	QueryRecords(ctx context.Context, q RecordQuery) ([]*Record, error)
	// SharedZones enumerates every zone the given user can see through a
	// joined challenge, i.e. zones owned by someone else containing a record
	// in which the user is the participant.
	SharedZones(ctx context.Context, userID uuid.UUID) ([]*Zone, error)

	FetchShareByToken(ctx context.Context, token string) (*Share, error)
	FetchShareByRecord(ctx context.Context, recordID uuid.UUID) (*Share, error)
	DeleteShare(ctx context.Context, id uuid.UUID) error
}
