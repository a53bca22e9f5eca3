package challenge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusExpiredUnresolved marks an active challenge that ran past its end
	// time before either side reached the goal. No winner is recorded.
	StatusExpiredUnresolved Status = "expired_unresolved"
)

// Valid reports whether s is one of the known status values. Statuses come in
// from the record store and from client payloads, so transition sites check
// this instead of trusting the string.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusExpiredUnresolved:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpiredUnresolved
}

const (
	// MinGoalSteps is the smallest goal a challenge may be created with.
	MinGoalSteps int64 = 100
	// MinDuration is the least time a new challenge must remain open.
	MinDuration = time.Hour
)

var (
	ErrInvalidRecord           = errors.New("challenge record is missing required fields or does not exist")
	ErrChallengeCreationFailed = errors.New("challenge creation did not produce a usable record")
	ErrSharingFailed           = errors.New("challenge invite could not be shared")
	ErrInvalidUser             = errors.New("no user identity available for this challenge")
)

// ParticipantDetails is the identity+progress snapshot attached to a challenge
// for rendering. It is always derived from the record or the cache, never
// persisted on its own.
type ParticipantDetails struct {
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	Name   string    `json:"name" db:"name"`
	Photo  []byte    `json:"photo,omitempty" db:"photo"`
	Steps  int64     `json:"steps" db:"steps"`
}

// Challenge is the locally cached projection of a two-party step competition.
// The remote record is the source of truth; this row is the durable local view.
type Challenge struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	StartTime   time.Time           `json:"start_time" db:"start_time"`
	EndTime     time.Time           `json:"end_time" db:"end_time"`
	GoalSteps   int64               `json:"goal_steps" db:"goal_steps"`
	Status      Status              `json:"status" db:"status"`
	Creator     ParticipantDetails  `json:"creator"`
	Participant *ParticipantDetails `json:"participant,omitempty"`
	Winner      *uuid.UUID          `json:"winner,omitempty" db:"winner"`
	// ShareID correlates this row to the remote share record so the invite
	// can be re-fetched and resent.
	ShareID *uuid.UUID `json:"share_id,omitempty" db:"share_id"`
	// Declined is local-only state: the invitee turned the invite down. The
	// record stays pending so the owner can resend, which clears the flag.
	Declined  bool      `json:"declined" db:"declined"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PendingChallenge is a challenge still awaiting a second participant.
type PendingChallenge struct {
	ID        uuid.UUID `json:"id"`
	Challenge Challenge `json:"challenge"`
	ShareID   uuid.UUID `json:"share_id"`
}

type CreateChallengeRequest struct {
	GoalSteps int64     `json:"goal_steps"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Validate applies the creation rules checked before any remote call is made.
func (r *CreateChallengeRequest) Validate(now time.Time) error {
	if r.GoalSteps < MinGoalSteps {
		return errors.New("goal must be at least 100 steps")
	}
	if r.EndTime.Before(now.Add(MinDuration)) {
		return errors.New("end time must be at least 1 hour from now")
	}
	if !r.EndTime.After(r.StartTime) {
		return errors.New("end time must be after start time")
	}
	return nil
}
