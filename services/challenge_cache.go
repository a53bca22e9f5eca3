package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepSyncAPI/internal/types/challenge"
)

var ErrChallengeNotCached = errors.New("challenge not present in local cache")

// ChallengeCache is the local relational projection of challenge state. The
// remote record store stays the source of truth; these rows back the three
// UI-facing lists (pending / active / past) without a remote round trip.
type ChallengeCache interface {
	Insert(ctx context.Context, c *challenge.Challenge) error
	Update(ctx context.Context, c *challenge.Challenge) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error)
	// ListPending returns challenges the user created that still await a
	// participant and carry a share id (needed to resend the invite).
	ListPending(ctx context.Context, userID uuid.UUID) ([]*challenge.PendingChallenge, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error)
	// ListPast returns completed and expired-unresolved challenges.
	ListPast(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error)
	MarkExpiredUnresolved(ctx context.Context, id uuid.UUID) error
	// SetDeclined flips the local-only declined flag on a cached row.
	SetDeclined(ctx context.Context, id uuid.UUID, declined bool) error
}

type PostgresChallengeCache struct {
	db *pgxpool.Pool
}

func NewPostgresChallengeCache(db *pgxpool.Pool) *PostgresChallengeCache {
	return &PostgresChallengeCache{db: db}
}

const cacheColumns = `
	id, start_time, end_time, goal_steps, status, winner, share_id, declined, created_at,
	creator_id, creator_name, creator_photo, creator_steps,
	participant_id, participant_name, participant_photo, participant_steps`

func (c *PostgresChallengeCache) Insert(ctx context.Context, ch *challenge.Challenge) error {
	var pID *uuid.UUID
	var pName string
	var pPhoto []byte
	var pSteps int64
	if ch.Participant != nil {
		pID = &ch.Participant.UserID
		pName = ch.Participant.Name
		pPhoto = ch.Participant.Photo
		pSteps = ch.Participant.Steps
	}

	_, err := c.db.Exec(ctx, `
	INSERT INTO challenges (
		id, start_time, end_time, goal_steps, status, winner, share_id, declined, created_at,
		creator_id, creator_name, creator_photo, creator_steps,
		participant_id, participant_name, participant_photo, participant_steps
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO NOTHING
	`,
		ch.ID, ch.StartTime, ch.EndTime, ch.GoalSteps, ch.Status, ch.Winner, ch.ShareID, ch.Declined,
		ch.Creator.UserID, ch.Creator.Name, ch.Creator.Photo, ch.Creator.Steps,
		pID, pName, pPhoto, pSteps,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cached challenge: %w", err)
	}
	return nil
}

func (c *PostgresChallengeCache) Update(ctx context.Context, ch *challenge.Challenge) error {
	var pID *uuid.UUID
	var pName string
	var pPhoto []byte
	var pSteps int64
	if ch.Participant != nil {
		pID = &ch.Participant.UserID
		pName = ch.Participant.Name
		pPhoto = ch.Participant.Photo
		pSteps = ch.Participant.Steps
	}

	// declined is deliberately not written here: it is local-only state and
	// record-driven refreshes must not clear it.
	tag, err := c.db.Exec(ctx, `
	UPDATE challenges SET
		status = $2, winner = $3, share_id = $4,
		creator_steps = $5,
		participant_id = $6, participant_name = $7, participant_photo = $8, participant_steps = $9
	WHERE id = $1
	`, ch.ID, ch.Status, ch.Winner, ch.ShareID, ch.Creator.Steps, pID, pName, pPhoto, pSteps)
	if err != nil {
		return fmt.Errorf("failed to update cached challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeNotCached
	}
	return nil
}

func (c *PostgresChallengeCache) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.Exec(ctx, `DELETE FROM challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cached challenge: %w", err)
	}
	return nil
}

func scanCachedChallenge(row pgx.Row) (*challenge.Challenge, error) {
	ch := &challenge.Challenge{}
	var pID *uuid.UUID
	var pName *string
	var pPhoto []byte
	var pSteps *int64

	err := row.Scan(
		&ch.ID, &ch.StartTime, &ch.EndTime, &ch.GoalSteps, &ch.Status, &ch.Winner, &ch.ShareID, &ch.Declined, &ch.CreatedAt,
		&ch.Creator.UserID, &ch.Creator.Name, &ch.Creator.Photo, &ch.Creator.Steps,
		&pID, &pName, &pPhoto, &pSteps,
	)
	if err != nil {
		return nil, err
	}
	if pID != nil {
		ch.Participant = &challenge.ParticipantDetails{UserID: *pID, Photo: pPhoto}
		if pName != nil {
			ch.Participant.Name = *pName
		}
		if pSteps != nil {
			ch.Participant.Steps = *pSteps
		}
	}
	return ch, nil
}

func (c *PostgresChallengeCache) Get(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	ch, err := scanCachedChallenge(c.db.QueryRow(ctx,
		`SELECT `+cacheColumns+` FROM challenges WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotCached
		}
		return nil, fmt.Errorf("failed to get cached challenge: %w", err)
	}
	return ch, nil
}

func (c *PostgresChallengeCache) list(ctx context.Context, where string, args ...any) ([]*challenge.Challenge, error) {
	rows, err := c.db.Query(ctx,
		`SELECT `+cacheColumns+` FROM challenges WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached challenges: %w", err)
	}
	defer rows.Close()

	var out []*challenge.Challenge
	for rows.Next() {
		ch, err := scanCachedChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached challenge: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cached challenge rows: %w", err)
	}
	return out, nil
}

func (c *PostgresChallengeCache) ListPending(ctx context.Context, userID uuid.UUID) ([]*challenge.PendingChallenge, error) {
	chs, err := c.list(ctx, `creator_id = $1 AND status = $2 AND share_id IS NOT NULL`,
		userID, challenge.StatusPending)
	if err != nil {
		return nil, err
	}

	out := make([]*challenge.PendingChallenge, 0, len(chs))
	for _, ch := range chs {
		out = append(out, &challenge.PendingChallenge{
			ID:        ch.ID,
			Challenge: *ch,
			ShareID:   *ch.ShareID,
		})
	}
	return out, nil
}

func (c *PostgresChallengeCache) ListActive(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	return c.list(ctx, `(creator_id = $1 OR participant_id = $1) AND status = $2`,
		userID, challenge.StatusActive)
}

func (c *PostgresChallengeCache) ListPast(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	return c.list(ctx, `(creator_id = $1 OR participant_id = $1) AND status = ANY($2)`,
		userID, []challenge.Status{challenge.StatusCompleted, challenge.StatusExpiredUnresolved})
}

func (c *PostgresChallengeCache) MarkExpiredUnresolved(ctx context.Context, id uuid.UUID) error {
	tag, err := c.db.Exec(ctx, `
	UPDATE challenges SET status = $2 WHERE id = $1 AND status = $3
	`, id, challenge.StatusExpiredUnresolved, challenge.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark challenge expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeNotCached
	}
	return nil
}

func (c *PostgresChallengeCache) SetDeclined(ctx context.Context, id uuid.UUID, declined bool) error {
	tag, err := c.db.Exec(ctx, `UPDATE challenges SET declined = $2 WHERE id = $1`, id, declined)
	if err != nil {
		return fmt.Errorf("failed to set declined flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeNotCached
	}
	return nil
}
