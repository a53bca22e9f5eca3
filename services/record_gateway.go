package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepSyncAPI/internal/recordstore"
)

// RecordGateway is the Postgres-backed implementation of recordstore.Store.
// It does not retry: every failure is wrapped and surfaced to the caller.
type RecordGateway struct {
	db *pgxpool.Pool

	// zoneReady remembers which owners already have their zone, so repeat
	// EnsureZone calls skip the round trip. Only set after a successful
	// create, so a failed attempt stays retryable.
	mu        sync.Mutex
	zoneReady map[uuid.UUID]bool
}

func NewRecordGateway(db *pgxpool.Pool) *RecordGateway {
	return &RecordGateway{
		db:        db,
		zoneReady: make(map[uuid.UUID]bool),
	}
}

func (g *RecordGateway) EnsureZone(ctx context.Context, ownerID uuid.UUID) (*recordstore.Zone, error) {
	g.mu.Lock()
	ready := g.zoneReady[ownerID]
	g.mu.Unlock()

	if !ready {
		_, err := g.db.Exec(ctx, `
		INSERT INTO challenge_zones (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, name) DO NOTHING
		`, uuid.New(), ownerID, recordstore.ZoneName)
		if err != nil {
			return nil, fmt.Errorf("failed to create zone: %w", err)
		}
		g.mu.Lock()
		g.zoneReady[ownerID] = true
		g.mu.Unlock()
	}

	zone := &recordstore.Zone{}
	err := g.db.QueryRow(ctx, `
	SELECT id, owner_id, name, created_at
	FROM challenge_zones
	WHERE owner_id = $1 AND name = $2
	`, ownerID, recordstore.ZoneName).Scan(&zone.ID, &zone.OwnerID, &zone.Name, &zone.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recordstore.ErrZoneNotFound
		}
		return nil, fmt.Errorf("failed to fetch zone: %w", err)
	}

	return zone, nil
}

func (g *RecordGateway) CreateRecordWithShare(ctx context.Context, rec *recordstore.Record, share *recordstore.Share) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin record+share transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
	INSERT INTO challenge_records (
		id, zone_id, start_time, end_time, goal_steps, status, winner,
		creator_id, creator_name, creator_photo, creator_steps,
		participant_id, participant_name, participant_photo, participant_steps,
		share_id, version, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, NOW())
	`,
		rec.ID, rec.ZoneID, rec.StartTime, rec.EndTime, rec.GoalSteps, rec.Status, rec.Winner,
		rec.CreatorID, rec.CreatorName, rec.CreatorPhoto, rec.CreatorSteps,
		rec.ParticipantID, rec.ParticipantName, rec.ParticipantPhoto, rec.ParticipantSteps,
		rec.ShareID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert challenge record: %w", err)
	}

	_, err = tx.Exec(ctx, `
	INSERT INTO challenge_shares (id, record_id, zone_id, token, title, permission, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, share.ID, share.RecordID, share.ZoneID, share.Token, share.Title, share.Permission)
	if err != nil {
		return fmt.Errorf("failed to insert challenge share: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit record+share transaction: %w", err)
	}

	rec.Version = 1
	return nil
}

const recordColumns = `
	id, zone_id, start_time, end_time, goal_steps, status, winner,
	creator_id, creator_name, creator_photo, creator_steps,
	participant_id, participant_name, participant_photo, participant_steps,
	share_id, version, created_at`

func scanRecord(row pgx.Row) (*recordstore.Record, error) {
	rec := &recordstore.Record{}
	err := row.Scan(
		&rec.ID, &rec.ZoneID, &rec.StartTime, &rec.EndTime, &rec.GoalSteps, &rec.Status, &rec.Winner,
		&rec.CreatorID, &rec.CreatorName, &rec.CreatorPhoto, &rec.CreatorSteps,
		&rec.ParticipantID, &rec.ParticipantName, &rec.ParticipantPhoto, &rec.ParticipantSteps,
		&rec.ShareID, &rec.Version, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *RecordGateway) FetchRecord(ctx context.Context, id uuid.UUID) (*recordstore.Record, error) {
	rec, err := scanRecord(g.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM challenge_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recordstore.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	return rec, nil
}

func (g *RecordGateway) SaveRecord(ctx context.Context, rec *recordstore.Record) (*recordstore.Record, error) {
	return g.save(ctx, rec, nil)
}

func (g *RecordGateway) SaveRecordCAS(ctx context.Context, rec *recordstore.Record, expectedVersion int64) (*recordstore.Record, error) {
	return g.save(ctx, rec, &expectedVersion)
}

func (g *RecordGateway) save(ctx context.Context, rec *recordstore.Record, expectedVersion *int64) (*recordstore.Record, error) {
	query := `
	UPDATE challenge_records SET
		start_time = $2, end_time = $3, goal_steps = $4, status = $5, winner = $6,
		creator_name = $7, creator_photo = $8, creator_steps = $9,
		participant_id = $10, participant_name = $11, participant_photo = $12, participant_steps = $13,
		share_id = $14, version = version + 1
	WHERE id = $1`
	args := []any{
		rec.ID, rec.StartTime, rec.EndTime, rec.GoalSteps, rec.Status, rec.Winner,
		rec.CreatorName, rec.CreatorPhoto, rec.CreatorSteps,
		rec.ParticipantID, rec.ParticipantName, rec.ParticipantPhoto, rec.ParticipantSteps,
		rec.ShareID,
	}
	if expectedVersion != nil {
		query += ` AND version = $15`
		args = append(args, *expectedVersion)
	}
	query += ` RETURNING ` + recordColumns

	saved, err := scanRecord(g.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if expectedVersion == nil {
				return nil, recordstore.ErrRecordNotFound
			}
			// Row missing entirely vs. version raced: disambiguate so the
			// caller's CAS retry does not spin on a deleted record.
			var exists bool
			if checkErr := g.db.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM challenge_records WHERE id = $1)`, rec.ID,
			).Scan(&exists); checkErr == nil && !exists {
				return nil, recordstore.ErrRecordNotFound
			}
			return nil, recordstore.ErrVersionMismatch
		}
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	return saved, nil
}

func (g *RecordGateway) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := g.db.Exec(ctx, `DELETE FROM challenge_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recordstore.ErrRecordNotFound
	}
	return nil
}

func (g *RecordGateway) QueryRecords(ctx context.Context, q recordstore.RecordQuery) ([]*recordstore.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM challenge_records WHERE 1=1`
	args := []any{}

	if q.ZoneID != uuid.Nil {
		args = append(args, q.ZoneID)
		query += fmt.Sprintf(" AND zone_id = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !q.EndBefore.IsZero() {
		args = append(args, q.EndBefore)
		query += fmt.Sprintf(" AND end_time <= $%d", len(args))
	}

	rows, err := g.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*recordstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read record rows: %w", err)
	}
	return out, nil
}

func (g *RecordGateway) SharedZones(ctx context.Context, userID uuid.UUID) ([]*recordstore.Zone, error) {
	rows, err := g.db.Query(ctx, `
	SELECT DISTINCT z.id, z.owner_id, z.name, z.created_at
	FROM challenge_zones z
	JOIN challenge_records r ON r.zone_id = z.id
	WHERE r.participant_id = $1 AND z.owner_id != $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate shared zones: %w", err)
	}
	defer rows.Close()

	var out []*recordstore.Zone
	for rows.Next() {
		zone := &recordstore.Zone{}
		if err := rows.Scan(&zone.ID, &zone.OwnerID, &zone.Name, &zone.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		out = append(out, zone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zone rows: %w", err)
	}
	return out, nil
}

func (g *RecordGateway) FetchShareByToken(ctx context.Context, token string) (*recordstore.Share, error) {
	return g.fetchShare(ctx, `token = $1`, token)
}

func (g *RecordGateway) FetchShareByRecord(ctx context.Context, recordID uuid.UUID) (*recordstore.Share, error) {
	return g.fetchShare(ctx, `record_id = $1`, recordID)
}

func (g *RecordGateway) fetchShare(ctx context.Context, where string, arg any) (*recordstore.Share, error) {
	share := &recordstore.Share{}
	err := g.db.QueryRow(ctx, `
	SELECT id, record_id, zone_id, token, title, permission, created_at
	FROM challenge_shares
	WHERE `+where, arg).Scan(
		&share.ID, &share.RecordID, &share.ZoneID, &share.Token, &share.Title, &share.Permission, &share.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recordstore.ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to fetch share: %w", err)
	}
	return share, nil
}

func (g *RecordGateway) DeleteShare(ctx context.Context, id uuid.UUID) error {
	tag, err := g.db.Exec(ctx, `DELETE FROM challenge_shares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recordstore.ErrShareNotFound
	}
	return nil
}
