package recordstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepSyncAPI/internal/recordstore"
	"stepSyncAPI/internal/types/challenge"
)

func seedRecord(t *testing.T, store *recordstore.MemStore, ownerID uuid.UUID) *recordstore.Record {
	t.Helper()
	ctx := context.Background()

	zone, err := store.EnsureZone(ctx, ownerID)
	require.NoError(t, err)

	shareID := uuid.New()
	rec := &recordstore.Record{
		ID:          uuid.New(),
		ZoneID:      zone.ID,
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(24 * time.Hour),
		GoalSteps:   10000,
		Status:      challenge.StatusPending,
		CreatorID:   ownerID,
		CreatorName: "alice",
		ShareID:     &shareID,
	}
	share := &recordstore.Share{
		ID:         shareID,
		RecordID:   rec.ID,
		ZoneID:     zone.ID,
		Token:      uuid.NewString(),
		Permission: recordstore.SharePermissionPublicReadWrite,
	}
	require.NoError(t, store.CreateRecordWithShare(ctx, rec, share))
	return rec
}

func TestEnsureZoneIdempotent(t *testing.T) {
	store := recordstore.NewMemStore()
	ownerID := uuid.New()

	first, err := store.EnsureZone(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, recordstore.ZoneName, first.Name)

	second, err := store.EnsureZone(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := store.EnsureZone(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateRecordWithShare(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	assert.Equal(t, int64(1), rec.Version)

	got, err := store.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.GoalSteps, got.GoalSteps)

	// duplicate ids are rejected rather than overwritten
	err = store.CreateRecordWithShare(ctx, rec, &recordstore.Share{
		ID:       uuid.New(),
		RecordID: rec.ID,
		Token:    uuid.NewString(),
	})
	assert.ErrorIs(t, err, recordstore.ErrRecordExists)
}

func TestFetchRecordReturnsCopy(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	got, err := store.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)
	got.CreatorSteps = 99999

	again, err := store.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.CreatorSteps)
}

func TestSaveRecordBumpsVersion(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	rec.CreatorSteps = 500
	saved, err := store.SaveRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, int64(500), saved.CreatorSteps)

	_, err = store.SaveRecord(ctx, &recordstore.Record{ID: uuid.New()})
	assert.ErrorIs(t, err, recordstore.ErrRecordNotFound)
}

func TestSaveRecordCAS(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	rec.CreatorSteps = 100
	saved, err := store.SaveRecordCAS(ctx, rec, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// a writer holding the stale version loses
	rec.CreatorSteps = 200
	_, err = store.SaveRecordCAS(ctx, rec, 1)
	assert.ErrorIs(t, err, recordstore.ErrVersionMismatch)

	current, err := store.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), current.CreatorSteps)

	// retrying with the fresh version wins
	current.CreatorSteps = 200
	saved, err = store.SaveRecordCAS(ctx, current, current.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Version)

	_, err = store.SaveRecordCAS(ctx, &recordstore.Record{ID: uuid.New()}, 1)
	assert.ErrorIs(t, err, recordstore.ErrRecordNotFound)
}

func TestQueryRecords(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	owner := uuid.New()

	pending := seedRecord(t, store, owner)

	active := seedRecord(t, store, owner)
	got, err := store.FetchRecord(ctx, active.ID)
	require.NoError(t, err)
	got.Status = challenge.StatusActive
	_, err = store.SaveRecord(ctx, got)
	require.NoError(t, err)

	expired := seedRecord(t, store, owner)
	got, err = store.FetchRecord(ctx, expired.ID)
	require.NoError(t, err)
	got.EndTime = time.Now().Add(-time.Hour)
	_, err = store.SaveRecord(ctx, got)
	require.NoError(t, err)

	zone, err := store.EnsureZone(ctx, owner)
	require.NoError(t, err)

	byZone, err := store.QueryRecords(ctx, recordstore.RecordQuery{ZoneID: zone.ID})
	require.NoError(t, err)
	assert.Len(t, byZone, 3)

	byStatus, err := store.QueryRecords(ctx, recordstore.RecordQuery{Status: challenge.StatusActive})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, active.ID, byStatus[0].ID)

	ended, err := store.QueryRecords(ctx, recordstore.RecordQuery{EndBefore: time.Now()})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, expired.ID, ended[0].ID)

	none, err := store.QueryRecords(ctx, recordstore.RecordQuery{ZoneID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, none)

	_ = pending
}

func TestSharedZones(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	owner := uuid.New()
	participant := uuid.New()

	rec := seedRecord(t, store, owner)

	// not shared yet: the participant slot is empty
	zones, err := store.SharedZones(ctx, participant)
	require.NoError(t, err)
	assert.Empty(t, zones)

	got, err := store.FetchRecord(ctx, rec.ID)
	require.NoError(t, err)
	pid := participant
	got.ParticipantID = &pid
	got.Status = challenge.StatusActive
	_, err = store.SaveRecord(ctx, got)
	require.NoError(t, err)

	zones, err = store.SharedZones(ctx, participant)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, owner, zones[0].OwnerID)

	// the owner never sees their own zone as shared
	zones, err = store.SharedZones(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, zones)
}

func TestShareLookupAndDelete(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	share, err := store.FetchShareByRecord(ctx, rec.ID)
	require.NoError(t, err)

	byToken, err := store.FetchShareByToken(ctx, share.Token)
	require.NoError(t, err)
	assert.Equal(t, share.ID, byToken.ID)

	_, err = store.FetchShareByToken(ctx, "bogus")
	assert.ErrorIs(t, err, recordstore.ErrShareNotFound)

	require.NoError(t, store.DeleteShare(ctx, share.ID))
	assert.ErrorIs(t, store.DeleteShare(ctx, share.ID), recordstore.ErrShareNotFound)

	_, err = store.FetchShareByRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, recordstore.ErrShareNotFound)
}

func TestDeleteRecord(t *testing.T) {
	store := recordstore.NewMemStore()
	ctx := context.Background()
	rec := seedRecord(t, store, uuid.New())

	require.NoError(t, store.DeleteRecord(ctx, rec.ID))
	assert.ErrorIs(t, store.DeleteRecord(ctx, rec.ID), recordstore.ErrRecordNotFound)
	_, err := store.FetchRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, recordstore.ErrRecordNotFound)
}
