package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepSyncAPI/internal/recordstore"
	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/types/notification"
	"stepSyncAPI/services"
)

func TestHandleRecordChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	creator := newTestUser("alice")
	joiner := newTestUser("bob")
	sync := services.NewSyncService(f.store, f.cache)

	id := activeChallenge(t, f, creator, joiner)

	// bump the remote record behind the cache's back, as a push would see it
	rec, err := f.store.FetchRecord(ctx, id)
	require.NoError(t, err)
	rec.CreatorSteps = 4321
	_, err = f.store.SaveRecord(ctx, rec)
	require.NoError(t, err)

	subID, updates := sync.Subscribe(joiner.ID)
	defer sync.Unsubscribe(subID)

	ch, err := sync.HandleRecordChange(ctx, notification.ChallengeEvent{
		RecordID:  id,
		Kind:      notification.EventRecordUpdated,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, int64(4321), ch.Creator.Steps)

	// the cache row caught up
	cached, err := f.cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4321), cached.Creator.Steps)

	// the subscriber saw the update
	select {
	case got := <-updates:
		assert.Equal(t, id, got.ID)
		assert.Equal(t, int64(4321), got.Creator.Steps)
	default:
		t.Fatal("expected a published update")
	}
}

func TestHandleRecordChangeVanishedRecord(t *testing.T) {
	f := newFixture()
	creator := newTestUser("alice")
	joiner := newTestUser("bob")
	sync := services.NewSyncService(f.store, f.cache)

	id := activeChallenge(t, f, creator, joiner)
	require.NoError(t, f.store.DeleteRecord(context.Background(), id))

	ch, err := sync.HandleRecordChange(context.Background(), notification.ChallengeEvent{
		RecordID: id,
		Kind:     notification.EventRecordUpdated,
	})
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestHandleRecordChangeDeletedKind(t *testing.T) {
	f := newFixture()
	sync := services.NewSyncService(f.store, f.cache)

	ch, err := sync.HandleRecordChange(context.Background(), notification.ChallengeEvent{
		RecordID: newTestUser("x").ID,
		Kind:     notification.EventRecordDeleted,
	})
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestPublishSkipsUninvolvedSubscribers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	creator := newTestUser("alice")
	joiner := newTestUser("bob")
	stranger := newTestUser("mallory")
	sync := services.NewSyncService(f.store, f.cache)

	id := activeChallenge(t, f, creator, joiner)

	strangerSub, strangerUpdates := sync.Subscribe(stranger.ID)
	defer sync.Unsubscribe(strangerSub)
	creatorSub, creatorUpdates := sync.Subscribe(creator.ID)
	defer sync.Unsubscribe(creatorSub)

	_, err := sync.HandleRecordChange(ctx, notification.ChallengeEvent{
		RecordID: id,
		Kind:     notification.EventRecordUpdated,
	})
	require.NoError(t, err)

	assert.Len(t, creatorUpdates, 1)
	assert.Len(t, strangerUpdates, 0)
}

func TestReconcileActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	creator := newTestUser("alice")
	joiner := newTestUser("bob")
	sync := services.NewSyncService(f.store, f.cache)

	// one challenge the joiner was invited into (lives in the creator's zone)
	joinedID := activeChallenge(t, f, creator, joiner)
	// one challenge the joiner created themselves, accepted by the creator
	ownedID := activeChallenge(t, f, joiner, creator)
	// a pending challenge must not show up as active
	_, _ = createAndShare(t, f, joiner)

	// wipe the local cache to prove reconciliation rebuilds it from the store
	require.NoError(t, f.cache.Delete(ctx, joinedID))
	require.NoError(t, f.cache.Delete(ctx, ownedID))

	active, err := sync.ReconcileActive(ctx, joiner.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := map[string]bool{}
	for _, ch := range active {
		assert.Equal(t, challenge.StatusActive, ch.Status)
		ids[ch.ID.String()] = true
	}
	assert.True(t, ids[joinedID.String()])
	assert.True(t, ids[ownedID.String()])

	// cache rows were re-created
	_, err = f.cache.Get(ctx, joinedID)
	assert.NoError(t, err)
	_, err = f.cache.Get(ctx, ownedID)
	assert.NoError(t, err)
}

func TestReconcileActiveExcludesStrangers(t *testing.T) {
	f := newFixture()
	creator := newTestUser("alice")
	joiner := newTestUser("bob")
	stranger := newTestUser("mallory")
	sync := services.NewSyncService(f.store, f.cache)

	activeChallenge(t, f, creator, joiner)

	active, err := sync.ReconcileActive(context.Background(), stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// sanity: a stranger has no shared zones either
	zones, err := f.store.SharedZones(context.Background(), stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, zones)
}

var _ recordstore.Store = (*recordstore.MemStore)(nil)
