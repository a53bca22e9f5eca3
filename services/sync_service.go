package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"stepSyncAPI/internal/recordstore"
	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/types/notification"
)

// SyncService keeps the cached challenge lists consistent with the record
// store and fans decoded record changes out to in-process subscribers, so a
// connected client moves a challenge between lists without a full reload.
type SyncService struct {
	store recordstore.Store
	cache ChallengeCache

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	userID uuid.UUID
	ch     chan *challenge.Challenge
}

func NewSyncService(store recordstore.Store, cache ChallengeCache) *SyncService {
	return &SyncService{
		store: store,
		cache: cache,
		subs:  make(map[int]*subscriber),
	}
}

// Subscribe registers interest in challenge changes involving userID. The
// returned channel is buffered; slow consumers drop events rather than block
// the sync path.
func (s *SyncService) Subscribe(userID uuid.UUID) (int, <-chan *challenge.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	sub := &subscriber{
		userID: userID,
		ch:     make(chan *challenge.Challenge, 16),
	}
	s.subs[id] = sub
	return id, sub.ch
}

func (s *SyncService) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		close(sub.ch)
		delete(s.subs, id)
	}
}

func (s *SyncService) publish(ch *challenge.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.subs {
		if sub.userID != ch.Creator.UserID &&
			(ch.Participant == nil || sub.userID != ch.Participant.UserID) {
			continue
		}
		select {
		case sub.ch <- ch:
		default:
			log.Printf("SyncService: subscriber %d is full, dropping update for %s", id, ch.ID)
		}
	}
}

// HandleRecordChange reacts to one push event: re-fetch the changed record,
// refresh the cache row and publish the decoded challenge. Returns the
// affected challenge so the caller can notify the other participant.
func (s *SyncService) HandleRecordChange(ctx context.Context, evt notification.ChallengeEvent) (*challenge.Challenge, error) {
	if evt.Kind == notification.EventRecordDeleted {
		// the lifecycle already adjusted the cache; nothing to re-fetch
		return nil, nil
	}

	rec, err := s.store.FetchRecord(ctx, evt.RecordID)
	if err != nil {
		if errors.Is(err, recordstore.ErrRecordNotFound) {
			// deleted between the event and the fetch
			return nil, nil
		}
		return nil, fmt.Errorf("failed to re-fetch changed record: %w", err)
	}

	ch := ChallengeFromRecord(rec)
	if err := s.cache.Update(ctx, ch); err != nil {
		if errors.Is(err, ErrChallengeNotCached) {
			err = s.cache.Insert(ctx, ch)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to refresh cache for %s: %w", ch.ID, err)
		}
	}

	s.publish(ch)
	return ch, nil
}

// ReconcileActive rebuilds the active list for a user from the record store:
// active records in the user's own zone, unioned with active records found by
// enumerating every shared zone they were invited into. Cache rows are
// refreshed along the way.
func (s *SyncService) ReconcileActive(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	zone, err := s.store.EnsureZone(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own zone: %w", err)
	}

	zones := []uuid.UUID{zone.ID}
	shared, err := s.store.SharedZones(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate shared zones: %w", err)
	}
	for _, z := range shared {
		zones = append(zones, z.ID)
	}

	seen := make(map[uuid.UUID]bool)
	var out []*challenge.Challenge
	for _, zoneID := range zones {
		recs, err := s.store.QueryRecords(ctx, recordstore.RecordQuery{
			ZoneID: zoneID,
			Status: challenge.StatusActive,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query zone %s: %w", zoneID, err)
		}
		for _, rec := range recs {
			if seen[rec.ID] {
				continue
			}
			if rec.CreatorID != userID && (rec.ParticipantID == nil || *rec.ParticipantID != userID) {
				continue
			}
			seen[rec.ID] = true

			ch := ChallengeFromRecord(rec)
			if err := s.cache.Update(ctx, ch); err != nil {
				if errors.Is(err, ErrChallengeNotCached) {
					err = s.cache.Insert(ctx, ch)
				}
				if err != nil {
					log.Printf("ReconcileActive: cache refresh failed for %s: %v", ch.ID, err)
				}
			}
			out = append(out, ch)
		}
	}
	return out, nil
}
