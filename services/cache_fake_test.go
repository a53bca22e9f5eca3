package services_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/types/notification"
	"stepSyncAPI/services"
)

// memCache is an in-memory ChallengeCache with the same list semantics as the
// Postgres projection.
type memCache struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*challenge.Challenge
}

func newMemCache() *memCache {
	return &memCache{rows: make(map[uuid.UUID]*challenge.Challenge)}
}

func copyChallenge(c *challenge.Challenge) *challenge.Challenge {
	cc := *c
	if c.Participant != nil {
		p := *c.Participant
		cc.Participant = &p
	}
	if c.Winner != nil {
		w := *c.Winner
		cc.Winner = &w
	}
	if c.ShareID != nil {
		s := *c.ShareID
		cc.ShareID = &s
	}
	return &cc
}

func (m *memCache) Insert(_ context.Context, c *challenge.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		m.rows[c.ID] = copyChallenge(c)
	}
	return nil
}

func (m *memCache) Update(_ context.Context, c *challenge.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[c.ID]
	if !ok {
		return services.ErrChallengeNotCached
	}
	cc := copyChallenge(c)
	// declined is local-only and survives record-driven refreshes
	cc.Declined = cur.Declined
	m.rows[c.ID] = cc
	return nil
}

func (m *memCache) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memCache) Get(_ context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, services.ErrChallengeNotCached
	}
	return copyChallenge(c), nil
}

func (m *memCache) ListPending(_ context.Context, userID uuid.UUID) ([]*challenge.PendingChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*challenge.PendingChallenge
	for _, c := range m.rows {
		if c.Creator.UserID == userID && c.Status == challenge.StatusPending && c.ShareID != nil {
			cc := copyChallenge(c)
			out = append(out, &challenge.PendingChallenge{ID: cc.ID, Challenge: *cc, ShareID: *cc.ShareID})
		}
	}
	return out, nil
}

func (m *memCache) ListActive(_ context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	return m.listByStatus(userID, challenge.StatusActive)
}

func (m *memCache) ListPast(_ context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	completed, _ := m.listByStatus(userID, challenge.StatusCompleted)
	expired, _ := m.listByStatus(userID, challenge.StatusExpiredUnresolved)
	return append(completed, expired...), nil
}

func (m *memCache) listByStatus(userID uuid.UUID, status challenge.Status) ([]*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*challenge.Challenge
	for _, c := range m.rows {
		if c.Status != status {
			continue
		}
		if c.Creator.UserID == userID || (c.Participant != nil && c.Participant.UserID == userID) {
			out = append(out, copyChallenge(c))
		}
	}
	return out, nil
}

func (m *memCache) MarkExpiredUnresolved(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.Status != challenge.StatusActive {
		return services.ErrChallengeNotCached
	}
	c.Status = challenge.StatusExpiredUnresolved
	return nil
}

func (m *memCache) SetDeclined(_ context.Context, id uuid.UUID, declined bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return services.ErrChallengeNotCached
	}
	c.Declined = declined
	return nil
}

// recordingOutcomes collects win/loss bookkeeping calls for assertions.
type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []outcome
}

type outcome struct {
	winnerID uuid.UUID
	loserID  uuid.UUID
}

func (r *recordingOutcomes) RecordChallengeOutcome(_ context.Context, winnerID, loserID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{winnerID: winnerID, loserID: loserID})
	return nil
}

func (r *recordingOutcomes) all() []outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.outcomes...)
}

// recordingSink collects emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []notification.ChallengeEvent
}

func (s *recordingSink) Enqueue(evt notification.ChallengeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) kinds() []notification.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}
