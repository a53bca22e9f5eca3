package recordstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store used by tests and local development. It
// mirrors the semantics of the Postgres gateway, including version bumping
// and the CAS check.
type MemStore struct {
	mu      sync.RWMutex
	zones   map[uuid.UUID]*Zone // keyed by owner
	records map[uuid.UUID]*Record
	shares  map[uuid.UUID]*Share
}

func NewMemStore() *MemStore {
	return &MemStore{
		zones:   make(map[uuid.UUID]*Zone),
		records: make(map[uuid.UUID]*Record),
		shares:  make(map[uuid.UUID]*Share),
	}
}

func (m *MemStore) EnsureZone(_ context.Context, ownerID uuid.UUID) (*Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if z, ok := m.zones[ownerID]; ok {
		zc := *z
		return &zc, nil
	}
	z := &Zone{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      ZoneName,
		CreatedAt: time.Now(),
	}
	m.zones[ownerID] = z
	zc := *z
	return &zc, nil
}

func (m *MemStore) CreateRecordWithShare(_ context.Context, rec *Record, share *Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return ErrRecordExists
	}
	stored := rec.Clone()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.records[rec.ID] = stored
	rec.Version = stored.Version

	sc := *share
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	m.shares[sc.ID] = &sc
	return nil
}

func (m *MemStore) FetchRecord(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *MemStore) SaveRecord(_ context.Context, rec *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	stored := rec.Clone()
	stored.Version = cur.Version + 1
	stored.CreatedAt = cur.CreatedAt
	m.records[rec.ID] = stored
	return stored.Clone(), nil
}

func (m *MemStore) SaveRecordCAS(_ context.Context, rec *Record, expectedVersion int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionMismatch
	}
	stored := rec.Clone()
	stored.Version = cur.Version + 1
	stored.CreatedAt = cur.CreatedAt
	m.records[rec.ID] = stored
	return stored.Clone(), nil
}

func (m *MemStore) DeleteRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MemStore) QueryRecords(_ context.Context, q RecordQuery) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if q.ZoneID != uuid.Nil && rec.ZoneID != q.ZoneID {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if !q.EndBefore.IsZero() && rec.EndTime.After(q.EndBefore) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemStore) SharedZones(_ context.Context, userID uuid.UUID) ([]*Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var out []*Zone
	for _, rec := range m.records {
		if rec.ParticipantID == nil || *rec.ParticipantID != userID {
			continue
		}
		if seen[rec.ZoneID] {
			continue
		}
		for _, z := range m.zones {
			if z.ID == rec.ZoneID && z.OwnerID != userID {
				seen[z.ID] = true
				zc := *z
				out = append(out, &zc)
			}
		}
	}
	return out, nil
}

func (m *MemStore) FetchShareByToken(_ context.Context, token string) (*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.shares {
		if s.Token == token {
			sc := *s
			return &sc, nil
		}
	}
	return nil, ErrShareNotFound
}

func (m *MemStore) FetchShareByRecord(_ context.Context, recordID uuid.UUID) (*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.shares {
		if s.RecordID == recordID {
			sc := *s
			return &sc, nil
		}
	}
	return nil, ErrShareNotFound
}

func (m *MemStore) DeleteShare(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shares[id]; !ok {
		return ErrShareNotFound
	}
	delete(m.shares, id)
	return nil
}
