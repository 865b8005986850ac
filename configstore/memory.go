package configstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and zero-config embeds.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	backups map[string][]Backup
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		backups: make(map[string][]Backup),
	}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Config = copyConfig(rec.Config)
	rec.UpdatedAt = time.Now().UTC()
	s.records[Key(rec.ProviderType, rec.Code)] = rec
	return nil
}

func (s *MemoryStore) Load(_ context.Context, providerType, code string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[Key(providerType, code)]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Config = copyConfig(rec.Config)
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, providerType, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, Key(providerType, code))
	return nil
}

func (s *MemoryStore) List(_ context.Context, providerType string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if providerType != "" && rec.ProviderType != providerType {
			continue
		}
		rec.Config = copyConfig(rec.Config)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].ProviderType, out[i].Code) < Key(out[j].ProviderType, out[j].Code)
	})
	return out, nil
}

func (s *MemoryStore) SaveBackup(_ context.Context, b Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(b.ProviderType, b.Code)
	b.Config = copyConfig(b.Config)
	s.backups[key] = append(s.backups[key], b)
	return nil
}

func (s *MemoryStore) ListBackups(_ context.Context, providerType, code string) ([]Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.backups[Key(providerType, code)]
	out := make([]Backup, len(stored))
	for i, b := range stored {
		b.Config = copyConfig(b.Config)
		out[i] = b
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) LoadBackup(_ context.Context, providerType, code, id string) (Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backups[Key(providerType, code)] {
		if b.ID == id {
			b.Config = copyConfig(b.Config)
			return b, nil
		}
	}
	return Backup{}, ErrNotFound
}
