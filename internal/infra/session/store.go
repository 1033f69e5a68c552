package session

import (
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	domain "github.com/calyxbio/embryograde/internal/domain/session"
)

// CacheStore keeps session snapshots and selections in an in-process cache,
// one well-known key per clinic. Snapshots are stored serialized so the
// round trip through the store matches what a browser storage slot would
// hold.
type CacheStore struct {
	cache *gocache.Cache
}

// NewCacheStore builds a store whose entries expire after ttl of inactivity;
// ttl <= 0 keeps entries forever.
func NewCacheStore(ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &CacheStore{cache: gocache.New(ttl, 10*time.Minute)}
}

func snapshotKey(clinic string) string  { return "embryograde_session:" + clinic }
func selectionKey(clinic string) string { return "embryograde_selection:" + clinic }

// SaveSnapshot serializes and stores the clinic's item records.
func (s *CacheStore) SaveSnapshot(clinic string, records []domain.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}
	s.cache.SetDefault(snapshotKey(clinic), data)
	return nil
}

// LoadSnapshot returns the stored records; ok is false when no snapshot
// exists for the clinic.
func (s *CacheStore) LoadSnapshot(clinic string) ([]domain.Record, bool, error) {
	v, found := s.cache.Get(snapshotKey(clinic))
	if !found {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("unexpected snapshot entry type %T", v)
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("decoding session snapshot: %w", err)
	}
	return records, true, nil
}

// SaveSelection stores the clinic's current selection.
func (s *CacheStore) SaveSelection(clinic string, sel domain.Selection) {
	s.cache.SetDefault(selectionKey(clinic), sel)
}

// LoadSelection returns the clinic's selection; ok is false when none is
// stored yet.
func (s *CacheStore) LoadSelection(clinic string) (domain.Selection, bool) {
	v, found := s.cache.Get(selectionKey(clinic))
	if !found {
		return domain.Selection{}, false
	}
	sel, ok := v.(domain.Selection)
	if !ok {
		return domain.Selection{}, false
	}
	return sel, true
}
