package health

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"calsync/internal/common/cache"
	"calsync/internal/common/errors"
	"calsync/internal/models"
)

// RecordStore persists health records by key (kind:id). Engines that share
// a RecordStore and a lock service see one set of counters.
type RecordStore interface {
	Load(ctx context.Context, key string) (models.HealthRecord, bool, error)
	Save(ctx context.Context, key string, rec models.HealthRecord) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) ([]models.HealthRecord, error)
}

// MemoryRecords keeps records in process memory
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]models.HealthRecord
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]models.HealthRecord)}
}

func (m *MemoryRecords) Load(_ context.Context, key string) (models.HealthRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryRecords) Save(_ context.Context, key string, rec models.HealthRecord) error {
	m.mu.Lock()
	m.records[key] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryRecords) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRecords) All(context.Context) ([]models.HealthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.HealthRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

const recordPrefix = "health:"

// CacheRecords stores records as JSON in a shared cache backend. Records
// are written without expiry, which needs a backend where a zero TTL means
// no expiry (Redis).
type CacheRecords struct {
	store cache.Cache
}

func NewCacheRecords(store cache.Cache) *CacheRecords {
	return &CacheRecords{store: store}
}

func (c *CacheRecords) Load(ctx context.Context, key string) (models.HealthRecord, bool, error) {
	raw, ok, err := c.store.Get(ctx, recordPrefix+key)
	if err != nil || !ok {
		return models.HealthRecord{}, false, err
	}
	var rec models.HealthRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.HealthRecord{}, false, errors.InternalError("corrupt health record "+key, err)
	}
	return rec, true, nil
}

func (c *CacheRecords) Save(ctx context.Context, key string, rec models.HealthRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.InternalError("failed to encode health record", err)
	}
	return c.store.Set(ctx, recordPrefix+key, raw, 0)
}

func (c *CacheRecords) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, recordPrefix+key)
}

func (c *CacheRecords) All(ctx context.Context) ([]models.HealthRecord, error) {
	keys, err := c.store.Keys(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.HealthRecord, 0, len(keys))
	for _, k := range keys {
		rec, ok, err := c.Load(ctx, strings.TrimPrefix(k, recordPrefix))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
