// Package memory is a map-backed Store for tests and single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/config"
	"calsync/internal/models"
	"calsync/internal/storage"

	"github.com/google/uuid"
)

func init() {
	storage.Register("memory", func(*config.Config, *storage.CredentialCodec) (storage.Store, error) {
		return New(), nil
	})
}

// Store keeps copies of every record; callers never share memory with it
type Store struct {
	mu           sync.RWMutex
	integrations map[string]*models.Integration
}

func New() *Store {
	return &Store{integrations: make(map[string]*models.Integration)}
}

func (s *Store) Get(_ context.Context, id string) (*models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.integrations[id]
	if !ok {
		return nil, errors.NotFoundError("integration")
	}
	return clone(in), nil
}

func (s *Store) List(_ context.Context, filter storage.Filter) ([]*models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Integration
	for _, in := range s.integrations {
		if filter.Matches(in) {
			out = append(out, clone(in))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Save(_ context.Context, in *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if existing, ok := s.integrations[in.ID]; ok {
		in.CreatedAt = existing.CreatedAt
	} else if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	s.integrations[in.ID] = clone(in)
	return nil
}

func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(in *models.Integration) {
		in.IsActive = active
	})
}

func (s *Store) UpdateCalendarList(_ context.Context, id string, calendars []models.CalendarEntry) error {
	return s.update(id, func(in *models.Integration) {
		in.CalendarList = append([]models.CalendarEntry(nil), calendars...)
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.integrations[id]; !ok {
		return errors.NotFoundError("integration")
	}
	delete(s.integrations, id)
	return nil
}

func (s *Store) Health(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) update(id string, fn func(*models.Integration)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.integrations[id]
	if !ok {
		return errors.NotFoundError("integration")
	}
	fn(in)
	in.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(in *models.Integration) *models.Integration {
	out := *in
	out.CalendarList = append([]models.CalendarEntry(nil), in.CalendarList...)
	return &out
}
