// Package storage persists integration records for the resilience engine.
//
// The engine reads integrations and writes back two things: the calendar list
// after a successful discovery and the active flag after health transitions.
// Both writes are last-writer-wins and idempotent, so callers may retry them.
//
// Backends register themselves by type name (see Register). Import the backend
// packages for their side effects and build a Store with New:
//
//	import (
//		_ "calsync/internal/storage/memory"
//		_ "calsync/internal/storage/sqlite"
//	)
//
//	store, err := storage.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package storage

import (
	"context"

	"calsync/internal/models"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID     string
	Kind       models.Kind
	ActiveOnly bool
}

// Matches reports whether in passes the filter
func (f Filter) Matches(in *models.Integration) bool {
	if f.UserID != "" && in.UserID != f.UserID {
		return false
	}
	if f.Kind != "" && in.Kind != f.Kind {
		return false
	}
	if f.ActiveOnly && !in.IsActive {
		return false
	}
	return true
}

// Store is the persistence collaborator. Get, SetActive, UpdateCalendarList
// and Delete return a not_found AppError for unknown ids.
type Store interface {
	Get(ctx context.Context, id string) (*models.Integration, error)
	List(ctx context.Context, filter Filter) ([]*models.Integration, error)

	// Save inserts or replaces the whole record. An empty ID is assigned.
	Save(ctx context.Context, in *models.Integration) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateCalendarList(ctx context.Context, id string, calendars []models.CalendarEntry) error
	Delete(ctx context.Context, id string) error

	Health(ctx context.Context) error
	Close() error
}
