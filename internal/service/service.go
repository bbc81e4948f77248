// Package service is the call surface of the integration engine. It loads
// integration records, builds instrumented provider clients and routes
// reads through the discovery cache, the multi-calendar fetcher and the
// health engine.
package service

import (
	"context"
	"fmt"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/common/validation"
	"calsync/internal/discovery"
	"calsync/internal/fetch"
	"calsync/internal/health"
	"calsync/internal/models"
	"calsync/internal/providers"
	"calsync/internal/storage"
)

// Service composes the engine's components. Build wires a complete one
// from configuration; New accepts pre-built parts.
type Service struct {
	store     storage.Store
	adapter   *providers.Adapter
	discovery *discovery.Cache
	fetcher   *fetch.Fetcher
	health    *health.Engine
	logger    logging.Logger
}

type Deps struct {
	Store     storage.Store
	Adapter   *providers.Adapter
	Discovery *discovery.Cache
	Fetcher   *fetch.Fetcher
	Health    *health.Engine
	Logger    logging.Logger
}

func New(deps Deps) *Service {
	return &Service{
		store:     deps.Store,
		adapter:   deps.Adapter,
		discovery: deps.Discovery,
		fetcher:   deps.Fetcher,
		health:    deps.Health,
		logger:    logging.OrGlobal(deps.Logger).WithFields(logging.String("component", "service")),
	}
}

// Providers lists the registered providers with their config schemas
func (s *Service) Providers() []ProviderInfo {
	reg := s.adapter.Registry()
	var out []ProviderInfo
	for _, tag := range reg.Tags() {
		p, err := reg.GetProvider(tag)
		if err != nil {
			continue
		}
		out = append(out, ProviderInfo{
			Type:        p.Type(),
			DisplayName: p.DisplayName(),
			Schema:      p.ConfigSchema(),
		})
	}
	return out
}

type ProviderInfo struct {
	Type        string                  `json:"type"`
	DisplayName string                  `json:"display_name"`
	Schema      []providers.SchemaField `json:"config_schema"`
}

// NewClient builds an instrumented client for tag. With skipValidation the
// config is neither schema-checked nor connectivity-tested.
func (s *Service) NewClient(ctx context.Context, tag string, cfg providers.Config, skipValidation bool) (providers.Client, error) {
	return s.adapter.Client(ctx, tag, cfg, skipValidation)
}

// CreateIntegration validates the config with a connectivity probe and
// stores the integration as active.
func (s *Service) CreateIntegration(ctx context.Context, in *models.Integration) error {
	err := validation.NewValidatorWithPrefix("Integration").
		RequireString(in.UserID, "user_id").
		RequireString(in.Provider, "provider").
		Error()
	if err != nil {
		return err
	}
	if in.Kind == "" {
		in.Kind = models.KindCalendar
	}
	if err := in.ValidateCalendarList(); err != nil {
		return errors.ValidationError(err.Error())
	}

	if in.Kind == models.KindCalendar {
		if _, err := s.adapter.Client(ctx, in.Provider, providers.ConfigFromIntegration(in), false); err != nil {
			return err
		}
	}

	in.IsActive = true
	if err := s.store.Save(ctx, in); err != nil {
		return err
	}

	s.logger.Info("Integration created",
		logging.String("integration_id", in.ID),
		logging.String("provider", in.Provider),
		logging.String("user_id", in.UserID),
	)
	return nil
}

func (s *Service) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListIntegrations(ctx context.Context, userID string) ([]*models.Integration, error) {
	return s.store.List(ctx, storage.Filter{UserID: userID})
}

// DeleteIntegration removes the record, its cached discovery and its
// health record.
func (s *Service) DeleteIntegration(ctx context.Context, id string) error {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.discovery.Clear(ctx, in.Provider, providers.ConfigFromIntegration(in)); err != nil {
		s.logger.Warn("Failed to clear discovery cache", logging.String("integration_id", id), logging.Err(err))
	}
	s.health.Forget(ctx, in.Kind, in.ID)
	return nil
}

// client loads an active integration and builds its client without a
// connectivity probe.
func (s *Service) client(ctx context.Context, id string) (*models.Integration, providers.Client, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !in.IsActive {
		return nil, nil, errors.ValidationError(fmt.Sprintf("integration %s is deactivated; reconnect it to resume syncing", id)).
			WithCode("INTEGRATION_INACTIVE")
	}
	client, err := s.adapter.Client(ctx, in.Provider, providers.ConfigFromIntegration(in), true)
	if err != nil {
		return nil, nil, err
	}
	return in, client, nil
}

// GetEvents reads the integration's configured calendars. A zero window
// means the current month.
func (s *Service) GetEvents(ctx context.Context, id string, start, end time.Time) ([]models.Event, error) {
	_, client, err := s.client(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.GetEvents(ctx, start, end)
}

// FetchEvents fans out over the selected calendars. Calendars that fail
// contribute no events; only loading the integration can fail.
func (s *Service) FetchEvents(ctx context.Context, id string, start, end time.Time) ([]models.Event, error) {
	in, client, err := s.client(ctx, id)
	if err != nil {
		return nil, err
	}
	if start.IsZero() || end.IsZero() {
		start, end = utils.MonthWindow(time.Now())
	}
	return s.fetcher.FetchEvents(ctx, in, start, end, client), nil
}

func (s *Service) CreateEvent(ctx context.Context, id string, ev models.Event) (models.Event, error) {
	_, client, err := s.client(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	return client.CreateEvent(ctx, ev)
}

func (s *Service) UpdateEvent(ctx context.Context, id, uid string, ev models.Event) (models.Event, error) {
	_, client, err := s.client(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	return client.UpdateEvent(ctx, uid, ev)
}

func (s *Service) DeleteEvent(ctx context.Context, id, uid string) error {
	_, client, err := s.client(ctx, id)
	if err != nil {
		return err
	}
	return client.DeleteEvent(ctx, uid)
}

// TestConnection runs the validated client path: schema check, rate-limited
// connectivity probe. Deactivated integrations may be tested.
func (s *Service) TestConnection(ctx context.Context, id string) (string, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.adapter.TestConnection(ctx, in.Provider, providers.ConfigFromIntegration(in))
}

// DiscoverCalendars lists the account's calendars through the discovery
// cache and writes the merged list back to storage, keeping the selected
// flag of calendars that were already known.
func (s *Service) DiscoverCalendars(ctx context.Context, id string, forceRefresh bool) ([]models.CalendarEntry, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	discovered, err := s.discovery.Discover(ctx, in.Provider, providers.ConfigFromIntegration(in), forceRefresh)
	if err != nil {
		return nil, err
	}

	merged := models.MergeCalendarList(in.CalendarList, discovered)
	err = utils.RetryWithBackoff(ctx, utils.DefaultRetryConfig(), func() error {
		return s.store.UpdateCalendarList(ctx, id, merged)
	})
	if err != nil {
		s.logger.Error("Failed to store discovered calendars", err, logging.String("integration_id", id))
		return nil, errors.InternalError("failed to store discovered calendars", err)
	}
	return merged, nil
}

// ClearCache drops the cached discovery result of an integration
func (s *Service) ClearCache(ctx context.Context, id string) error {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.discovery.Clear(ctx, in.Provider, providers.ConfigFromIntegration(in))
}

// SweepDiscoveryCache removes expired discovery entries
func (s *Service) SweepDiscoveryCache(ctx context.Context) (int, error) {
	return s.discovery.SweepExpired(ctx)
}

func (s *Service) RunHealthChecks(ctx context.Context, force bool) ([]models.HealthRecord, error) {
	return s.health.RunHealthChecks(ctx, force)
}

func (s *Service) GetHealthStatus(kind models.Kind, id string) models.HealthRecord {
	return s.health.GetHealthStatus(kind, id)
}

func (s *Service) GetUserHealthReport(ctx context.Context, userID string) models.UserHealthReport {
	return s.health.GetUserHealthReport(ctx, userID)
}

// Reactivate re-enables an integration the health engine deactivated
func (s *Service) Reactivate(ctx context.Context, kind models.Kind, id string) (models.HealthRecord, error) {
	return s.health.Reactivate(ctx, kind, id)
}

// Health reports whether storage is reachable
func (s *Service) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}
