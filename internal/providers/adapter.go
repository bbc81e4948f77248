package providers

import (
	"context"
	"fmt"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/metrics"
	"calsync/internal/models"
)

// Operation names used in logs and metrics
const (
	OpNewClient         = "new_client"
	OpGetEvents         = "get_events"
	OpListPrimaryEvents = "list_primary_events"
	OpListEvents        = "list_events"
	OpCreateEvent       = "create_event"
	OpUpdateEvent       = "update_event"
	OpDeleteEvent       = "delete_event"
	OpTestConnection    = "test_connection"
	OpDiscoverCalendars = "discover_calendars"
)

// Adapter instruments provider calls: every call is logged, timed and
// shielded so a panicking provider becomes an internal error.
type Adapter struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   logging.Logger
	now      func() time.Time
}

// NewAdapter creates an adapter over registry. m may be nil.
func NewAdapter(registry *Registry, m *metrics.Metrics, logger logging.Logger) *Adapter {
	return &Adapter{
		registry: registry,
		metrics:  m,
		logger:   logging.OrGlobal(logger),
		now:      time.Now,
	}
}

// Registry returns the underlying registry
func (a *Adapter) Registry() *Registry {
	return a.registry
}

// Client creates an instrumented client for tag
func (a *Adapter) Client(ctx context.Context, tag string, cfg Config, skipValidation bool) (Client, error) {
	client, err := Call(ctx, a, OpNewClient, tag, func(ctx context.Context) (Client, error) {
		return a.registry.CreateClient(ctx, tag, cfg, skipValidation)
	})
	if err != nil {
		return nil, err
	}
	return &instrumentedClient{adapter: a, inner: client}, nil
}

// TestConnection validates cfg, runs the rate-limited connectivity test
// and returns the provider's message
func (a *Adapter) TestConnection(ctx context.Context, tag string, cfg Config) (string, error) {
	return Call(ctx, a, OpTestConnection, tag, func(ctx context.Context) (string, error) {
		_, msg, err := a.registry.Connect(ctx, tag, cfg)
		return msg, err
	})
}

// Call runs fn as operation against provider. Panics are recovered into
// internal errors; the outcome is logged and recorded.
func Call[T any](ctx context.Context, a *Adapter, operation, provider string, fn func(context.Context) (T, error)) (result T, err error) {
	logger := a.logger.WithContext(ctx).WithFields(
		logging.String("operation", operation),
		logging.String("provider", provider),
	)
	start := a.now()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = errors.InternalError(fmt.Sprintf("provider %s panicked during %s", provider, operation), fmt.Errorf("%v", r))
		}

		elapsed := a.now().Sub(start)
		a.metrics.ObserveProviderCall(operation, provider, elapsed, err)
		if err != nil {
			logger.Error("Provider call failed", err,
				logging.String("error_type", string(errors.GetType(err))),
				logging.Duration("duration", elapsed),
			)
			return
		}
		logger.Debug("Provider call succeeded", logging.Duration("duration", elapsed))
	}()

	logger.Debug("Provider call started")
	return fn(ctx)
}

type instrumentedClient struct {
	adapter *Adapter
	inner   Client
}

func (c *instrumentedClient) Provider() string { return c.inner.Provider() }

func (c *instrumentedClient) GetEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return Call(ctx, c.adapter, OpGetEvents, c.inner.Provider(), func(ctx context.Context) ([]models.Event, error) {
		return c.inner.GetEvents(ctx, start, end)
	})
}

func (c *instrumentedClient) ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return Call(ctx, c.adapter, OpListPrimaryEvents, c.inner.Provider(), func(ctx context.Context) ([]models.Event, error) {
		return c.inner.ListPrimaryEvents(ctx, start, end)
	})
}

func (c *instrumentedClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error) {
	return Call(ctx, c.adapter, OpListEvents, c.inner.Provider(), func(ctx context.Context) ([]models.Event, error) {
		return c.inner.ListEvents(ctx, calendarID, start, end)
	})
}

func (c *instrumentedClient) CreateEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	return Call(ctx, c.adapter, OpCreateEvent, c.inner.Provider(), func(ctx context.Context) (models.Event, error) {
		return c.inner.CreateEvent(ctx, ev)
	})
}

func (c *instrumentedClient) UpdateEvent(ctx context.Context, uid string, ev models.Event) (models.Event, error) {
	return Call(ctx, c.adapter, OpUpdateEvent, c.inner.Provider(), func(ctx context.Context) (models.Event, error) {
		return c.inner.UpdateEvent(ctx, uid, ev)
	})
}

func (c *instrumentedClient) DeleteEvent(ctx context.Context, uid string) error {
	_, err := Call(ctx, c.adapter, OpDeleteEvent, c.inner.Provider(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.inner.DeleteEvent(ctx, uid)
	})
	return err
}

func (c *instrumentedClient) TestConnection(ctx context.Context) (string, error) {
	return Call(ctx, c.adapter, OpTestConnection, c.inner.Provider(), c.inner.TestConnection)
}

func (c *instrumentedClient) DiscoverCalendars(ctx context.Context) ([]models.CalendarEntry, error) {
	return Call(ctx, c.adapter, OpDiscoverCalendars, c.inner.Provider(), c.inner.DiscoverCalendars)
}
