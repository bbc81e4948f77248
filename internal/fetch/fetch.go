// Package fetch reads events from every selected calendar of an
// integration with bounded concurrency.
package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/metrics"
	"calsync/internal/models"
)

const (
	// DefaultConcurrency bounds in-flight calendar reads per call
	DefaultConcurrency = 20
	// DefaultTimeout bounds one calendar read
	DefaultTimeout = 30 * time.Second
)

// EventLister is the read surface of a provider client
type EventLister interface {
	ListPrimaryEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.Event, error)
}

// Options configures a Fetcher
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Metrics     *metrics.Metrics
	Logger      logging.Logger
}

// Fetcher fans event reads out over calendars
type Fetcher struct {
	concurrency int
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// New creates a Fetcher
func New(opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Fetcher{
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		metrics:     opts.Metrics,
		logger:      logging.OrGlobal(opts.Logger),
	}
}

// FetchEvents returns the events of the integration's selected calendars,
// de-duplicated by event id. Without a selected calendar the primary
// calendar is read. A calendar that fails, times out or panics contributes
// no events; FetchEvents itself never fails.
func (f *Fetcher) FetchEvents(ctx context.Context, in *models.Integration, start, end time.Time, api EventLister) []models.Event {
	logger := f.logger.WithContext(ctx).WithFields(
		logging.String("integration_id", in.ID),
		logging.String("provider", in.Provider),
	)

	selected := in.SelectedCalendars()
	if len(selected) == 0 {
		events, err := f.call(ctx, func(ctx context.Context) ([]models.Event, error) {
			return api.ListPrimaryEvents(ctx, start, end)
		})
		f.metrics.CalendarFetch(in.Provider, err)
		if err != nil {
			logger.Warn("Primary calendar fetch failed", logging.Err(err))
			return []models.Event{}
		}
		return dedupe(events)
	}

	// one slot per calendar keeps the merge in selection order
	results := make([][]models.Event, len(selected))

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, cal := range selected {
		g.Go(func() error {
			events, err := f.call(ctx, func(ctx context.Context) ([]models.Event, error) {
				return api.ListEvents(ctx, cal.ID, start, end)
			})
			f.metrics.CalendarFetch(in.Provider, err)
			if err != nil {
				logger.Warn("Calendar fetch failed",
					logging.String("calendar_id", cal.ID),
					logging.Err(err),
				)
				return nil
			}
			results[i] = events
			return nil
		})
	}
	_ = g.Wait()

	var all []models.Event
	for _, events := range results {
		all = append(all, events...)
	}
	return dedupe(all)
}

// call runs fn under the per-call timeout. The wait ends at the deadline
// even if fn ignores its context; a late result is discarded.
func (f *Fetcher) call(ctx context.Context, fn func(context.Context) ([]models.Event, error)) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		events []models.Event
		err    error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.InternalError("calendar fetch panicked", fmt.Errorf("%v", r))}
			}
		}()
		events, err := fn(ctx)
		done <- result{events: events, err: err}
	}()

	select {
	case r := <-done:
		return r.events, r.err
	case <-ctx.Done():
		return nil, errors.TimeoutError("calendar fetch")
	}
}

// dedupe keeps the first event per id, falling back to UID
func dedupe(events []models.Event) []models.Event {
	out := make([]models.Event, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		key := ev.ID
		if key == "" {
			key = ev.UID
		}
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}
