// Package health tracks the liveness of every integration and drives the
// healthy -> degraded -> unhealthy state machine.
//
// Records live in a RecordStore, one per (kind, integration id). Each
// transition loads, steps and saves the record while holding that key's
// lock, so concurrent checks of the same integration are linearized even
// across processes sharing the store and the lock service. Only the
// unhealthy state has a durable side effect: the integration is
// deactivated in storage, and re-deactivated by later checks while it is
// still active.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calsync/internal/classifier"
	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/locks"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/storage"
)

const (
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 2
	DefaultCheckTimeout      = 30 * time.Second

	lockTTL = 15 * time.Second
)

// CheckFunc performs one cheap read against the integration's provider
type CheckFunc func(ctx context.Context, in *models.Integration) error

type Options struct {
	FailureThreshold  int
	RecoveryThreshold int
	CheckTimeout      time.Duration
	Checks            map[models.Kind]CheckFunc
	PersistRetry      *utils.RetryConfig
	// Records defaults to process memory
	Records RecordStore
	// Locks defaults to a process-local lock
	Locks   locks.Locker
	Metrics *metrics.Metrics
	Logger  logging.Logger
	Clock   func() time.Time
}

// Engine owns the health records. Create one per process and share it.
type Engine struct {
	store             storage.Store
	records           RecordStore
	locks             locks.Locker
	checks            map[models.Kind]CheckFunc
	failureThreshold  int
	recoveryThreshold int
	checkTimeout      time.Duration
	persistRetry      utils.RetryConfig
	metrics           *metrics.Metrics
	logger            logging.Logger
	now               func() time.Time
}

func NewEngine(store storage.Store, opts Options) *Engine {
	e := &Engine{
		store:             store,
		records:           opts.Records,
		locks:             opts.Locks,
		checks:            make(map[models.Kind]CheckFunc, len(opts.Checks)),
		failureThreshold:  opts.FailureThreshold,
		recoveryThreshold: opts.RecoveryThreshold,
		checkTimeout:      opts.CheckTimeout,
		persistRetry:      utils.DefaultRetryConfig(),
		metrics:           opts.Metrics,
		logger:            logging.OrGlobal(opts.Logger).WithFields(logging.String("component", "health")),
		now:               opts.Clock,
	}
	for kind, fn := range opts.Checks {
		e.checks[kind] = fn
	}
	if e.records == nil {
		e.records = NewMemoryRecords()
	}
	if e.locks == nil {
		e.locks = locks.NewLocal()
	}
	if e.failureThreshold < 1 {
		e.failureThreshold = DefaultFailureThreshold
	}
	if e.recoveryThreshold < 1 {
		e.recoveryThreshold = DefaultRecoveryThreshold
	}
	if e.checkTimeout <= 0 {
		e.checkTimeout = DefaultCheckTimeout
	}
	if opts.PersistRetry != nil {
		e.persistRetry = *opts.PersistRetry
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// RegisterCheck installs or replaces the check for kind. Call it before
// checks start running.
func (e *Engine) RegisterCheck(kind models.Kind, fn CheckFunc) {
	e.checks[kind] = fn
}

func key(kind models.Kind, id string) string {
	return string(kind) + ":" + id
}

// load returns the stored record or the default one
func (e *Engine) load(ctx context.Context, kind models.Kind, id string) (models.HealthRecord, error) {
	rec, ok, err := e.records.Load(ctx, key(kind, id))
	if err != nil {
		return models.NewHealthRecord(kind, id), err
	}
	if !ok {
		return models.NewHealthRecord(kind, id), nil
	}
	return rec, nil
}

// GetHealthStatus returns a snapshot of the record, or the default healthy
// record when the integration has never been seen.
func (e *Engine) GetHealthStatus(kind models.Kind, id string) models.HealthRecord {
	rec, err := e.load(context.Background(), kind, id)
	if err != nil {
		e.logger.Warn("Failed to load health record",
			logging.String("integration_id", id),
			logging.Err(err),
		)
	}
	return rec
}

// GetUserHealthReport groups the user's records by kind. Integrations come
// from storage so unchecked ones are reported with default records; when
// storage is unavailable only records already tracked are reported.
func (e *Engine) GetUserHealthReport(ctx context.Context, userID string) models.UserHealthReport {
	report := models.UserHealthReport{
		UserID:               userID,
		CalendarIntegrations: []models.HealthRecord{},
		VideoIntegrations:    []models.HealthRecord{},
		GeneratedAt:          e.now().UTC(),
	}

	var records []models.HealthRecord
	integrations, err := e.store.List(ctx, storage.Filter{UserID: userID})
	if err != nil {
		e.logger.Warn("Falling back to tracked health records",
			logging.String("user_id", userID),
			logging.Err(err),
		)
		all, rerr := e.records.All(ctx)
		if rerr != nil {
			e.logger.Warn("Failed to list health records", logging.Err(rerr))
		}
		for _, rec := range all {
			if rec.UserID == userID {
				records = append(records, rec)
			}
		}
	} else {
		for _, in := range integrations {
			rec := e.GetHealthStatus(in.Kind, in.ID)
			rec.UserID = in.UserID
			rec.Provider = in.Provider
			records = append(records, rec)
		}
	}

	for _, rec := range records {
		switch rec.Kind {
		case models.KindVideo:
			report.VideoIntegrations = append(report.VideoIntegrations, rec)
		default:
			report.CalendarIntegrations = append(report.CalendarIntegrations, rec)
		}
		report.Summary.Add(rec)
	}
	return report
}

// RunHealthChecks checks every active integration concurrently, one
// goroutine each, and returns the resulting records. force ignores the
// deferral scheduled after transient failures.
func (e *Engine) RunHealthChecks(ctx context.Context, force bool) ([]models.HealthRecord, error) {
	integrations, err := e.store.List(ctx, storage.Filter{ActiveOnly: true})
	if err != nil {
		return nil, errors.InternalError("failed to list integrations for health checks", err)
	}

	results := make([]models.HealthRecord, len(integrations))
	var wg sync.WaitGroup
	for i, in := range integrations {
		wg.Add(1)
		go func(i int, in *models.Integration) {
			defer wg.Done()
			results[i] = e.CheckIntegration(ctx, in, force)
		}(i, in)
	}
	wg.Wait()

	e.logger.Info("Health checks completed",
		logging.Int("integrations", len(integrations)),
		logging.Bool("forced", force),
	)
	return results, nil
}

// CheckIntegration runs one check and applies the transition. Unhealthy
// integrations are not probed until Reactivate is called; while one is
// still active in storage its deactivation is retried instead.
func (e *Engine) CheckIntegration(ctx context.Context, in *models.Integration, force bool) models.HealthRecord {
	k := key(in.Kind, in.ID)
	current := e.GetHealthStatus(in.Kind, in.ID)

	if current.Status == models.HealthUnhealthy {
		if in.IsActive {
			e.withLock(ctx, k, func(ctx context.Context) error {
				e.ensureDeactivated(ctx, in)
				return nil
			})
		}
		return current
	}
	if !force && !current.NextCheckAt.IsZero() && e.now().Before(current.NextCheckAt) {
		e.logger.Debug("Health check deferred",
			logging.String("integration_id", in.ID),
			logging.Time("next_check_at", current.NextCheckAt),
		)
		return current
	}

	check, ok := e.checks[in.Kind]
	if !ok {
		e.logger.Debug("No health check registered", logging.String("kind", string(in.Kind)))
		return current
	}

	err := e.probe(ctx, check, in)
	class := classifier.ClassifyHealth(err)
	e.metrics.HealthCheck(string(in.Kind), string(class))

	after := current
	e.withLock(ctx, k, func(ctx context.Context) error {
		before, lerr := e.load(ctx, in.Kind, in.ID)
		if lerr != nil {
			return lerr
		}
		after = e.transition(before, in, err, class)
		if serr := e.records.Save(ctx, k, after); serr != nil {
			return serr
		}

		e.logOutcome(in, before, after, err)
		if before.Status != after.Status {
			e.metrics.HealthTransition(string(before.Status), string(after.Status))
		}
		if after.Status == models.HealthUnhealthy {
			e.ensureDeactivated(ctx, in)
		}
		return nil
	})
	return after
}

// withLock runs fn under the record lock for k and logs failures. The wait
// outlives a cancelled caller but is bounded by lockTTL.
func (e *Engine) withLock(ctx context.Context, k string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockTTL)
	defer cancel()
	if err := e.locks.Run(ctx, "health:"+k, lockTTL, fn); err != nil {
		e.logger.Error("Failed to update health record", err, logging.String("key", k))
	}
}

// ensureDeactivated deactivates in unless storage already has it inactive
func (e *Engine) ensureDeactivated(ctx context.Context, in *models.Integration) {
	fresh, err := e.store.Get(ctx, in.ID)
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeNotFound) {
			e.logger.Warn("Failed to read integration before deactivation",
				logging.String("integration_id", in.ID),
				logging.Err(err),
			)
		}
		return
	}
	if !fresh.IsActive {
		return
	}
	e.deactivate(ctx, in)
}

// transition is the pure state machine step
func (e *Engine) transition(rec models.HealthRecord, in *models.Integration, err error, class classifier.HealthClass) models.HealthRecord {
	now := e.now().UTC()
	rec.UserID = in.UserID
	rec.Provider = in.Provider
	rec.LastCheckedAt = now

	// A concurrent check may already have moved the record to unhealthy.
	if rec.Status == models.HealthUnhealthy {
		return rec
	}

	switch class {
	case classifier.None:
		rec.Validated = true
		rec.ConsecutiveFailures = 0
		rec.ConsecutiveTransient = 0
		rec.ConsecutiveSuccesses++
		rec.LastErrorClass = models.ErrorClassNone
		rec.LastError = ""
		rec.NextCheckAt = time.Time{}
		if rec.Status == models.HealthDegraded && rec.ConsecutiveSuccesses >= e.recoveryThreshold {
			rec.Status = models.HealthHealthy
		}

	case classifier.Transient:
		rec.ConsecutiveTransient++
		rec.LastErrorClass = models.ErrorClassTransient
		rec.LastError = classifier.SanitizeMessage(err, in.Provider, e.logger)
		rec.NextCheckAt = now.Add(classifier.RetryDelay(classifier.Classify(err), rec.ConsecutiveTransient))

	default:
		rec.ConsecutiveTransient = 0
		rec.ConsecutiveSuccesses = 0
		rec.ConsecutiveFailures++
		rec.LastErrorClass = models.ErrorClassHard
		rec.LastError = classifier.SanitizeMessage(err, in.Provider, e.logger)
		rec.NextCheckAt = time.Time{}
		if rec.ConsecutiveFailures >= e.failureThreshold {
			rec.Status = models.HealthUnhealthy
		} else {
			rec.Status = models.HealthDegraded
		}
	}
	return rec
}

// probe runs check with the per-check timeout. A hanging check stops being
// waited on when the timeout fires; a panic becomes an internal error.
func (e *Engine) probe(ctx context.Context, check CheckFunc, in *models.Integration) error {
	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.InternalError("health check panicked", fmt.Errorf("%v", r))
			}
		}()
		done <- check(ctx, in)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.TimeoutError("health check")
	}
}

// Reactivate is the manual recovery path for unhealthy integrations: the
// integration is re-enabled in storage and its record reset to healthy.
func (e *Engine) Reactivate(ctx context.Context, kind models.Kind, id string) (models.HealthRecord, error) {
	in, err := e.store.Get(ctx, id)
	if err != nil {
		return models.HealthRecord{}, err
	}
	if in.Kind != kind {
		return models.HealthRecord{}, errors.NotFoundError("integration")
	}

	if err := e.persistActive(ctx, id, true); err != nil {
		return models.HealthRecord{}, err
	}

	var before, after models.HealthRecord
	err = e.locks.Run(ctx, "health:"+key(kind, id), lockTTL, func(ctx context.Context) error {
		var lerr error
		before, lerr = e.load(ctx, kind, id)
		if lerr != nil {
			e.logger.Warn("Resetting unreadable health record",
				logging.String("integration_id", id),
				logging.Err(lerr),
			)
		}
		after = models.NewHealthRecord(kind, id)
		after.UserID = in.UserID
		after.Provider = in.Provider
		after.Validated = before.Validated
		return e.records.Save(ctx, key(kind, id), after)
	})
	if err != nil {
		return models.HealthRecord{}, err
	}

	e.metrics.HealthTransition(string(before.Status), string(after.Status))
	e.logger.Info("Integration reactivated",
		logging.String("integration_id", id),
		logging.String("previous_status", string(before.Status)),
	)
	return after, nil
}

// Forget drops the record, e.g. after the integration was deleted
func (e *Engine) Forget(ctx context.Context, kind models.Kind, id string) {
	if err := e.records.Delete(ctx, key(kind, id)); err != nil {
		e.logger.Warn("Failed to drop health record",
			logging.String("integration_id", id),
			logging.Err(err),
		)
	}
}

func (e *Engine) deactivate(ctx context.Context, in *models.Integration) {
	if err := e.persistActive(context.WithoutCancel(ctx), in.ID, false); err != nil {
		e.logger.Error("Failed to deactivate integration", err,
			logging.String("integration_id", in.ID),
		)
		return
	}
	e.logger.Warn("Integration deactivated after repeated failures",
		logging.String("integration_id", in.ID),
		logging.String("provider", in.Provider),
		logging.String("user_id", in.UserID),
	)
}

func (e *Engine) persistActive(ctx context.Context, id string, active bool) error {
	cfg := e.persistRetry
	cfg.RetryableErrors = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeNotFound)
	}
	return utils.RetryWithBackoff(ctx, cfg, func() error {
		return e.store.SetActive(ctx, id, active)
	})
}

func (e *Engine) logOutcome(in *models.Integration, before, after models.HealthRecord, err error) {
	fields := []logging.Field{
		logging.String("integration_id", in.ID),
		logging.String("provider", in.Provider),
		logging.String("status", string(after.Status)),
		logging.Int("consecutive_failures", after.ConsecutiveFailures),
		logging.Int("consecutive_successes", after.ConsecutiveSuccesses),
	}

	switch {
	case err == nil && before.Status != after.Status:
		e.logger.Info("Integration recovered", fields...)
	case err == nil:
		e.logger.Debug("Health check passed", fields...)
	case after.LastErrorClass == models.ErrorClassTransient:
		e.logger.Warn("Transient health check failure", append(fields,
			logging.Int("consecutive_transient", after.ConsecutiveTransient),
			logging.Time("next_check_at", after.NextCheckAt),
			logging.Err(err))...)
	default:
		e.logger.Error("Health check failed", err, fields...)
	}
}
