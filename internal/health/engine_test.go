package health

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"calsync/internal/circuitbreaker"
	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/storage"
	"calsync/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scripted returns the queued results in order, then succeeds
type scripted struct {
	mu      sync.Mutex
	results []error
	calls   int32
}

func (s *scripted) check(context.Context, *models.Integration) error {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func (s *scripted) push(errs ...error) {
	s.mu.Lock()
	s.results = append(s.results, errs...)
	s.mu.Unlock()
}

// countingStore counts SetActive calls and can fail the first few
type countingStore struct {
	storage.Store
	setActive int32
	failFirst int32
}

func (s *countingStore) SetActive(ctx context.Context, id string, active bool) error {
	n := atomic.AddInt32(&s.setActive, 1)
	if n <= atomic.LoadInt32(&s.failFirst) {
		return errors.InternalError("database is locked", nil)
	}
	return s.Store.SetActive(ctx, id, active)
}

var (
	hardErr      = errors.AuthError("invalid credentials")
	transientErr = errors.TimeoutError("list events")
)

type fixture struct {
	engine *Engine
	store  *countingStore
	check  *scripted
	clock  *fakeClock
	in     *models.Integration
	m      *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := &countingStore{Store: memory.New()}
	in := &models.Integration{
		UserID:   "user-1",
		Kind:     models.KindCalendar,
		Provider: "radicale",
		IsActive: true,
	}
	require.NoError(t, store.Save(context.Background(), in))

	check := &scripted{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := metrics.New()
	engine := NewEngine(store, Options{
		Checks:       map[models.Kind]CheckFunc{models.KindCalendar: check.check},
		CheckTimeout: time.Second,
		PersistRetry: &utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1},
		Metrics:      m,
		Logger:       logging.NewNopLogger(),
		Clock:        clock.Now,
	})

	return &fixture{engine: engine, store: store, check: check, clock: clock, in: in, m: m}
}

func (f *fixture) run(t *testing.T, force bool) models.HealthRecord {
	t.Helper()
	in, err := f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	return f.engine.CheckIntegration(context.Background(), in, force)
}

func TestGetHealthStatus_DefaultRecord(t *testing.T) {
	f := newFixture(t)

	rec := f.engine.GetHealthStatus(models.KindCalendar, "never-seen")
	assert.Equal(t, models.HealthHealthy, rec.Status)
	assert.Equal(t, models.ErrorClassNone, rec.LastErrorClass)
	assert.Equal(t, "never-seen", rec.IntegrationID)
	assert.False(t, rec.Validated)
}

func TestHealth_HardFailuresReachUnhealthyDespiteTransients(t *testing.T) {
	f := newFixture(t)
	f.check.push(hardErr, transientErr, transientErr, hardErr, transientErr, hardErr)

	rec := f.run(t, true)
	assert.Equal(t, models.HealthDegraded, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveFailures)

	rec = f.run(t, true)
	rec = f.run(t, true)
	assert.Equal(t, models.HealthDegraded, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveFailures, "transient failures do not count")
	assert.Equal(t, 2, rec.ConsecutiveTransient)
	assert.Equal(t, models.ErrorClassTransient, rec.LastErrorClass)

	rec = f.run(t, true)
	assert.Equal(t, 2, rec.ConsecutiveFailures)
	rec = f.run(t, true)
	assert.Equal(t, 2, rec.ConsecutiveFailures)

	rec = f.run(t, true)
	assert.Equal(t, models.HealthUnhealthy, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, models.ErrorClassHard, rec.LastErrorClass)
	assert.NotEmpty(t, rec.LastError)

	stored, err := f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestHealth_TransientKeepsHealthyStatus(t *testing.T) {
	f := newFixture(t)
	f.check.push(errors.RateLimitError("calendar api"), transientErr)

	rec := f.run(t, true)
	rec = f.run(t, true)
	assert.Equal(t, models.HealthHealthy, rec.Status)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.Equal(t, 2, rec.ConsecutiveTransient)
}

func TestHealth_RecoveryFromDegraded(t *testing.T) {
	f := newFixture(t)
	f.check.push(hardErr, hardErr)

	f.run(t, true)
	rec := f.run(t, true)
	require.Equal(t, models.HealthDegraded, rec.Status)
	require.Equal(t, 2, rec.ConsecutiveFailures)

	rec = f.run(t, true)
	assert.Equal(t, models.HealthDegraded, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, 1, rec.ConsecutiveSuccesses)
	assert.True(t, rec.Validated)

	rec = f.run(t, true)
	assert.Equal(t, models.HealthHealthy, rec.Status)
	assert.Equal(t, 2, rec.ConsecutiveSuccesses)
}

func TestHealth_HardFailureResetsSuccesses(t *testing.T) {
	f := newFixture(t)
	f.check.push(hardErr, nil, hardErr)

	f.run(t, true)
	rec := f.run(t, true)
	assert.Equal(t, 1, rec.ConsecutiveSuccesses)

	rec = f.run(t, true)
	assert.Equal(t, models.HealthDegraded, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.Zero(t, rec.ConsecutiveSuccesses)
}

func TestHealth_UnhealthyIsTerminalUntilReactivated(t *testing.T) {
	f := newFixture(t)
	f.check.push(hardErr, hardErr, hardErr)
	for i := 0; i < 3; i++ {
		f.run(t, true)
	}
	calls := atomic.LoadInt32(&f.check.calls)

	rec := f.engine.CheckIntegration(context.Background(), f.in, true)
	assert.Equal(t, models.HealthUnhealthy, rec.Status)
	assert.Equal(t, calls, atomic.LoadInt32(&f.check.calls), "unhealthy integrations are not probed")

	rec, err := f.engine.Reactivate(context.Background(), models.KindCalendar, f.in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, rec.Status)
	assert.Zero(t, rec.ConsecutiveFailures)

	stored, err := f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	rec = f.run(t, true)
	assert.Equal(t, models.HealthHealthy, rec.Status)
	assert.Equal(t, calls+1, atomic.LoadInt32(&f.check.calls))
}

func TestHealth_ReactivateUnknownIntegration(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Reactivate(context.Background(), models.KindCalendar, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = f.engine.Reactivate(context.Background(), models.KindVideo, f.in.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestHealth_TransientDefersScheduledChecks(t *testing.T) {
	f := newFixture(t)
	f.check.push(transientErr)

	rec := f.run(t, false)
	require.True(t, rec.NextCheckAt.After(f.clock.Now()))
	require.EqualValues(t, 1, atomic.LoadInt32(&f.check.calls))

	f.run(t, false)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.check.calls), "deferred")

	f.run(t, true)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.check.calls), "force ignores deferral")

	f.check.push(transientErr)
	rec = f.run(t, true)
	f.clock.Advance(rec.NextCheckAt.Sub(f.clock.Now()) + time.Second)
	rec = f.run(t, false)
	assert.EqualValues(t, 4, atomic.LoadInt32(&f.check.calls))
	assert.True(t, rec.NextCheckAt.IsZero())
}

func TestHealth_ConcurrentFailuresDeactivateOnce(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.check.push(hardErr)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.CheckIntegration(context.Background(), f.in, true)
		}()
	}
	wg.Wait()

	rec := f.engine.GetHealthStatus(models.KindCalendar, f.in.ID)
	assert.Equal(t, models.HealthUnhealthy, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.store.setActive))
}

func TestHealth_DeactivationIsRetried(t *testing.T) {
	f := newFixture(t)
	atomic.StoreInt32(&f.store.failFirst, 2)
	f.check.push(hardErr, hardErr, hardErr)

	for i := 0; i < 3; i++ {
		f.run(t, true)
	}

	assert.EqualValues(t, 3, atomic.LoadInt32(&f.store.setActive))
	stored, err := f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestHealth_FailedDeactivationResumesOnNextRun(t *testing.T) {
	f := newFixture(t)
	atomic.StoreInt32(&f.store.failFirst, 3)
	f.check.push(hardErr, hardErr, hardErr)

	for i := 0; i < 3; i++ {
		f.run(t, true)
	}
	require.EqualValues(t, 3, atomic.LoadInt32(&f.store.setActive), "every attempt failed")
	stored, err := f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	require.True(t, stored.IsActive)
	calls := atomic.LoadInt32(&f.check.calls)

	results, err := f.engine.RunHealthChecks(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, results, 1, "still listed as active")
	assert.Equal(t, models.HealthUnhealthy, results[0].Status)
	assert.Equal(t, calls, atomic.LoadInt32(&f.check.calls), "the provider is not called again")

	stored, err = f.store.Get(context.Background(), f.in.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.EqualValues(t, 4, atomic.LoadInt32(&f.store.setActive))

	results, err = f.engine.RunHealthChecks(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.EqualValues(t, 4, atomic.LoadInt32(&f.store.setActive))
}

func TestHealth_OpenBreakerIsTransient(t *testing.T) {
	f := newFixture(t)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures:           1,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
		Interval:              time.Minute,
	}, logging.NewNopLogger())
	_ = breakers.Execute(context.Background(), "cal.example.com", func() error {
		return errors.HTTPStatusError(503, "")
	})

	f.engine.RegisterCheck(models.KindCalendar, func(ctx context.Context, _ *models.Integration) error {
		return breakers.Execute(ctx, "cal.example.com", func() error {
			t.Error("open breaker must not call the server")
			return nil
		})
	})

	for i := 0; i < 5; i++ {
		rec := f.run(t, true)
		assert.Equal(t, models.HealthHealthy, rec.Status)
		assert.Zero(t, rec.ConsecutiveFailures)
		assert.Equal(t, models.ErrorClassTransient, rec.LastErrorClass)
	}
	assert.Zero(t, atomic.LoadInt32(&f.store.setActive))
}

func TestHealth_PanicIsHardFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.RegisterCheck(models.KindCalendar, func(context.Context, *models.Integration) error {
		panic("nil map")
	})

	rec := f.run(t, true)
	assert.Equal(t, models.HealthDegraded, rec.Status)
	assert.Equal(t, models.ErrorClassHard, rec.LastErrorClass)
}

func TestRunHealthChecks_HangingIntegrationDoesNotBlockOthers(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	slow := &models.Integration{UserID: "u", Kind: models.KindCalendar, Provider: "slow", IsActive: true}
	fast := &models.Integration{UserID: "u", Kind: models.KindCalendar, Provider: "fast", IsActive: true}
	off := &models.Integration{UserID: "u", Kind: models.KindCalendar, Provider: "fast", IsActive: false}
	for _, in := range []*models.Integration{slow, fast, off} {
		require.NoError(t, store.Save(ctx, in))
	}

	release := make(chan struct{})
	defer close(release)

	var checked sync.Map
	engine := NewEngine(store, Options{
		CheckTimeout: 50 * time.Millisecond,
		Logger:       logging.NewNopLogger(),
		Checks: map[models.Kind]CheckFunc{
			models.KindCalendar: func(ctx context.Context, in *models.Integration) error {
				checked.Store(in.ID, true)
				if in.Provider == "slow" {
					<-release
				}
				return nil
			},
		},
	})

	start := time.Now()
	results, err := engine.RunHealthChecks(ctx, true)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, results, 2)

	byID := map[string]models.HealthRecord{}
	for _, r := range results {
		byID[r.IntegrationID] = r
	}
	assert.Equal(t, models.ErrorClassTransient, byID[slow.ID].LastErrorClass, "timeouts are transient")
	assert.Equal(t, models.HealthHealthy, byID[slow.ID].Status)
	assert.True(t, byID[fast.ID].Validated)

	_, offChecked := checked.Load(off.ID)
	assert.False(t, offChecked, "inactive integrations are skipped")
}

func TestGetUserHealthReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	video := &models.Integration{UserID: "user-1", Kind: models.KindVideo, Provider: "zoom", IsActive: true}
	other := &models.Integration{UserID: "user-2", Kind: models.KindCalendar, Provider: "google", IsActive: true}
	require.NoError(t, f.store.Save(ctx, video))
	require.NoError(t, f.store.Save(ctx, other))

	f.check.push(hardErr)
	f.run(t, true)

	report := f.engine.GetUserHealthReport(ctx, "user-1")
	assert.Equal(t, "user-1", report.UserID)
	require.Len(t, report.CalendarIntegrations, 1)
	require.Len(t, report.VideoIntegrations, 1)
	assert.Equal(t, models.HealthDegraded, report.CalendarIntegrations[0].Status)
	assert.Equal(t, "zoom", report.VideoIntegrations[0].Provider)
	assert.Equal(t, models.HealthSummary{Total: 2, Healthy: 1, Degraded: 1}, report.Summary)
}
