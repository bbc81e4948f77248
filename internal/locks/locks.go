// Package locks gives background jobs at-most-one-holder execution. The
// Redis implementation uses the Redlock algorithm from go-redsync so that
// only one instance of a deployment runs a scheduled job at a time.
package locks

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/redis"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// KeyPrefix namespaces lock keys in Redis
const KeyPrefix = "calsync:lock:"

// Locker runs work under a named lock
type Locker interface {
	// TryRun runs fn while holding key. When another holder has the key it
	// returns false without running fn.
	TryRun(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
	// Run waits for key, bounded by ctx, then runs fn while holding it
	Run(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Local serializes holders within one process. A held key maps to a
// channel closed on release.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) TryRun(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return false, nil
	}
	released := make(chan struct{})
	l.held[key] = released
	l.mu.Unlock()

	defer l.release(key, released)
	return true, fn(ctx)
}

func (l *Local) Run(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	for {
		l.mu.Lock()
		busy, ok := l.held[key]
		if !ok {
			released := make(chan struct{})
			l.held[key] = released
			l.mu.Unlock()

			defer l.release(key, released)
			return fn(ctx)
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return errors.TimeoutError("waiting for lock " + key)
		}
	}
}

func (l *Local) release(key string, released chan struct{}) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	close(released)
}

// Redsync holds locks in Redis. Held locks are extended at a third of
// their TTL until fn returns; losing the lock cancels fn's context.
type Redsync struct {
	rs     *redsync.Redsync
	logger logging.Logger
}

func NewRedsync(client *redis.Client, logger logging.Logger) (*Redsync, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	return &Redsync{
		rs:     redsync.New(goredis.NewPool(client.Redis())),
		logger: logging.OrGlobal(logger),
	}, nil
}

func (r *Redsync) TryRun(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	mutex := r.rs.NewMutex(KeyPrefix+key, redsync.WithExpiry(ttl), redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		if isTaken(err) {
			return false, nil
		}
		return false, errors.InternalError("failed to acquire lock "+key, err)
	}
	return true, r.hold(ctx, mutex, key, ttl, fn)
}

// Run retries acquisition until ctx ends
func (r *Redsync) Run(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	mutex := r.rs.NewMutex(KeyPrefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(math.MaxInt32),
		redsync.WithRetryDelay(50*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil || isTaken(err) {
			return errors.TimeoutError("waiting for lock " + key)
		}
		return errors.InternalError("failed to acquire lock "+key, err)
	}
	return r.hold(ctx, mutex, key, ttl, fn)
}

func isTaken(err error) bool {
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return stderrors.As(err, &taken) || stderrors.As(err, &nodeTaken) || stderrors.Is(err, redsync.ErrFailed)
}

// hold runs fn on an acquired mutex, extending it until fn returns
func (r *Redsync) hold(ctx context.Context, mutex *redsync.Mutex, key string, ttl time.Duration, fn func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go r.extend(runCtx, mutex, key, ttl, cancel, done)

	err := fn(runCtx)
	cancel()
	<-done

	unlockCtx, unlockCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer unlockCancel()
	if _, uerr := mutex.UnlockContext(unlockCtx); uerr != nil {
		r.logger.Warn("Failed to release lock", logging.String("key", key), logging.Err(uerr))
	}
	return err
}

func (r *Redsync) extend(ctx context.Context, mutex *redsync.Mutex, key string, ttl time.Duration, lost context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ok, err := mutex.ExtendContext(extendCtx)
			cancel()
			if err != nil || !ok {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("Lock lost, cancelling holder", logging.String("key", key), logging.Err(err))
				lost()
				return
			}
		}
	}
}
