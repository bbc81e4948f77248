package providers

import (
	"context"
	"fmt"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/ratelimit"
	"calsync/internal/common/registry"
)

// Registry maps provider tags to providers and creates clients
type Registry struct {
	providers *registry.Registry[CalendarProvider]
	limiter   ratelimit.Limiter
	logger    logging.Logger
}

// NewRegistry creates an empty registry. limiter throttles connectivity
// probes made while validating new clients; nil means unlimited.
func NewRegistry(limiter ratelimit.Limiter, logger logging.Logger) *Registry {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Registry{
		providers: registry.New[CalendarProvider](),
		limiter:   limiter,
		logger:    logging.OrGlobal(logger),
	}
}

// Register adds p under its own tag
func (r *Registry) Register(p CalendarProvider) {
	r.providers.Register(p)
}

// Tags returns the registered provider tags, sorted
func (r *Registry) Tags() []string {
	return r.providers.Tags()
}

// GetProvider returns the provider registered for tag
func (r *Registry) GetProvider(tag string) (CalendarProvider, error) {
	p, err := r.providers.Get(tag)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("Unknown provider: %s", tag))
	}
	return p, nil
}

// CreateClient builds a client for tag. Unless skipValidation is set the
// configuration is schema-checked and a rate-limited connectivity test must
// pass before the client is returned.
func (r *Registry) CreateClient(ctx context.Context, tag string, cfg Config, skipValidation bool) (Client, error) {
	client, _, err := r.create(ctx, tag, cfg, skipValidation)
	return client, err
}

// Connect is CreateClient with validation that also returns the
// provider's connectivity message
func (r *Registry) Connect(ctx context.Context, tag string, cfg Config) (Client, string, error) {
	return r.create(ctx, tag, cfg, false)
}

func (r *Registry) create(ctx context.Context, tag string, cfg Config, skipValidation bool) (Client, string, error) {
	p, err := r.GetProvider(tag)
	if err != nil {
		return nil, "", err
	}

	if !skipValidation {
		if err := p.ValidateConfig(cfg); err != nil {
			return nil, "", err
		}
	}

	client, err := p.NewClient(cfg)
	if err != nil {
		return nil, "", err
	}
	if skipValidation {
		return client, "", nil
	}

	key := tag + ":" + cfg.Host()
	allowed, err := r.limiter.Allow(ctx, key)
	if err != nil {
		// A broken limiter backend must not block validation
		r.logger.Warn("Rate limiter unavailable, allowing connectivity probe",
			logging.String("key", key),
			logging.Err(err),
		)
		allowed = true
	}
	if !allowed {
		return nil, "", errors.RateLimitError(fmt.Sprintf("%s connectivity checks", tag)).
			WithContext("host", cfg.Host())
	}

	msg, err := client.TestConnection(ctx)
	if err != nil {
		r.logger.Debug("Connectivity test failed during client creation",
			logging.String("provider", tag),
			logging.Err(err),
		)
		return nil, "", err
	}
	return client, msg, nil
}
