package service

import (
	"context"
	"net/http"

	"calsync/internal/caldav"
	"calsync/internal/circuitbreaker"
	"calsync/internal/common/cache"
	"calsync/internal/common/logging"
	"calsync/internal/common/ratelimit"
	"calsync/internal/config"
	"calsync/internal/discovery"
	"calsync/internal/fetch"
	"calsync/internal/health"
	"calsync/internal/locks"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/providers"
	"calsync/internal/providers/google"
	"calsync/internal/providers/outlook"
	"calsync/internal/storage"
)

// Infra holds the process-level resources Build wires together
type Infra struct {
	Store    storage.Store
	Cache    cache.Cache
	Limiter  ratelimit.Limiter
	Breakers *circuitbreaker.Manager
	// HealthRecords and Locks let processes share health counters; both
	// default to process-local implementations
	HealthRecords health.RecordStore
	Locks         locks.Locker
	Metrics       *metrics.Metrics
	Logger        logging.Logger
	// HTTPTransport replaces the network transport of provider clients
	HTTPTransport http.RoundTripper
	// GoogleEndpoint and OutlookEndpoint override the hosted APIs in tests
	GoogleEndpoint  string
	OutlookEndpoint string
}

// Build registers every provider and wires the engine from cfg
func Build(cfg *config.Config, infra Infra) *Service {
	logger := logging.OrGlobal(infra.Logger)
	if infra.Cache == nil {
		infra.Cache = cache.NewLocalCache(cfg.DiscoveryCacheTTL, cfg.DiscoveryCacheTTL*2)
	}

	transport := caldav.NewTransport(caldav.TransportConfig{
		RequestTimeout:   cfg.RequestTimeout,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchTimeout:     cfg.FetchTimeout,
		ProbeTimeout:     cfg.ProbeTimeout,
		Breakers:         infra.Breakers,
		Logger:           logger,
		HTTPTransport:    infra.HTTPTransport,
	})

	registry := providers.NewRegistry(infra.Limiter, logger)
	for _, p := range providers.CalDAVProviders(transport) {
		registry.Register(p)
	}
	registry.Register(google.New(google.Options{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     infra.GoogleEndpoint,
		HTTPClient:   transport.HTTP(true).GetHTTPClient(),
		Logger:       logger,
	}))
	registry.Register(outlook.New(outlook.Options{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		Tenant:       cfg.MicrosoftTenant,
		Endpoint:     infra.OutlookEndpoint,
		HTTP:         transport.HTTP(true),
		Logger:       logger,
	}))

	adapter := providers.NewAdapter(registry, infra.Metrics, logger)

	discover := func(ctx context.Context, provider string, pcfg providers.Config) ([]models.CalendarEntry, error) {
		client, err := adapter.Client(ctx, provider, pcfg, true)
		if err != nil {
			return nil, err
		}
		return client.DiscoverCalendars(ctx)
	}

	return New(Deps{
		Store:   infra.Store,
		Adapter: adapter,
		Discovery: discovery.New(infra.Cache, discover, discovery.Options{
			TTL:     cfg.DiscoveryCacheTTL,
			Metrics: infra.Metrics,
			Logger:  logger,
		}),
		Fetcher: fetch.New(fetch.Options{
			Concurrency: cfg.FetchConcurrency,
			Timeout:     cfg.FetchTimeout,
			Metrics:     infra.Metrics,
			Logger:      logger,
		}),
		Health: health.NewEngine(infra.Store, health.Options{
			FailureThreshold:  cfg.HealthFailureThreshold,
			RecoveryThreshold: cfg.HealthRecoveryThreshold,
			CheckTimeout:      cfg.HealthCheckTimeout,
			Checks: map[models.Kind]health.CheckFunc{
				models.KindCalendar: health.CalendarCheck(adapter),
			},
			Records: infra.HealthRecords,
			Locks:   infra.Locks,
			Metrics: infra.Metrics,
			Logger:  logger,
		}),
		Logger: logger,
	})
}
