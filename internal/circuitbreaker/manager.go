package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"calsync/internal/common/logging"
)

// Manager hands out one breaker per name, typically a remote host
type Manager struct {
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager whose breakers share config
func NewManager(config Config, logger logging.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logging.OrGlobal(logger),
	}
}

// GetOrCreate gets an existing breaker or creates a new one
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	breaker = New(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Execute runs fn inside the named breaker
func (m *Manager) Execute(ctx context.Context, name string, fn func() error) error {
	return m.GetOrCreate(name).Execute(ctx, fn)
}

// AllStats returns statistics for all breakers, sorted by name
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Remove drops a breaker, resetting its state on next use
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[name]; exists {
		delete(m.breakers, name)
		return true
	}
	return false
}
