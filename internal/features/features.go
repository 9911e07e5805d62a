package features

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"acuity-passkit-bridge/internal/store"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages process-wide feature flags. Values are persisted to the
// durable store when one is available; otherwise they live only as long as
// this instance.
type Manager struct {
	mu     sync.RWMutex
	flags  map[string]*FeatureFlag
	holder *store.Holder
	logger *slog.Logger
}

// NewManager creates a new feature flag manager.
func NewManager(holder *store.Holder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		flags:  make(map[string]*FeatureFlag),
		holder: holder,
		logger: logger,
	}
}

// Register registers a new feature flag with its default value.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

func key(name string) string {
	return "feature:" + name
}

// persistedFlag is the durable form of a flag value.
type persistedFlag struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsEnabled checks if a feature flag is enabled. A persisted value wins over
// the in-memory one.
func (m *Manager) IsEnabled(ctx context.Context, name string) bool {
	m.mu.RLock()
	flag, exists := m.flags[name]
	var local bool
	if exists {
		local = flag.Enabled
	}
	m.mu.RUnlock()

	if !exists {
		return false // Default to disabled if flag doesn't exist
	}

	if persisted, ok := m.load(ctx, name); ok {
		return persisted
	}
	return local
}

func (m *Manager) load(ctx context.Context, name string) (bool, bool) {
	backend, ok := m.holder.Store(ctx)
	if !ok {
		return false, false
	}
	var v persistedFlag
	if err := store.GetJSON(ctx, backend, key(name), &v); err != nil {
		return false, false
	}
	return v.Enabled, true
}

// Set updates a feature flag. When a durable store is available the new
// value must reach it; on a failed write the in-memory value is rolled back
// and the error returned, so readers never see a value that was not saved.
func (m *Manager) Set(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	flag, exists := m.flags[name]
	var previous bool
	if exists {
		previous = flag.Enabled
		flag.Enabled = enabled
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown feature flag %q", name)
	}

	backend, ok := m.holder.Store(ctx)
	if !ok {
		return nil
	}
	value := persistedFlag{Enabled: enabled, UpdatedAt: time.Now().UTC()}
	if err := store.SetJSON(ctx, backend, key(name), value, 0); err != nil {
		m.mu.Lock()
		flag.Enabled = previous
		m.mu.Unlock()
		m.logger.Warn("feature flag not persisted", "flag", name, "error", err)
		return fmt.Errorf("persist feature flag %s: %w", name, err)
	}
	return nil
}

// Enable enables a feature flag.
func (m *Manager) Enable(ctx context.Context, name string) error {
	return m.Set(ctx, name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(ctx context.Context, name string) error {
	return m.Set(ctx, name, false)
}

// GetAll returns all feature flags with their effective values.
func (m *Manager) GetAll(ctx context.Context) map[string]*FeatureFlag {
	m.mu.RLock()
	names := make([]string, 0, len(m.flags))
	result := make(map[string]*FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		names = append(names, k)
		result[k] = &FeatureFlag{
			Name:        v.Name,
			Enabled:     v.Enabled,
			Description: v.Description,
		}
	}
	m.mu.RUnlock()

	for _, name := range names {
		if persisted, ok := m.load(ctx, name); ok {
			result[name].Enabled = persisted
		}
	}
	return result
}

// Predefined feature flag names
const (
	// FeatureWebhooksEnabled controls whether inbound booking webhooks are acted upon
	FeatureWebhooksEnabled = "webhooks_enabled"
)

// NewDefaultManager registers the flags this service knows about.
func NewDefaultManager(holder *store.Holder, logger *slog.Logger, webhooksEnabled bool) *Manager {
	m := NewManager(holder, logger)
	m.Register(FeatureWebhooksEnabled, webhooksEnabled, "Process inbound booking webhooks")
	return m
}
