package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"acuity-passkit-bridge/internal/config"
)

// Opener establishes a connection to a durable backend.
type Opener func(ctx context.Context) (Store, error)

const (
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout = 2 * time.Second
	// RetryCooldown is how long a failed connection is remembered before
	// the next attempt.
	RetryCooldown = 30 * time.Second
)

// Holder owns the lazily opened durable store for the process. The first
// successful connection is memoised. A failed attempt makes the store
// unavailable for RetryCooldown. A nil Holder, or one without an opener, is
// never available.
type Holder struct {
	open   Opener
	name   string
	logger *slog.Logger

	connectTimeout time.Duration
	cooldown       time.Duration
	now            func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	store    Store
	failedAt time.Time
}

// NewHolder wraps open. name is used in log lines only.
func NewHolder(name string, open Opener, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{
		open:           open,
		name:           name,
		logger:         logger,
		connectTimeout: ConnectTimeout,
		cooldown:       RetryCooldown,
		now:            time.Now,
	}
}

// NewStaticHolder wraps an already opened store.
func NewStaticHolder(s Store) *Holder {
	h := NewHolder("static", nil, nil)
	h.store = s
	return h
}

// FromConfig builds the holder for the configured backend. No backend yields
// a holder that is never available.
func FromConfig(cfg config.StoreConfig, logger *slog.Logger) *Holder {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))

	var open Opener
	switch backend {
	case "redis":
		url := cfg.RedisURL
		open = func(ctx context.Context) (Store, error) { return NewRedisStore(ctx, url) }
	case "sqlite":
		path := cfg.SQLitePath
		open = func(ctx context.Context) (Store, error) { return NewSQLiteStore(ctx, path) }
	case "memory":
		mem := NewMemoryStore()
		open = func(ctx context.Context) (Store, error) { return mem, nil }
	default:
		backend = "none"
	}
	return NewHolder(backend, open, logger)
}

// Backend returns the backend name.
func (h *Holder) Backend() string {
	if h == nil {
		return "none"
	}
	return h.name
}

// Store returns the connected store, connecting on first use.
func (h *Holder) Store(ctx context.Context) (Store, bool) {
	if h == nil {
		return nil, false
	}

	h.mu.RLock()
	s, failedAt := h.store, h.failedAt
	h.mu.RUnlock()
	if s != nil {
		return s, true
	}
	if h.open == nil {
		return nil, false
	}
	if !failedAt.IsZero() && h.now().Sub(failedAt) < h.cooldown {
		return nil, false
	}

	v, err, _ := h.group.Do("connect", func() (interface{}, error) {
		h.mu.RLock()
		existing := h.store
		h.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		// Callers share this attempt, so one caller's cancellation must not
		// fail it for the rest.
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.connectTimeout)
		defer cancel()

		opened, err := h.open(openCtx)
		if err == nil && opened == nil {
			err = fmt.Errorf("store %s: opener returned no store", h.name)
		}
		if err != nil {
			h.mu.Lock()
			h.failedAt = h.now()
			h.mu.Unlock()
			return nil, err
		}

		h.mu.Lock()
		h.store = opened
		h.failedAt = time.Time{}
		h.mu.Unlock()
		h.logger.Info("durable store connected", "backend", h.name)
		return opened, nil
	})
	if err != nil {
		h.logger.Warn("durable store unavailable", "backend", h.name, "error", err, "retry_in", h.cooldown)
		return nil, false
	}
	return v.(Store), true
}

// IsAvailable reports whether a durable store can be used right now.
func (h *Holder) IsAvailable(ctx context.Context) bool {
	_, ok := h.Store(ctx)
	return ok
}

// Close closes the store if it was ever opened.
func (h *Holder) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}
