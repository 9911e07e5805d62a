// Package activitylog is the append-only audit trail of reconciliation runs.
// Entries always reach the structured logger and an in-process ring; when a
// durable store is available they are also pushed to a capped shared list.
package activitylog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/store"
)

// MaxEntries caps both the in-process ring and the durable list.
const MaxEntries = 100

const listKey = "activity-log"

type Sink struct {
	holder *store.Holder
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	ring []models.LogEntry
}

func New(holder *store.Holder, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		holder: holder,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Sink) Info(ctx context.Context, msg string, data map[string]any) {
	s.Log(ctx, models.LevelInfo, msg, data)
}

func (s *Sink) Warn(ctx context.Context, msg string, data map[string]any) {
	s.Log(ctx, models.LevelWarn, msg, data)
}

func (s *Sink) Error(ctx context.Context, msg string, data map[string]any) {
	s.Log(ctx, models.LevelError, msg, data)
}

// Log records one entry and returns it.
func (s *Sink) Log(ctx context.Context, level, msg string, data map[string]any) models.LogEntry {
	entry := models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Level:     level,
		Message:   msg,
		Data:      data,
	}

	s.logger.LogAttrs(ctx, slogLevel(level), msg, attrs(data)...)

	s.mu.Lock()
	s.ring = append(s.ring, entry)
	if len(s.ring) > MaxEntries {
		s.ring = s.ring[len(s.ring)-MaxEntries:]
	}
	s.mu.Unlock()

	// The durable copy is advisory; a failed write leaves the entry in the
	// ring and the process log.
	if err := s.persist(ctx, entry); err != nil {
		s.logger.Debug("activity log entry not persisted", "error", err)
	}
	return entry
}

func (s *Sink) persist(ctx context.Context, entry models.LogEntry) error {
	backend, ok := s.holder.Store(ctx)
	if !ok {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return backend.PushCapped(ctx, listKey, string(data), MaxEntries)
}

// Recent returns up to limit entries, newest first. The durable list is
// preferred because it is shared between instances.
func (s *Sink) Recent(ctx context.Context, limit int) []models.LogEntry {
	if limit <= 0 || limit > MaxEntries {
		limit = MaxEntries
	}

	if entries, ok := s.recentDurable(ctx, limit); ok {
		return entries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.LogEntry, 0, limit)
	for i := len(s.ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.ring[i])
	}
	return out
}

func (s *Sink) recentDurable(ctx context.Context, limit int) ([]models.LogEntry, bool) {
	backend, ok := s.holder.Store(ctx)
	if !ok {
		return nil, false
	}
	raw, err := backend.List(ctx, listKey, limit)
	if err != nil {
		s.logger.Debug("activity log read failed", "error", err)
		return nil, false
	}

	out := make([]models.LogEntry, 0, len(raw))
	for _, r := range raw {
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, true
}

func slogLevel(level string) slog.Level {
	switch level {
	case models.LevelWarn:
		return slog.LevelWarn
	case models.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrs(data map[string]any) []slog.Attr {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, data[k]))
	}
	return out
}
