// Package mapping caches which order produced a certificate code. It is a
// convenience for later operator lookups and never authoritative.
package mapping

import (
	"context"
	"errors"
	"time"

	"acuity-passkit-bridge/internal/certificate"
	"acuity-passkit-bridge/internal/store"
)

// TTL is how long a mapping survives after its last Put.
const TTL = 90 * 24 * time.Hour

const keyPrefix = "certificate-order:"

// Outcome reports what a best-effort write did. Callers log Err and move
// on; it never changes a reconciliation result.
type Outcome struct {
	Applied bool
	Err     error
}

// Store maps certificate codes to order ids.
type Store struct {
	holder *store.Holder
	ttl    time.Duration
}

// New returns a mapping store backed by holder. A nil or unavailable holder
// turns every operation into a no-op.
func New(holder *store.Holder) *Store {
	return &Store{holder: holder, ttl: TTL}
}

func key(code certificate.Code) string {
	return keyPrefix + code.String()
}

// Put records code -> orderID. Invalid codes are ignored.
func (s *Store) Put(ctx context.Context, code, orderID string) Outcome {
	normalized, err := certificate.Normalize(code)
	if err != nil || orderID == "" {
		return Outcome{}
	}
	backend, ok := s.holder.Store(ctx)
	if !ok {
		return Outcome{}
	}
	if err := backend.Set(ctx, key(normalized), orderID, s.ttl); err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Applied: true}
}

// Resolve returns the order id recorded for code.
func (s *Store) Resolve(ctx context.Context, code string) (string, bool) {
	normalized, err := certificate.Normalize(code)
	if err != nil {
		return "", false
	}
	backend, ok := s.holder.Store(ctx)
	if !ok {
		return "", false
	}
	orderID, err := backend.Get(ctx, key(normalized))
	if err != nil || orderID == "" {
		return "", false
	}
	return orderID, true
}

// Remove deletes the mapping for code. Invalid codes are ignored.
func (s *Store) Remove(ctx context.Context, code string) Outcome {
	normalized, err := certificate.Normalize(code)
	if err != nil {
		return Outcome{}
	}
	backend, ok := s.holder.Store(ctx)
	if !ok {
		return Outcome{}
	}
	if err := backend.Delete(ctx, key(normalized)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Outcome{Err: err}
	}
	return Outcome{Applied: true}
}
