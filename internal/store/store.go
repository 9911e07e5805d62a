// Package store provides the optional durable key/value backend shared by the
// mapping cache, the activity log and the feature flags.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// PushCapped prepends value to the list at key and trims it to max entries.
	PushCapped(ctx context.Context, key string, value string, max int) error
	// List returns up to limit entries of the list at key, newest first.
	List(ctx context.Context, key string, limit int) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrNotFound = fmt.Errorf("store: key not found")
)

func GetJSON(ctx context.Context, s Store, key string, dest interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data), ttl)
}
