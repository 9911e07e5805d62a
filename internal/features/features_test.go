package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"acuity-passkit-bridge/internal/store"
)

func TestManager_InMemoryOnly(t *testing.T) {
	ctx := context.Background()
	m := NewDefaultManager(nil, nil, true)

	if !m.IsEnabled(ctx, FeatureWebhooksEnabled) {
		t.Fatal("Expected webhooks to default to enabled")
	}

	if err := m.Disable(ctx, FeatureWebhooksEnabled); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if m.IsEnabled(ctx, FeatureWebhooksEnabled) {
		t.Error("Expected webhooks to be disabled")
	}

	if m.IsEnabled(ctx, "unknown") {
		t.Error("Expected unknown flag to be disabled")
	}
	if err := m.Enable(ctx, "unknown"); err == nil {
		t.Error("Expected error for unknown flag")
	}
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	holder := store.NewStaticHolder(store.NewMemoryStore())

	first := NewDefaultManager(holder, nil, true)
	if err := first.Disable(ctx, FeatureWebhooksEnabled); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	second := NewDefaultManager(holder, nil, true)
	if second.IsEnabled(ctx, FeatureWebhooksEnabled) {
		t.Error("Expected persisted value to override the default")
	}

	all := second.GetAll(ctx)
	if flag := all[FeatureWebhooksEnabled]; flag == nil || flag.Enabled {
		t.Errorf("Expected GetAll to report persisted value, got %+v", flag)
	}
}

// readOnlyStore accepts reads but rejects every write.
type readOnlyStore struct {
	*store.MemoryStore
}

func (readOnlyStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("read-only replica")
}

func TestManager_FailedPersistRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	if err := NewDefaultManager(store.NewStaticHolder(mem), nil, true).Disable(ctx, FeatureWebhooksEnabled); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	m := NewDefaultManager(store.NewStaticHolder(readOnlyStore{mem}), nil, false)
	if m.IsEnabled(ctx, FeatureWebhooksEnabled) {
		t.Fatal("Expected persisted disabled value")
	}

	if err := m.Enable(ctx, FeatureWebhooksEnabled); err == nil {
		t.Fatal("Expected failed persist to be reported")
	}
	if m.IsEnabled(ctx, FeatureWebhooksEnabled) {
		t.Error("Expected flag to keep its saved value after a failed write")
	}
	if m.GetAll(ctx)[FeatureWebhooksEnabled].Enabled {
		t.Error("Expected GetAll to agree with IsEnabled")
	}
}
