package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/lending-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

func seededStore(t *testing.T, seed string) *memstore.Store {
	t.Helper()
	s := memstore.New()
	if seed != "" {
		require.NoError(t, s.LoadSeed([]byte(seed)))
	}
	return s
}

// faultyStore wraps a RecordStore and fails selected calls.
type faultyStore struct {
	port.RecordStore

	failFilter  map[string]bool // by table
	failList    map[string]bool // by table
	failUpdate  map[string]bool // by record id
	dropUpdates bool
}

func (f *faultyStore) Filter(ctx context.Context, table string, match map[string]any, out any) error {
	if f.failFilter[table] {
		return errStoreDown
	}
	return f.RecordStore.Filter(ctx, table, match, out)
}

func (f *faultyStore) List(ctx context.Context, table, sortKey string, out any) error {
	if f.failList[table] {
		return errStoreDown
	}
	return f.RecordStore.List(ctx, table, sortKey, out)
}

func (f *faultyStore) Update(ctx context.Context, table, id string, patch map[string]any, out any) error {
	if f.failUpdate[id] {
		return errStoreDown
	}
	if f.dropUpdates {
		return nil
	}
	return f.RecordStore.Update(ctx, table, id, patch, out)
}

func newMetrics() *observability.Metrics { return observability.NewMetrics() }
