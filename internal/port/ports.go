// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"
)

// RecordStore is the managed backend's generic record API. Results are
// decoded into out, which must be a pointer (to a struct for Get/Create/
// Update, to a slice for Filter/List).
//
// Get returns *domain.ErrNotFound when the id does not exist. Filter and
// List yield an empty slice, never nil, when nothing matches.
type RecordStore interface {
	Get(ctx context.Context, table, id string, out any) error
	Filter(ctx context.Context, table string, match map[string]any, out any) error
	List(ctx context.Context, table, sortKey string, out any) error
	Create(ctx context.Context, table string, data map[string]any, out any) error
	Update(ctx context.Context, table, id string, patch map[string]any, out any) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// EventPublisher hands domain events to the external notifier. Publishing
// is best-effort; callers log and continue on error.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Locker serializes work on a key across BFA instances.
type Locker interface {
	// Acquire returns a release func, or *domain.ErrLocked when the key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Pinger is implemented by dependencies that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
