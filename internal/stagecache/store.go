package stagecache

import (
	"context"
	"time"
)

// Backend persists stage entries with an absolute expiry.
type Backend interface {
	GetStage(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	PutStage(ctx context.Context, key, stage string, val []byte, expiresAt time.Time) error
}

// StoreBacked keeps stage entries in the durable store. It is the default
// when no Redis is configured, so a restarted batch can reuse them.
type StoreBacked struct {
	backend Backend
	nowFunc func() time.Time
}

// Ensure StoreBacked implements Cache.
var _ Cache = (*StoreBacked)(nil)

// NewStoreBacked wraps a store backend.
func NewStoreBacked(b Backend) *StoreBacked {
	return &StoreBacked{backend: b, nowFunc: time.Now}
}

// Get implements Cache. Expired entries are misses.
func (s *StoreBacked) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.backend.GetStage(ctx, key, s.nowFunc().UTC())
}

// Set implements Cache. A non-positive ttl stores the entry for a day.
func (s *StoreBacked) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.backend.PutStage(ctx, key, Stage(key), val, s.nowFunc().UTC().Add(ttl))
}
