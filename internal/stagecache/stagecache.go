// Package stagecache holds short-lived per-stage results (classification,
// retrieval) so interrupted or repeated work can skip recomputation. Losing
// an entry only costs re-work; every read error is treated as a miss.
package stagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Key builds a namespaced cache key. The parts are hashed so arbitrary row
// text is safe to use.
func Key(stage string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "boq:" + stage + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// GetJSON reads and decodes a cached value. Errors are logged and reported
// as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		zap.L().Warn("stagecache: get failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("stagecache: decode failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

// SetJSON encodes and stores a value. Failures are logged and ignored.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("stagecache: encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		zap.L().Warn("stagecache: set failed", zap.String("key", key), zap.Error(err))
	}
}

// Stage returns the stage segment of a key built by Key.
func Stage(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// Nop never stores anything.
type Nop struct{}

// Get implements Cache.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set implements Cache.
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
