package cache

import (
	"context"
	"time"

	"github.com/jengzang/fleet-records-go/internal/observability"
)

// Store is a byte cache with per-entry TTL. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ReadThrough returns the cached value for key, calling load and saving its
// result on a miss. Cache read and write failures fall through to load.
func ReadThrough(ctx context.Context, s Store, name, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	data, err := s.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheLookups.WithLabelValues(name, "error").Inc()
	case data != nil:
		observability.CacheLookups.WithLabelValues(name, "hit").Inc()
		return data, nil
	default:
		observability.CacheLookups.WithLabelValues(name, "miss").Inc()
	}

	data, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if data != nil {
		// a failed write only costs a reload next time
		_ = s.Set(ctx, key, data, ttl)
	}
	return data, nil
}

// Tiered checks a fast front store before a slower back store and fills the
// front on back hits
type Tiered struct {
	front    Store
	back     Store
	frontTTL time.Duration
}

// NewTiered creates a two level cache
func NewTiered(front, back Store, frontTTL time.Duration) *Tiered {
	return &Tiered{front: front, back: back, frontTTL: frontTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if data, err := t.front.Get(ctx, key); err == nil && data != nil {
		return data, nil
	}
	data, err := t.back.Get(ctx, key)
	if err != nil || data == nil {
		return data, err
	}
	_ = t.front.Set(ctx, key, data, t.frontTTL)
	return data, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	frontTTL := t.frontTTL
	if ttl > 0 && ttl < frontTTL {
		frontTTL = ttl
	}
	_ = t.front.Set(ctx, key, value, frontTTL)
	return t.back.Set(ctx, key, value, ttl)
}
