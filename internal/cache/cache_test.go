package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestMemory(max int) (*MemoryCache, *time.Time) {
	now := base
	c := NewMemoryCache(max)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, now := newTestMemory(10)

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := c.Get(ctx, "k"); string(got) != "v" {
		t.Fatalf("expected hit, got %q", got)
	}

	*now = base.Add(time.Minute)
	if got, _ := c.Get(ctx, "k"); got != nil {
		t.Fatalf("expected expiry at the TTL, got %q", got)
	}
}

func TestMemoryCacheBounded(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemory(2)

	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	c.Set(ctx, "c", []byte("3"), 0)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if got, _ := c.Get(ctx, "c"); string(got) != "3" {
		t.Errorf("newest entry must be kept")
	}
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemory(10)

	calls := 0
	load := func(context.Context) ([]byte, error) {
		calls++
		return []byte("loaded"), nil
	}

	for i := 0; i < 3; i++ {
		got, err := ReadThrough(ctx, c, "test", "key", time.Hour, load)
		if err != nil || string(got) != "loaded" {
			t.Fatalf("ReadThrough() = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single load, got %d", calls)
	}
}

func TestReadThroughLoadError(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemory(10)

	_, err := ReadThrough(ctx, c, "test", "key", time.Hour, func(context.Context) ([]byte, error) {
		return nil, errors.New("upstream down")
	})
	if err == nil {
		t.Fatalf("expected the load error")
	}
	if got, _ := c.Get(ctx, "key"); got != nil {
		t.Errorf("failed loads must not be cached")
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestReadThroughSurvivesStoreFailure(t *testing.T) {
	got, err := ReadThrough(context.Background(), failingStore{}, "test", "key", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil || string(got) != "fresh" {
		t.Fatalf("expected a fall-through load, got %q, %v", got, err)
	}
}

func TestTieredFillsFront(t *testing.T) {
	ctx := context.Background()
	front, _ := newTestMemory(10)
	back, _ := newTestMemory(10)
	tiered := NewTiered(front, back, time.Minute)

	back.Set(ctx, "k", []byte("v"), time.Hour)
	if got, _ := tiered.Get(ctx, "k"); string(got) != "v" {
		t.Fatalf("expected back hit, got %q", got)
	}
	if got, _ := front.Get(ctx, "k"); string(got) != "v" {
		t.Errorf("front must be filled on a back hit")
	}
}
