package analysis

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestSplitRange(t *testing.T) {
	chunks := SplitRange(base, base.Add(7*24*time.Hour), 72*time.Hour)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(base) || !chunks[1].Start.Equal(chunks[0].End) {
		t.Errorf("chunks must be contiguous: %+v", chunks)
	}
	if !chunks[2].End.Equal(base.Add(7 * 24 * time.Hour)) {
		t.Errorf("last chunk must be clipped to the range end, got %s", chunks[2].End)
	}

	if got := SplitRange(base, base, time.Hour); got != nil {
		t.Errorf("empty range must give no chunks, got %+v", got)
	}
}

func TestProcessChunksOrderPerKey(t *testing.T) {
	a := NewIncrementalAnalyzer(nil, "test", ChunkConfig{Size: time.Hour, Concurrency: 3})

	var mu sync.Mutex
	seen := make(map[string][]time.Time)

	stats, err := a.ProcessChunks(context.Background(), 0, []string{"a", "b", "c", "d"}, base, base.Add(4*time.Hour),
		func(ctx context.Context, key string, chunk TimeChunk) error {
			mu.Lock()
			seen[key] = append(seen[key], chunk.Start)
			mu.Unlock()
			if key == "c" && chunk.Start.Equal(base.Add(time.Hour)) {
				return errors.New("boom")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ProcessChunks() error = %v", err)
	}

	if stats.Total != 16 || stats.Processed != 16 || stats.Failed != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	for key, starts := range seen {
		want := 4
		if key == "c" {
			want = 2
		}
		if len(starts) != want {
			t.Errorf("key %s: expected %d chunks, got %d", key, want, len(starts))
		}
		for i := 1; i < len(starts); i++ {
			if !starts[i].After(starts[i-1]) {
				t.Errorf("key %s: chunks out of order %v", key, starts)
			}
		}
	}
}

func TestProcessChunksCanceled(t *testing.T) {
	a := NewIncrementalAnalyzer(nil, "test", ChunkConfig{Size: time.Hour, Delay: time.Hour, Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := a.ProcessChunks(ctx, 0, []string{"a"}, base, base.Add(3*time.Hour),
		func(ctx context.Context, key string, chunk TimeChunk) error {
			calls++
			cancel()
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the delay to be interrupted after 1 chunk, got %d calls", calls)
	}
}

func TestRegistry(t *testing.T) {
	RegisterAnalyzer("noop", func(db *sql.DB) Analyzer { return nil })
	if !IsRegistered("noop") {
		t.Error("expected noop to be registered")
	}
	if GetAnalyzer("missing", nil) != nil {
		t.Error("unknown skills must return nil")
	}
}
