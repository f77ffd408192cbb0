package analysis

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"
)

// ChunkConfig controls chunked processing of a time range
type ChunkConfig struct {
	Size        time.Duration // length of one chunk
	Delay       time.Duration // pause between chunks of the same key
	Concurrency int           // keys processed in parallel
}

// DefaultChunkConfig returns 3-day chunks, one second apart, four keys at a time
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:        72 * time.Hour,
		Delay:       time.Second,
		Concurrency: 4,
	}
}

// TimeChunk is the half-open interval [Start, End)
type TimeChunk struct {
	Start time.Time
	End   time.Time
}

// SplitRange cuts [start, end) into consecutive chunks of at most size
func SplitRange(start, end time.Time, size time.Duration) []TimeChunk {
	if !end.After(start) {
		return nil
	}
	if size <= 0 {
		return []TimeChunk{{Start: start, End: end}}
	}

	var chunks []TimeChunk
	for cur := start; cur.Before(end); cur = cur.Add(size) {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, TimeChunk{Start: cur, End: next})
	}
	return chunks
}

// ChunkStats summarizes a chunked run
type ChunkStats struct {
	Keys      int `json:"keys"`
	Total     int `json:"total_chunks"`
	Processed int `json:"processed_chunks"`
	Failed    int `json:"failed_chunks"`
}

// ChunkFunc processes one chunk of one key. Chunks of a key are delivered
// sequentially in time order.
type ChunkFunc func(ctx context.Context, key string, chunk TimeChunk) error

// IncrementalAnalyzer provides chunked, resumable processing with progress
// tracking in analysis_tasks
type IncrementalAnalyzer struct {
	*BaseAnalyzer
	Chunks ChunkConfig
}

// NewIncrementalAnalyzer creates a new incremental analyzer
func NewIncrementalAnalyzer(db *sql.DB, name string, chunks ChunkConfig) *IncrementalAnalyzer {
	defaults := DefaultChunkConfig()
	if chunks.Size <= 0 {
		chunks.Size = defaults.Size
	}
	if chunks.Delay < 0 {
		chunks.Delay = 0
	}
	if chunks.Concurrency <= 0 {
		chunks.Concurrency = 1
	}

	return &IncrementalAnalyzer{
		BaseAnalyzer: NewBaseAnalyzer(db, name),
		Chunks:       chunks,
	}
}

// ProcessChunks runs fn over every chunk of [start, end) for every key.
// Chunks of one key run in order with Delay between them; keys fan out over
// Concurrency workers. A failed chunk stops its key: later chunks of that key
// are skipped and counted as failed, since they depend on the failed one.
// Task progress is updated after each chunk when taskID is positive.
func (a *IncrementalAnalyzer) ProcessChunks(ctx context.Context, taskID int64, keys []string, start, end time.Time, fn ChunkFunc) (ChunkStats, error) {
	chunks := SplitRange(start, end, a.Chunks.Size)
	stats := ChunkStats{Keys: len(keys), Total: len(keys) * len(chunks)}

	if taskID > 0 {
		if err := a.UpdateTaskProgress(taskID, 0, stats.Total, 0); err != nil {
			return stats, err
		}
	}
	if stats.Total == 0 {
		return stats, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, a.Chunks.Concurrency)
	)

	record := func(n int, failed bool) {
		mu.Lock()
		stats.Processed += n
		if failed {
			stats.Failed += n
		}
		processed, failedCount := stats.Processed, stats.Failed
		mu.Unlock()

		if taskID > 0 {
			if err := a.UpdateTaskProgress(taskID, processed, stats.Total, failedCount); err != nil {
				log.Printf("[%s] Failed to update progress for task %d: %v", a.Name, taskID, err)
			}
		}
	}

	for _, key := range keys {
		select {
		case <-ctx.Done():
			wg.Wait()
			return stats, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			for i, chunk := range chunks {
				if i > 0 && a.Chunks.Delay > 0 {
					timer := time.NewTimer(a.Chunks.Delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return
					case <-timer.C:
					}
				}
				if ctx.Err() != nil {
					return
				}

				if err := fn(ctx, key, chunk); err != nil {
					skipped := len(chunks) - i - 1
					log.Printf("[%s] Chunk %s..%s of %s failed, skipping %d later chunks: %v", a.Name,
						chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339), key, skipped, err)
					record(1+skipped, true)
					return
				}
				record(1, false)
			}
		}(key)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}
