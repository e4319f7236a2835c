package llm

import (
	"context"
	"log/slog"
	"time"
)

// BatchStats reports how a queue run went
type BatchStats struct {
	Batches   int `json:"batches"`
	Succeeded int `json:"succeeded"`
	Fallbacks int `json:"fallbacks"`
}

// BatchQueue runs batches one at a time. Each batch gets its own timeout;
// a batch that fails or times out is answered by the fallback instead.
type BatchQueue[T, R any] struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewBatchQueue creates a queue with a per-batch timeout (0 means none)
func NewBatchQueue[T, R any](timeout time.Duration, logger *slog.Logger) *BatchQueue[T, R] {
	return &BatchQueue[T, R]{timeout: timeout, logger: logger}
}

// Run calls fn for every batch in order and concatenates the results.
// It stops early only when ctx itself is done.
func (q *BatchQueue[T, R]) Run(
	ctx context.Context,
	batches [][]T,
	fn func(ctx context.Context, batch []T) ([]R, error),
	fallback func(batch []T) []R,
) ([]R, BatchStats, error) {
	var (
		out   []R
		stats BatchStats
	)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}
		stats.Batches++

		results, err := q.runOne(ctx, batch, fn)
		if err != nil {
			if ctx.Err() != nil {
				return out, stats, ctx.Err()
			}
			q.logger.Warn("LLM batch failed, using fallback",
				"batch", i+1,
				"of", len(batches),
				"size", len(batch),
				"error", err.Error(),
			)
			stats.Fallbacks++
			out = append(out, fallback(batch)...)
			continue
		}
		stats.Succeeded++
		out = append(out, results...)
	}
	return out, stats, nil
}

func (q *BatchQueue[T, R]) runOne(ctx context.Context, batch []T, fn func(context.Context, []T) ([]R, error)) ([]R, error) {
	if q.timeout <= 0 {
		return fn(ctx, batch)
	}
	bctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return fn(bctx, batch)
}

// Chunk splits items into batches of at most size (size <= 0 means one batch)
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
