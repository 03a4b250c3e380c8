// Package embed implements the Embedding Batcher (spec.md §4.F): it
// wraps an embeddings.Provider with adaptive batch sizing, bounded
// concurrency, and retry-with-halved-batch, grounded on the developer-mesh
// pack's pkg/embedding/service_v2.go (batch processing with a progress
// callback) and apps/worker/internal/worker/retry_handler.go (exponential
// backoff via cenkalti/backoff, generalized here from v4 to v5's
// generic Retry[T]).
package embed

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/ragserver/internal/embeddings"
)

// Config tunes the batcher's concurrency and retry policy.
type Config struct {
	// BatchMin and BatchMax bound the adaptively computed batch size
	// (spec.md §6's BATCH_MIN/BATCH_MAX).
	BatchMin int
	BatchMax int
	// MemoryBudgetBytes is the memory the batcher assumes it can spend
	// holding one in-flight batch's texts, used to scale batch size down
	// for long documents and up for short ones.
	MemoryBudgetBytes int64
	// MaxConcurrentBatches bounds how many batches are in flight at once
	// (spec.md §6's BATCH_CONCURRENCY).
	MaxConcurrentBatches int
	// MaxRetries is the number of attempts, with exponential backoff, made
	// at each batch size before a failing batch is split in half; halving
	// continues down to a single text.
	MaxRetries int
}

// DefaultConfig mirrors spec.md §6's BATCH_MIN/BATCH_MAX/BATCH_CONCURRENCY
// defaults. MemoryBudgetBytes assumes a CPU-hosted encoder with no
// accelerator to query for free memory; a GPU/accelerator deployment
// should raise it via config.
func DefaultConfig() Config {
	return Config{BatchMin: 4, BatchMax: 64, MemoryBudgetBytes: 8 << 20, MaxConcurrentBatches: 4, MaxRetries: 3}
}

// bytesPerTextEstimate approximates an encoder's working-memory cost per
// input text as a small multiple of the raw text length, covering
// tokenization and intermediate tensor overhead.
const bytesPerTextEstimate = 8

// adaptiveBatchSize computes a batch size from the average length of
// texts and the configured memory budget, clamped to [BatchMin,
// BatchMax] (spec.md §4.F).
func adaptiveBatchSize(texts []string, cfg Config) int {
	if len(texts) == 0 {
		return cfg.BatchMax
	}
	var totalLen int
	for _, t := range texts {
		totalLen += len(t)
	}
	avgLen := totalLen / len(texts)
	if avgLen < 1 {
		avgLen = 1
	}

	size := int(cfg.MemoryBudgetBytes / int64(avgLen*bytesPerTextEstimate))
	if size < cfg.BatchMin {
		size = cfg.BatchMin
	}
	if size > cfg.BatchMax {
		size = cfg.BatchMax
	}
	return size
}

// EmbeddingError reports a batch that failed after exhausting retries,
// naming the chunk-index range it covered so callers can mark just
// those chunks failed rather than the whole file (spec.md §4.F).
type EmbeddingError struct {
	StartIndex int
	EndIndex   int
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed: batch [%d,%d): %v", e.StartIndex, e.EndIndex, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Batcher drives an embeddings.Embedder over many texts, splitting them
// into concurrency-bounded batches and halving a batch's size on retry
// rather than failing the whole call (spec.md §4.F).
type Batcher struct {
	embedder embeddings.Embedder
	cfg      Config
}

// New constructs a Batcher over embedder using cfg.
func New(embedder embeddings.Embedder, cfg Config) *Batcher {
	d := DefaultConfig()
	if cfg.BatchMin <= 0 {
		cfg.BatchMin = d.BatchMin
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = d.BatchMax
	}
	if cfg.BatchMax < cfg.BatchMin {
		cfg.BatchMax = cfg.BatchMin
	}
	if cfg.MemoryBudgetBytes <= 0 {
		cfg.MemoryBudgetBytes = d.MemoryBudgetBytes
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = d.MaxConcurrentBatches
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	return &Batcher{embedder: embedder, cfg: cfg}
}

// EmbedAll embeds texts in order, returning one vector per input text.
// Batches run concurrently up to MaxConcurrentBatches; a batch that
// keeps failing is retried at half its size until it reaches a single
// text, at which point the failure is attributed to that one text via
// EmbeddingError.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	sem := semaphore.NewWeighted(int64(b.cfg.MaxConcurrentBatches))
	g, gctx := errgroup.WithContext(ctx)

	batchSize := adaptiveBatchSize(texts, b.cfg)
	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			vecs, err := b.embedBatchWithRetry(gctx, texts[start:end], start)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedBatchWithRetry embeds a single batch, halving it on failure
// until it succeeds or reaches a single text that still fails.
func (b *Batcher) embedBatchWithRetry(ctx context.Context, batch []string, startIndex int) ([][]float32, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	op := func() ([][]float32, error) {
		vecs, err := b.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return nil, err
		}
		return vecs, nil
	}

	vecs, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(b.cfg.MaxRetries)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err == nil {
		return vecs, nil
	}

	if len(batch) == 1 {
		return nil, &EmbeddingError{StartIndex: startIndex, EndIndex: startIndex + 1, Err: err}
	}

	mid := len(batch) / 2
	left, lerr := b.embedBatchWithRetry(ctx, batch[:mid], startIndex)
	if lerr != nil {
		return nil, lerr
	}
	right, rerr := b.embedBatchWithRetry(ctx, batch[mid:], startIndex+mid)
	if rerr != nil {
		return nil, rerr
	}
	return append(left, right...), nil
}
