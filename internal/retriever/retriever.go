// Package retriever implements semantic search: it encodes a query,
// runs a tenant-scoped cosine-distance search over catalog.Store,
// optionally reorders candidates with a second-pass reranker.Reranker,
// and optionally synthesizes an answer from the retrieved chunks via
// an LLM collaborator (tmc/langchaingo).
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/fyrsmithlabs/ragserver/internal/embeddings"
	"github.com/fyrsmithlabs/ragserver/internal/reranker"
)

// Result is one scored chunk returned to a caller (spec.md §4.I output).
type Result struct {
	ChunkID    string
	FileID     string
	Filename   string
	ChunkIndex int
	Text       string
	Similarity float64
}

// Generator is the optional `generate(prompt) -> text` LLM collaborator
// spec.md §9 describes; /query synthesizes an answer only when one is
// configured, leaving /query/search pure retrieval.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever answers semantic queries scoped to one tenant.
type Retriever struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	gen      Generator
	rerank   reranker.Reranker
}

// New constructs a Retriever. gen may be nil, in which case Answer
// returns only sources with no synthesized text.
func New(pool *pgxpool.Pool, embedder embeddings.Embedder, gen Generator) *Retriever {
	return &Retriever{pool: pool, embedder: embedder, gen: gen}
}

// WithReranker attaches an optional second-pass reranker. When set,
// Search runs it over the cosine-distance candidates before applying
// TopK, trading a wider initial candidate pool for term-overlap
// precision that embeddings alone miss (e.g. exact identifiers).
func (r *Retriever) WithReranker(rr reranker.Reranker) *Retriever {
	r.rerank = rr
	return r
}

// SearchParams bounds one retrieval call.
type SearchParams struct {
	TenantSlug        string
	QueryText         string
	TopK              int
	ConfidenceThreshold float64
}

// Search implements spec.md §4.I's algorithm: encode, cosine-distance
// query scoped to tenant_slug in the same statement, map distance to
// similarity, filter by threshold, and tie-break on (file_id,
// chunk_index).
func (r *Retriever) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	if p.TopK <= 0 {
		p.TopK = 8
	}

	q, err := r.embedder.EmbedQuery(ctx, p.QueryText)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	// When a reranker is attached, pull a wider candidate pool so the
	// term-overlap pass has room to reorder before truncating to TopK.
	limit := p.TopK
	if r.rerank != nil {
		limit *= 4
	}

	const stmt = `
SELECT c.id, c.file_id, f.filename, c.chunk_index, c.text, c.embedding <=> $2 AS distance
FROM chunks c
JOIN files f ON c.file_id = f.id
WHERE c.tenant_slug = $1
  AND f.sync_status = 'synced'
  AND f.deleted_at IS NULL
ORDER BY distance ASC, f.id ASC, c.chunk_index ASC
LIMIT $3`

	rows, err := r.pool.Query(ctx, stmt, p.TenantSlug, pgvector.NewVector(q), limit)
	if err != nil {
		return nil, fmt.Errorf("retriever: query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		var distance float64
		if err := rows.Scan(&res.ChunkID, &res.FileID, &res.Filename, &res.ChunkIndex, &res.Text, &distance); err != nil {
			return nil, fmt.Errorf("retriever: scan: %w", err)
		}
		res.Similarity = 1 - distance
		if res.Similarity < p.ConfidenceThreshold {
			continue
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retriever: rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].FileID != results[j].FileID {
			return results[i].FileID < results[j].FileID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if r.rerank == nil || len(results) == 0 {
		return results, nil
	}
	return r.applyRerank(ctx, p.QueryText, results, p.TopK)
}

// applyRerank converts candidates to reranker.Document, re-scores them
// by query term overlap, and maps the reordered set back to Result,
// preserving each result's original Similarity.
func (r *Retriever) applyRerank(ctx context.Context, query string, results []Result, topK int) ([]Result, error) {
	byID := make(map[string]Result, len(results))
	docs := make([]reranker.Document, len(results))
	for i, res := range results {
		byID[res.ChunkID] = res
		docs[i] = reranker.Document{ID: res.ChunkID, Content: res.Text, Score: float32(res.Similarity)}
	}

	scored, err := r.rerank.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, fmt.Errorf("retriever: rerank: %w", err)
	}

	reranked := make([]Result, 0, len(scored))
	for _, sd := range scored {
		reranked = append(reranked, byID[sd.ID])
	}
	return reranked, nil
}

// AnswerResult bundles a synthesized answer with its supporting sources.
type AnswerResult struct {
	Answer     string
	Sources    []Result
	Confidence float64
}

// Answer implements POST /query (spec.md §6): retrieve, then optionally
// synthesize a natural-language answer grounded in the retrieved chunks.
func (r *Retriever) Answer(ctx context.Context, p SearchParams) (AnswerResult, error) {
	sources, err := r.Search(ctx, p)
	if err != nil {
		return AnswerResult{}, err
	}

	var confidence float64
	if len(sources) > 0 {
		confidence = sources[0].Similarity
	}

	if r.gen == nil || len(sources) == 0 {
		return AnswerResult{Sources: sources, Confidence: confidence}, nil
	}

	prompt := buildPrompt(p.QueryText, sources)
	answer, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return AnswerResult{Sources: sources, Confidence: confidence}, fmt.Errorf("retriever: generate: %w", err)
	}
	return AnswerResult{Answer: answer, Sources: sources, Confidence: confidence}, nil
}

func buildPrompt(query string, sources []Result) string {
	prompt := "Answer the question using only the provided context.\n\nContext:\n"
	for _, s := range sources {
		prompt += "- " + s.Text + "\n"
	}
	prompt += "\nQuestion: " + query + "\nAnswer:"
	return prompt
}
