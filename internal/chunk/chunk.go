// Package chunk splits extracted text into overlapping token-windows
// with stable indices, bounded by a token budget rather than a raw
// byte/character limit. Sentence boundaries come from
// clipperhouse/uax29/v2; token counting and windowing from
// pkoukk/tiktoken-go, so a "token" here is always an actual encoder
// token, not a word.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/clipperhouse/uax29/v2/sentences"
	"github.com/pkoukk/tiktoken-go"
)

// Config is the chunker's tunable policy (spec.md §6: CHUNK_SIZE,
// CHUNK_OVERLAP).
type Config struct {
	WindowTokens  int    // W, default 512
	OverlapTokens int    // O, default 50, must be < WindowTokens
	Encoding      string // tiktoken encoding name, default "cl100k_base"
}

// DefaultConfig returns spec.md §4.E's stated defaults.
func DefaultConfig() Config {
	return Config{WindowTokens: 512, OverlapTokens: 50, Encoding: "cl100k_base"}
}

// Chunk is one ordered, overlapping window of a file's text.
type Chunk struct {
	Text       string
	ChunkIndex int
	TokenCount int
	TextHash   string
}

// Chunker holds the loaded tiktoken encoding so repeated Chunk calls don't
// reload it.
type Chunker struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

// New validates cfg and loads its tiktoken encoding.
func New(cfg Config) (*Chunker, error) {
	if cfg.WindowTokens <= 0 {
		return nil, fmt.Errorf("chunk: window_tokens must be positive")
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.WindowTokens {
		return nil, fmt.Errorf("chunk: overlap_tokens must be in [0, window_tokens)")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("chunk: load encoding %q: %w", cfg.Encoding, err)
	}
	return &Chunker{cfg: cfg, enc: enc}, nil
}

// Chunk splits text into ordered chunks. Empty input yields an empty
// slice (spec.md §4.E).
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sents := splitSentences(text)
	if len(sents) > 1 {
		return c.packSentences(sents)
	}
	return c.wordWindow(text)
}

// packSentences greedily packs sentences until the next sentence would
// exceed the window, then begins the next chunk with the trailing
// overlap-token suffix of the previous chunk plus subsequent sentences
// (spec.md §4.E's preferred policy).
func (c *Chunker) packSentences(sents []string) []Chunk {
	var chunks []Chunk
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.Join(cur, " ")
		chunks = append(chunks, c.newChunk(text, len(chunks)))
	}

	for _, s := range sents {
		n := c.count(s)
		if curTokens > 0 && curTokens+n > c.cfg.WindowTokens {
			flush()
			cur = []string{c.overlapSuffix(strings.Join(cur, " ")), s}
			curTokens = c.count(cur[0]) + n
			continue
		}
		cur = append(cur, s)
		curTokens += n
	}
	flush()
	return chunks
}

// wordWindow is the fallback policy when sentence segmentation yields
// nothing useful: a token-id stride window, stride = W - O, guaranteed
// to make forward progress since O < W is enforced in New.
func (c *Chunker) wordWindow(text string) []Chunk {
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) == 0 {
		return nil
	}

	stride := c.cfg.WindowTokens - c.cfg.OverlapTokens
	var chunks []Chunk
	for start := 0; start < len(ids); {
		end := start + c.cfg.WindowTokens
		if end > len(ids) {
			end = len(ids)
		}
		windowText := c.enc.Decode(ids[start:end])
		chunks = append(chunks, c.newChunk(windowText, len(chunks)))
		if end >= len(ids) {
			break
		}
		start += stride
	}
	return chunks
}

func (c *Chunker) newChunk(text string, index int) Chunk {
	sum := sha256.Sum256([]byte(text))
	return Chunk{
		Text:       text,
		ChunkIndex: index,
		TokenCount: c.count(text),
		TextHash:   hex.EncodeToString(sum[:]),
	}
}

func (c *Chunker) count(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// overlapSuffix returns the trailing OverlapTokens-token suffix of text.
func (c *Chunker) overlapSuffix(text string) string {
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= c.cfg.OverlapTokens {
		return text
	}
	return c.enc.Decode(ids[len(ids)-c.cfg.OverlapTokens:])
}

func splitSentences(text string) []string {
	var out []string
	tokens := sentences.FromString(text)
	for tokens.Next() {
		s := strings.TrimSpace(tokens.Value())
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
