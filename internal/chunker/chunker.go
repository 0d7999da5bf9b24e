package chunker

import (
	"fmt"
	"iter"

	"github.com/seanblong/filingrag/pkg/models"
)

// Chunker splits text into overlapping, token-bounded windows.
type Chunker struct {
	tok     Tokenizer
	window  int
	overlap int
}

// Span is a half-open token index range [Start, End).
type Span struct {
	Start, End int
}

// New validates the window settings. overlap must satisfy 0 <= overlap < window.
func New(tok Tokenizer, window, overlap int) (*Chunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", models.ErrConfiguration)
	}
	if window <= 0 || overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("%w: chunk window %d with overlap %d (need 0 <= overlap < window)",
			models.ErrConfiguration, window, overlap)
	}
	return &Chunker{tok: tok, window: window, overlap: overlap}, nil
}

func (c *Chunker) Window() int  { return c.window }
func (c *Chunker) Overlap() int { return c.overlap }
func (c *Chunker) Stride() int  { return c.window - c.overlap }

// Tokenizer returns the tokenizer bounding the windows.
func (c *Chunker) Tokenizer() Tokenizer { return c.tok }

// Spans yields the windows over a sequence of n tokens. The last window is
// clipped to n and iteration stops once a window reaches the end.
func (c *Chunker) Spans(n int) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if n <= 0 {
			return
		}
		stride := c.Stride()
		for start := 0; ; start += stride {
			end := min(start+c.window, n)
			if !yield(Span{Start: start, End: end}) {
				return
			}
			if end == n {
				return
			}
		}
	}
}

// Chunks lazily yields the decoded text of each window. The sequence can be
// ranged over more than once; each pass re-tokenizes text.
func (c *Chunker) Chunks(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		tokens := c.tok.Encode(text)
		for sp := range c.Spans(len(tokens)) {
			if !yield(c.tok.Decode(tokens[sp.Start:sp.End])) {
				return
			}
		}
	}
}

// Split is the eager form of Chunks.
func (c *Chunker) Split(text string) []string {
	var out []string
	for s := range c.Chunks(text) {
		out = append(out, s)
	}
	return out
}

func (c *Chunker) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tok.Encode(text))
}

// ExpectedCount is the number of windows produced for n tokens.
func (c *Chunker) ExpectedCount(n int) int {
	switch {
	case n <= 0:
		return 0
	case n <= c.window:
		return 1
	}
	s := c.Stride()
	return (n - c.overlap + s - 1) / s
}
