package ai

import (
	"context"
	"errors"
	"sync"
)

// Shared builds an Embedder on first use and hands the same instance to every
// caller for the life of the process. It is itself an Embedder, so it can be
// injected before the model is loaded.
type Shared struct {
	get func() (Embedder, error)
}

func NewShared(build func() (Embedder, error)) *Shared {
	return &Shared{get: sync.OnceValues(build)}
}

// Get returns the embedder, building it on the first call. A build failure is
// cached and returned to every later caller.
func (s *Shared) Get() (Embedder, error) {
	return s.get()
}

func (s *Shared) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := s.Get()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, texts)
}

func (s *Shared) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e, err := s.Get()
	if err != nil {
		return nil, err
	}
	return e.EmbedOne(ctx, text)
}

// Dim is 0 when the embedder failed to build.
func (s *Shared) Dim() int {
	e, err := s.Get()
	if err != nil {
		return 0
	}
	return e.Dim()
}

// ErrClosed is returned by a SerializedEmbedder after Close.
var ErrClosed = errors.New("embedder closed")

type embedJob struct {
	ctx   context.Context
	texts []string
	out   chan embedResult
}

type embedResult struct {
	vecs [][]float32
	err  error
}

// SerializedEmbedder funnels every call through one goroutine that owns the
// wrapped embedder. Use it for providers that are not safe for concurrent use.
type SerializedEmbedder struct {
	inner Embedder
	jobs  chan embedJob
	done  chan struct{}
	once  sync.Once
}

func Serialized(inner Embedder) *SerializedEmbedder {
	s := &SerializedEmbedder{
		inner: inner,
		jobs:  make(chan embedJob),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *SerializedEmbedder) loop() {
	for {
		select {
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				j.out <- embedResult{err: err}
				continue
			}
			v, err := s.inner.Embed(j.ctx, j.texts)
			j.out <- embedResult{vecs: v, err: err}
		case <-s.done:
			return
		}
	}
}

func (s *SerializedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	j := embedJob{ctx: ctx, texts: texts, out: make(chan embedResult, 1)}
	select {
	case s.jobs <- j:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := <-j.out
	return r.vecs, r.err
}

func (s *SerializedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return single(vs)
}

func (s *SerializedEmbedder) Dim() int { return s.inner.Dim() }

// Close stops the owner goroutine. Calls after Close fail with ErrClosed.
func (s *SerializedEmbedder) Close() {
	s.once.Do(func() { close(s.done) })
}
