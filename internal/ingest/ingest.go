package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/internal/ai"
	"github.com/seanblong/filingrag/internal/chunker"
	"github.com/seanblong/filingrag/internal/metrics"
	"github.com/seanblong/filingrag/internal/resilience"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
)

// Mode selects what happens to a source's existing records on re-ingest.
type Mode string

const (
	// ModeReplace swaps a source's records atomically.
	ModeReplace Mode = "replace"
	// ModeAppend adds records without touching existing ones.
	ModeAppend Mode = "append"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReplace, "":
		return ModeReplace, nil
	case ModeAppend:
		return ModeAppend, nil
	}
	return "", fmt.Errorf("%w: unknown ingest mode %q", models.ErrConfiguration, s)
}

const (
	// FilingName is the file a filing tree holds per accession.
	FilingName = "full-submission.txt"
	filingForm = "10-K"

	DefaultBatchSize = 64
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Service chunks documents, embeds the chunks and writes them to the store.
type Service struct {
	Store    store.VectorStore
	Embedder ai.Embedder
	Chunker  *chunker.Chunker
	// Policy guards both the embedding and store calls.
	Policy resilience.Policy
	// StoreRetryable classifies store errors. Nil means store.IsTransient.
	StoreRetryable func(error) bool
	Mode           Mode
	BatchSize      int
	Workers        int
	Metrics        *metrics.Metrics

	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates a new Service with the default filesystem access.
func New(st store.VectorStore, embedder ai.Embedder, ch *chunker.Chunker, policy resilience.Policy) *Service {
	return &Service{
		Store:      st,
		Embedder:   embedder,
		Chunker:    ch,
		Policy:     policy,
		Mode:       ModeReplace,
		BatchSize:  DefaultBatchSize,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// Ingest stores doc and returns the number of chunks written. Chunks that
// decode to whitespace only are skipped.
func (s *Service) Ingest(ctx context.Context, doc models.Document) (int, error) {
	var chunks []models.Chunk
	pos := 0
	for text := range s.Chunker.Chunks(doc.Text) {
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Text: text, EntityTag: doc.EntityTag, SourceID: doc.SourceID, Position: pos})
		pos++
	}
	if len(chunks) == 0 && s.Mode == ModeAppend {
		return 0, nil
	}

	records := make([]models.Record, 0, len(chunks))
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for i := 0; i < len(chunks); i += batch {
		end := min(i+batch, len(chunks))
		texts := make([]string, end-i)
		for j, c := range chunks[i:end] {
			texts[j] = c.Text
		}
		vecs, err := resilience.Do(ctx, s.Policy.With(ai.IsTransient), func(ctx context.Context) ([][]float32, error) {
			return s.Embedder.Embed(ctx, texts)
		})
		if err != nil {
			return 0, fmt.Errorf("embed chunks %d-%d of %s: %w", i, end, doc.SourceID, err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embed chunks %d-%d of %s: got %d vectors", i, end, doc.SourceID, len(vecs))
		}
		for j, c := range chunks[i:end] {
			// Ids are fixed before the store call so a retried write overwrites
			// the objects of a partially applied attempt.
			records = append(records, models.Record{
				ID:        uuid.NewString(),
				Content:   c.Text,
				Embedding: vecs[j],
				EntityTag: c.EntityTag,
				SourceID:  c.SourceID,
				Position:  c.Position,
			})
		}
	}

	retryable := s.StoreRetryable
	if retryable == nil {
		retryable = store.IsTransient
	}
	n, err := resilience.Do(ctx, s.Policy.With(retryable), func(ctx context.Context) (int, error) {
		if s.Mode == ModeAppend {
			return s.Store.Write(ctx, records)
		}
		return s.Store.ReplaceSource(ctx, doc.SourceID, records)
	})
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", doc.SourceID, err)
	}

	s.Metrics.AddChunks(n)
	log.Info().Str("entity_tag", doc.EntityTag).Str("source", doc.SourceID).
		Int("chunks", n).Str("mode", string(s.Mode)).Msg("ingested document")
	return n, nil
}

// FilingTicker reports whether path is <root>/<TICKER>/10-K/<accession>/full-submission.txt
// and returns the ticker.
func FilingTicker(root, path string) (string, bool) {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(r), "/")
	if len(parts) != 4 || parts[1] != filingForm || parts[3] != FilingName {
		return "", false
	}
	if parts[0] == "" || parts[0] == ".." || parts[2] == "" {
		return "", false
	}
	return strings.ToUpper(parts[0]), true
}

// Summary reports the outcome of Run.
type Summary struct {
	Files  int
	Chunks int
	Failed int
}

// workItem represents a filing to be processed
type workItem struct {
	path   string
	ticker string
}

// Run ingests every filing under root with a pool of workers. A failed filing
// is logged and counted; the first such error is returned after the walk.
func (s *Service) Run(ctx context.Context, root string) (Summary, error) {
	numWorkers := s.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 4 {
			numWorkers = 4 // embedding providers throttle well before this
		}
	}

	log.Info().Int("workers", numWorkers).Str("root", root).Msg("starting concurrent ingestion")

	workChan := make(chan workItem, numWorkers*2)
	var files, chunks, failed atomic.Int64
	var firstErr error
	var errOnce sync.Once

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				n, err := s.ingestFile(ctx, item)
				if err != nil {
					failed.Add(1)
					errOnce.Do(func() { firstErr = err })
					log.Error().Err(err).Str("path", item.path).Msg("ingest failed")
					continue
				}
				files.Add(1)
				chunks.Add(int64(n))
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := s.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when driven by a test walker
			if de != nil && de.IsDir() {
				return nil
			}
			ticker, ok := FilingTicker(root, path)
			if !ok {
				return nil
			}
			select {
			case workChan <- workItem{path: path, ticker: ticker}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	sum := Summary{Files: int(files.Load()), Chunks: int(chunks.Load()), Failed: int(failed.Load())}
	log.Info().Int("files", sum.Files).Int("chunks", sum.Chunks).Int("failed", sum.Failed).Msg("ingestion complete")

	if walkErr != nil {
		return sum, walkErr
	}
	if sum.Files == 0 && sum.Failed == 0 {
		log.Warn().Str("root", root).Msg("no filings found, expected <root>/<TICKER>/10-K/<accession>/" + FilingName)
	}
	return sum, firstErr
}

func (s *Service) ingestFile(ctx context.Context, item workItem) (int, error) {
	b, err := s.FileReader.ReadFile(item.path)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, errors.New("empty filing")
	}
	return s.Ingest(ctx, models.Document{
		Text:      string(b),
		EntityTag: item.ticker,
		SourceID:  item.path,
	})
}
