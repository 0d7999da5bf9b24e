// Package eval scores generated answers against expected keywords.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusNA   = "N/A"
)

// DefaultConcurrency is the number of questions answered at once.
const DefaultConcurrency = 4

// Fixture is one evaluation question.
type Fixture struct {
	Question         string   `json:"q"`
	Ticker           string   `json:"ticker,omitempty"`
	ExpectedKeywords []string `json:"expected_keywords,omitempty"`
}

// Score is the keyword check of a single answer.
type Score struct {
	Found  []string
	Missed []string
	Passed bool
}

// ScoreAnswer checks answer for every expected keyword, ignoring case. An empty
// expectation passes.
func ScoreAnswer(answer string, expected []string) Score {
	lower := strings.ToLower(answer)
	s := Score{Found: []string{}, Missed: []string{}}
	for _, kw := range expected {
		if strings.Contains(lower, strings.ToLower(kw)) {
			s.Found = append(s.Found, kw)
		} else {
			s.Missed = append(s.Missed, kw)
		}
	}
	s.Passed = len(s.Missed) == 0
	return s
}

type Asker interface {
	Answer(ctx context.Context, query string, k int, entityTag string) (models.Answer, error)
}

type Resolver interface {
	Resolve(query string) (string, bool)
}

type Options struct {
	K           int
	Concurrency int
	// Resolver fills in the ticker of fixtures that carry none. Optional.
	Resolver Resolver
}

type Result struct {
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	EntityTag      string   `json:"entity_tag,omitempty"`
	SourcesCount   int      `json:"sources_count"`
	Passed         bool     `json:"passed"`
	Status         string   `json:"status"`
	KeywordsFound  []string `json:"keywords_found"`
	KeywordsMissed []string `json:"keywords_missed"`
	Seconds        float64  `json:"time_sec"`
	Error          string   `json:"error,omitempty"`
}

type Report struct {
	Total     int      `json:"total"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	NotGraded int      `json:"not_graded"`
	Errors    int      `json:"errors"`
	PassRate  float64  `json:"pass_rate"`
	Results   []Result `json:"results"`
}

// Run answers every fixture and grades the answers. A failed question is
// recorded on its result; only cancellation of ctx aborts the run.
func Run(ctx context.Context, asker Asker, items []Fixture, opts Options) (Report, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = runOne(gctx, asker, item, opts)
			log.Info().
				Int("index", i+1).
				Int("total", len(items)).
				Str("status", results[i].Status).
				Float64("time_sec", results[i].Seconds).
				Msg("eval item done")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return summarize(results), nil
}

func runOne(ctx context.Context, asker Asker, item Fixture, opts Options) Result {
	tag := strings.TrimSpace(item.Ticker)
	if tag == "" && opts.Resolver != nil {
		tag, _ = opts.Resolver.Resolve(item.Question)
	}

	start := time.Now()
	ans, err := asker.Answer(ctx, item.Question, opts.K, tag)
	elapsed := time.Since(start)

	res := Result{
		Question:  item.Question,
		EntityTag: tag,
		Seconds:   float64(elapsed.Round(10*time.Millisecond)) / float64(time.Second),
	}
	if err != nil {
		log.Warn().Err(err).Str("question", item.Question).Msg("eval question failed")
		res.Error = err.Error()
	} else {
		res.Answer = ans.Text
		res.SourcesCount = ans.SourcesCount
		if ans.EntityTag != "" {
			res.EntityTag = ans.EntityTag
		}
	}

	score := ScoreAnswer(res.Answer, item.ExpectedKeywords)
	res.KeywordsFound, res.KeywordsMissed = score.Found, score.Missed
	res.Passed = score.Passed && err == nil
	switch {
	case len(item.ExpectedKeywords) == 0:
		res.Status = StatusNA
	case res.Passed:
		res.Status = StatusPass
	default:
		res.Status = StatusFail
	}
	return res
}

func summarize(results []Result) Report {
	r := Report{Total: len(results), Results: results}
	for _, res := range results {
		switch res.Status {
		case StatusPass:
			r.Passed++
		case StatusFail:
			r.Failed++
		default:
			r.NotGraded++
		}
		if res.Error != "" {
			r.Errors++
		}
	}
	if graded := r.Passed + r.Failed; graded > 0 {
		r.PassRate = float64(r.Passed) / float64(graded)
	}
	return r
}

// LoadFixtures reads a JSON array of fixtures.
func LoadFixtures(path string) ([]Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var items []Fixture
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("%w: parse fixtures %s: %w", models.ErrInvalidInput, path, err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.Question) == "" {
			return nil, fmt.Errorf("%w: fixture %d has no question", models.ErrInvalidInput, i)
		}
	}
	return items, nil
}

func WriteResults(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// LogReport writes the aggregate and one line per question to the global logger.
func LogReport(r Report) {
	log.Info().
		Int("total", r.Total).
		Int("passed", r.Passed).
		Int("failed", r.Failed).
		Int("not_graded", r.NotGraded).
		Int("errors", r.Errors).
		Float64("pass_rate", r.PassRate).
		Msg("eval report")

	for i, res := range r.Results {
		preview := res.Answer
		if rs := []rune(preview); len(rs) > 150 {
			preview = string(rs[:150])
		}
		log.Info().
			Int("index", i+1).
			Str("question", res.Question).
			Str("ticker", res.EntityTag).
			Int("sources", res.SourcesCount).
			Float64("time_sec", res.Seconds).
			Str("status", res.Status).
			Str("answer_preview", preview).
			Msg("eval result")
	}
}
