// Package server exposes the question-answering pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/filingrag/internal/auth"
	"github.com/seanblong/filingrag/internal/health"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
)

type Asker interface {
	Answer(ctx context.Context, query string, k int, entityTag string) (models.Answer, error)
}

type HealthChecker interface {
	Run(ctx context.Context) health.Report
}

type Server struct {
	Asker  Asker
	Health HealthChecker
	// Tags backs /tickers when the store can list entity tags. Optional.
	Tags     store.TagLister
	DefaultK int
	// AskTimeout bounds one /ask request. Zero leaves only the client's deadline.
	AskTimeout time.Duration
	Gatherer   prometheus.Gatherer
}

// AskResponse is the /ask payload.
type AskResponse struct {
	Answer           string          `json:"answer"`
	Sources          []models.Source `json:"sources"`
	SourcesCount     int             `json:"sources_count"`
	TickerFilter     *string         `json:"ticker_filter"`
	Citations        []int           `json:"citations"`
	InvalidCitations []int           `json:"invalid_citations,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Dependency string `json:"dependency,omitempty"`
}

// Handler returns the routed API wrapped in request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": auth.IsAuthEnabled()})
	})
	mux.HandleFunc("/ask", auth.OptionalAuthMiddleware(s.handleAsk))
	if s.Tags != nil {
		mux.HandleFunc("/tickers", auth.OptionalAuthMiddleware(s.handleTickers))
	}

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("dur", dur).
				Msg("http")
		})(mux),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.Health.Run(r.Context())
	status := http.StatusOK
	if !rep.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep.Fields())
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing query parameter q"})
		return
	}

	k := s.DefaultK
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			k = max(n, store.MinK)
		}
	}
	k = store.ClampK(k)
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))

	ctx := r.Context()
	if s.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AskTimeout)
		defer cancel()
	}

	ans, err := s.Asker.Answer(ctx, q, k, ticker)
	if err != nil {
		status, body := classify(err)
		hlog.FromRequest(r).Error().Err(err).Str("q", q).Int("status", status).Msg("ask failed")
		writeJSON(w, status, body)
		return
	}

	resp := AskResponse{
		Answer:           ans.Text,
		Sources:          ans.Sources,
		SourcesCount:     ans.SourcesCount,
		Citations:        ans.Citations,
		InvalidCitations: ans.InvalidCitations,
	}
	if resp.Sources == nil {
		resp.Sources = []models.Source{}
	}
	if resp.Citations == nil {
		resp.Citations = []int{}
	}
	if ans.EntityTag != "" {
		tag := ans.EntityTag
		resp.TickerFilter = &tag
	}
	writeJSON(w, http.StatusOK, resp)

	hlog.FromRequest(r).Info().
		Str("path", "/ask").
		Str("q", q).
		Int("k", k).
		Str("ticker", ans.EntityTag).
		Int("sources", ans.SourcesCount).
		Dur("dur", time.Since(start)).
		Msg("served")
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tags, err := s.Tags.EntityTags(ctx)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list tickers")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list tickers"})
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// classify maps pipeline errors onto HTTP status codes.
func classify(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, models.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "retrieval unavailable", Dependency: "retrieval"}
	case errors.Is(err, models.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "generation unavailable", Dependency: "generation"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "request timed out"}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
