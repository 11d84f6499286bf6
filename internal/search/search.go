// Package search executes structured business searches against the index
// and shapes engine responses into results, facets and suggestions.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/query"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

const (
	kindSearch       = "search"
	kindAutocomplete = "autocomplete"
	kindSimilar      = "similar"

	maxSuggestions = 3
)

// Result is one matching document.
type Result struct {
	ID       string          `json:"id"`
	Score    *float64        `json:"score,omitempty"`
	Sort     []any           `json:"sort,omitempty"`
	Document json.RawMessage `json:"document"`
}

// Facet is one value of an aggregation with its document count.
type Facet struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Value string `json:"value"`
}

// Suggestion is a "did you mean" entry derived from the top results.
type Suggestion struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Response is the result set of one search.
type Response struct {
	Results      []Result           `json:"results"`
	Total        int64              `json:"total"`
	Skip         int                `json:"skip"`
	Take         int                `json:"take"`
	Aggregations map[string][]Facet `json:"aggregations"`
	Suggestions  []Suggestion       `json:"suggestions,omitempty"`
}

// Completion is one autocomplete option.
type Completion struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	ID    string  `json:"id,omitempty"`
}

// Config tunes the service.
type Config struct {
	Index             string
	Timeout           time.Duration
	AutocompleteLimit int
	SimilarLimit      int
}

// Service runs searches. The cache and metrics are optional.
type Service struct {
	engine  engine.Engine
	builder *query.Builder
	cache   *Cache
	prom    *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// NewService creates a Service. cache and prom may be nil.
func NewService(e engine.Engine, b *query.Builder, cache *Cache, prom *metrics.Metrics, cfg Config) *Service {
	if cfg.Index == "" {
		cfg.Index = schema.DefaultIndexName
	}
	return &Service{
		engine:  e,
		builder: b,
		cache:   cache,
		prom:    prom,
		cfg:     cfg,
		logger:  slog.Default().With("component", "search-service"),
	}
}

// Search runs req with facets, serving repeated requests from the cache.
func (s *Service) Search(ctx context.Context, req query.Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = s.builder.Normalize(req)
	var resp *Response
	err := s.observe(kindSearch, func() error {
		var err error
		resp, err = cached(ctx, s.cache, Key(kindSearch, req), func() (*Response, error) {
			raw, err := s.execute(ctx, kindSearch, s.builder.BuildAggregations(req))
			if err != nil {
				return nil, err
			}
			return format(raw, req), nil
		})
		return err
	})
	return resp, err
}

// Autocomplete returns name completions for prefix.
func (s *Service) Autocomplete(ctx context.Context, prefix string, limit int) ([]Completion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "prefix is required")
	}
	if limit <= 0 {
		limit = s.cfg.AutocompleteLimit
	}
	var out []Completion
	err := s.observe(kindAutocomplete, func() error {
		var err error
		out, err = cached(ctx, s.cache, Key(kindAutocomplete, []any{strings.ToLower(prefix), limit}), func() ([]Completion, error) {
			raw, err := s.execute(ctx, kindAutocomplete, s.builder.BuildAutocomplete(prefix, limit))
			if err != nil {
				return nil, err
			}
			options := raw.Suggestions[query.SuggestName]
			completions := make([]Completion, 0, len(options))
			for _, o := range options {
				completions = append(completions, Completion{Text: o.Text, Score: o.Score, ID: o.ID})
			}
			return completions, nil
		})
		return err
	})
	return out, err
}

// Similar returns documents resembling the indexed document id.
func (s *Service) Similar(ctx context.Context, id string, limit int) ([]Result, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "id is required")
	}
	if limit <= 0 {
		limit = s.cfg.SimilarLimit
	}
	var out []Result
	err := s.observe(kindSimilar, func() error {
		var err error
		out, err = cached(ctx, s.cache, Key(kindSimilar, []any{id, limit}), func() ([]Result, error) {
			raw, err := s.execute(ctx, kindSimilar, s.builder.BuildSimilar(s.cfg.Index, id, limit))
			if err != nil {
				return nil, err
			}
			return results(raw.Hits), nil
		})
		return err
	})
	return out, err
}

func (s *Service) execute(ctx context.Context, kind string, body query.DSL) (*engine.SearchResponse, error) {
	var raw *engine.SearchResponse
	err := resilience.WithTimeout(ctx, s.cfg.Timeout, kind, func(ctx context.Context) error {
		var err error
		raw, err = s.engine.Search(ctx, s.cfg.Index, body)
		return err
	})
	if err != nil {
		s.logger.Error("search failed", "kind", kind, "error", err)
		return nil, err
	}
	return raw, nil
}

func (s *Service) observe(kind string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.prom != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		s.prom.SearchQueriesTotal.WithLabelValues(kind, result).Inc()
		s.prom.SearchLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	return err
}

func format(raw *engine.SearchResponse, req query.Request) *Response {
	resp := &Response{
		Results:      results(raw.Hits),
		Total:        raw.Total,
		Skip:         req.Skip,
		Take:         req.Take,
		Aggregations: make(map[string][]Facet, len(raw.Aggregations)),
	}
	for name, buckets := range raw.Aggregations {
		facets := make([]Facet, 0, len(buckets))
		for _, b := range buckets {
			facets = append(facets, Facet{Name: b.Key, Count: b.DocCount, Value: b.Key})
		}
		resp.Aggregations[name] = facets
	}
	if req.Query != "" {
		resp.Suggestions = suggestions(raw.Hits)
	}
	return resp
}

func results(hits []engine.Hit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{ID: h.ID, Score: h.Score, Sort: h.Sort, Document: h.Source})
	}
	return out
}

// suggestions offers the names of the top hits.
func suggestions(hits []engine.Hit) []Suggestion {
	var out []Suggestion
	for _, h := range hits[:min(len(hits), maxSuggestions)] {
		var doc struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(h.Source, &doc); err != nil || doc.Name == "" {
			continue
		}
		score := 0.0
		if h.Score != nil {
			score = *h.Score
		}
		out = append(out, Suggestion{Text: doc.Name, Score: score})
	}
	return out
}
