// Package search turns a completed session into a backend search and attaches
// a summary to the fixed result rows.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"helpbot/internal/domain"
	"helpbot/internal/metrics"
)

// ErrIncompleteFilter is returned when a session lacks a slot the search needs.
var ErrIncompleteFilter = errors.New("incomplete search filter")

// Apology is shown when no summary could be produced.
const Apology = "Özet şu anda oluşturulamadı. Sonuçlar aşağıda listelenmiştir."

const (
	DefaultLimit        = 40
	DefaultMaxCtx       = 20
	DefaultFallbackRows = 20
)

type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Backend is the subset of the registry client used for searching.
type Backend interface {
	Search(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.ResultRow, error)
	Answer(ctx context.Context, filter domain.SearchFilter, qText string, maxCtx int) (string, error)
}

// Summarizer produces a fallback digest summary.
type Summarizer interface {
	Summarize(ctx context.Context, question string, rows []domain.ResultRow) (string, error)
}

type Config struct {
	Limit           int
	SummaryMaxCtx   int
	FallbackEnabled bool
	FallbackRows    int
}

// Request is a filter plus its natural-language restatement.
type Request struct {
	Filter   domain.SearchFilter `json:"filter"`
	Question string              `json:"question"`
}

type Summary struct {
	Text     string `json:"text,omitempty"`
	Source   Source `json:"source" enum:"primary,fallback,none"`
	Advisory string `json:"advisory,omitempty"`
}

type Result struct {
	Request Request            `json:"request"`
	Rows    []domain.ResultRow `json:"rows"`
	Summary Summary            `json:"summary"`
}

// BuildRequest derives the filter from a session snapshot. Dates and city are
// always required, the company only when companyRequired is set.
func BuildRequest(st domain.SessionState, companyRequired bool) (Request, error) {
	if st.DateFrom == "" || st.DateTo == "" {
		return Request{}, fmt.Errorf("%w: date range missing", ErrIncompleteFilter)
	}
	if st.City == nil {
		return Request{}, fmt.Errorf("%w: city missing", ErrIncompleteFilter)
	}
	if companyRequired && st.Company == nil {
		return Request{}, fmt.Errorf("%w: company missing", ErrIncompleteFilter)
	}
	filter := domain.SearchFilter{DateFrom: st.DateFrom, DateTo: st.DateTo}
	cityCode := st.City.Code
	filter.CityCode = &cityCode

	parts := []string{fmt.Sprintf("%s ile %s arasında", st.DateFrom, st.DateTo)}
	if st.Company != nil {
		code := st.Company.Code
		filter.CompanyCode = &code
		parts = append(parts, fmt.Sprintf("%s şirketinin", st.Company.Label))
	}
	parts = append(parts, fmt.Sprintf("%s müdürlüğünde yayımlanan", st.City.Label))
	if st.Category != nil {
		code := st.Category.Code
		filter.TypeCode = &code
		parts = append(parts, fmt.Sprintf("%q türündeki", st.Category.Label))
	}
	parts = append(parts, "ilanlar")
	return Request{Filter: filter, Question: strings.Join(parts, " ")}, nil
}

type Orchestrator struct {
	backend    Backend
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

// New builds an orchestrator. summarizer may be nil.
func New(backend Backend, summarizer Summarizer, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.SummaryMaxCtx <= 0 {
		cfg.SummaryMaxCtx = DefaultMaxCtx
	}
	if cfg.FallbackRows <= 0 || cfg.FallbackRows > DefaultFallbackRows {
		cfg.FallbackRows = DefaultFallbackRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{backend: backend, summarizer: summarizer, cfg: cfg, logger: logger.With("component", "search")}
}

// Run fetches rows and then summarizes them.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	rows, err := o.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Request: req, Rows: rows, Summary: o.Summarize(ctx, req, rows)}, nil
}

// Fetch issues /search with the configured row cap.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) ([]domain.ResultRow, error) {
	rows, err := o.backend.Search(ctx, req.Filter, o.cfg.Limit)
	metrics.ObserveSearch(err == nil)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if rows == nil {
		rows = []domain.ResultRow{}
	}
	o.logger.Debug("search completed", "rows", len(rows), "limit", o.cfg.Limit)
	return rows, nil
}

// Summarize never fails: the primary answer is tried first, then the
// fallback summarizer over the leading rows, then the apology. rows is only
// read.
func (o *Orchestrator) Summarize(ctx context.Context, req Request, rows []domain.ResultRow) Summary {
	answer, err := o.backend.Answer(ctx, req.Filter, req.Question, o.cfg.SummaryMaxCtx)
	if err == nil {
		metrics.ObserveSummary(metrics.SummaryPrimary)
		return Summary{Text: answer, Source: SourcePrimary}
	}
	o.logger.Warn("primary summary failed", "err", err)

	if o.cfg.FallbackEnabled && o.summarizer != nil {
		n := len(rows)
		if n > o.cfg.FallbackRows {
			n = o.cfg.FallbackRows
		}
		text, ferr := o.summarizer.Summarize(ctx, req.Question, rows[:n:n])
		if ferr == nil && strings.TrimSpace(text) != "" {
			metrics.ObserveSummary(metrics.SummaryFallback)
			return Summary{Text: text, Source: SourceFallback}
		}
		o.logger.Warn("fallback summary failed", "err", ferr)
	}
	metrics.ObserveSummary(metrics.SummaryNone)
	return Summary{Source: SourceNone, Advisory: Apology}
}
