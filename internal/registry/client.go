// Package registry is the typed client for the registry backend's resolver
// tools and its search/answer endpoints.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"helpbot/internal/domain"
	"helpbot/internal/endpoint"
	"helpbot/internal/metrics"
)

// Backend paths.
const (
	PathParseDateRange = "/tools/parse_date_range"
	PathLookupCompany  = "/tools/lookup_company"
	PathLookupCity     = "/tools/lookup_mudurluk"
	PathLookupCategory = "/tools/lookup_ilan_turu"
	PathSearch         = "/search"
	PathAnswer         = "/answer"
)

// MaxCandidates is the most options ever surfaced for one ambiguity.
const MaxCandidates = 6

// ErrNoAnswer is returned when /answer replies without an answer text.
var ErrNoAnswer = errors.New("answer missing from response")

// MalformedError reports a response that could not be used.
type MalformedError struct {
	Endpoint string
	Err      error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Endpoint supplies a healthy backend base.
type Endpoint interface {
	EnsureHealthy(ctx context.Context, force bool) (string, error)
	Invalidate()
}

type Config struct {
	Timeout       time.Duration
	RateLimit     float64
	RateBurst     int
	MaxCandidates int
	HTTPClient    *http.Client
}

type Client struct {
	ep      Endpoint
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(ep Endpoint, cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxCandidates <= 0 || cfg.MaxCandidates > MaxCandidates {
		cfg.MaxCandidates = MaxCandidates
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ep:      ep,
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "registry"),
	}
}

// ResolveDateRange asks the backend to interpret text as a date range. Only a
// well-formed {from,to} pair with from <= to counts as resolved.
func (c *Client) ResolveDateRange(ctx context.Context, text string) (domain.DateRange, bool, error) {
	var resp struct {
		Status string `json:"status"`
		Range  *struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"range"`
	}
	if err := c.postJSON(ctx, PathParseDateRange, map[string]string{"text": text}, &resp); err != nil {
		return domain.DateRange{}, false, err
	}
	if resp.Status != "ok" || resp.Range == nil {
		return domain.DateRange{}, false, nil
	}
	dr := domain.DateRange{From: strings.TrimSpace(resp.Range.From), To: strings.TrimSpace(resp.Range.To)}
	if !dr.Valid() {
		c.logger.Debug("date range rejected", "from", dr.From, "to", dr.To)
		return domain.DateRange{}, false, nil
	}
	return dr, true, nil
}

func (c *Client) ResolveCompany(ctx context.Context, text string) (domain.Resolution, error) {
	return c.lookup(ctx, PathLookupCompany, map[string]string{"name": text}, text)
}

func (c *Client) ResolveCity(ctx context.Context, text string) (domain.Resolution, error) {
	return c.lookup(ctx, PathLookupCity, map[string]string{"name": text}, text)
}

func (c *Client) ResolveCategory(ctx context.Context, text string) (domain.Resolution, error) {
	return c.lookup(ctx, PathLookupCategory, map[string]string{"term": text}, text)
}

type lookupOption struct {
	Code  code   `json:"code"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (o lookupOption) option() domain.Option {
	label := o.Name
	if label == "" {
		label = o.Label
	}
	return domain.Option{Code: int64(o.Code), Label: label}
}

type lookupResponse struct {
	Status  string         `json:"status"`
	Code    *code          `json:"code"`
	Name    string         `json:"name"`
	Options []lookupOption `json:"options"`
}

func (c *Client) lookup(ctx context.Context, path string, body any, text string) (domain.Resolution, error) {
	var resp lookupResponse
	if err := c.postJSON(ctx, path, body, &resp); err != nil {
		return domain.Resolution{}, err
	}
	switch resp.Status {
	case "ok":
		if resp.Code == nil {
			return domain.Resolution{}, &MalformedError{Endpoint: path, Err: errors.New("ok status without code")}
		}
		label := strings.TrimSpace(resp.Name)
		if label == "" {
			label = strings.TrimSpace(text)
		}
		return domain.Resolution{Kind: domain.Resolved, Option: domain.Option{Code: int64(*resp.Code), Label: label}}, nil
	case "ambiguous":
		if len(resp.Options) == 0 {
			return domain.Resolution{Kind: domain.Unresolved}, nil
		}
		n := len(resp.Options)
		if n > c.cfg.MaxCandidates {
			n = c.cfg.MaxCandidates
		}
		cands := make([]domain.Option, 0, n)
		for _, o := range resp.Options[:n] {
			cands = append(cands, o.option())
		}
		return domain.Resolution{Kind: domain.Ambiguous, Candidates: cands}, nil
	default:
		return domain.Resolution{Kind: domain.Unresolved}, nil
	}
}

// Search runs /search with the filter and a row cap.
func (c *Client) Search(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.ResultRow, error) {
	req := struct {
		Filters domain.SearchFilter `json:"filters"`
		Limit   int                 `json:"limit"`
	}{Filters: filter, Limit: limit}
	var resp struct {
		Hits *[]domain.ResultRow `json:"hits"`
	}
	if err := c.postJSON(ctx, PathSearch, req, &resp); err != nil {
		return nil, err
	}
	if resp.Hits == nil {
		return nil, &MalformedError{Endpoint: PathSearch, Err: errors.New("hits missing")}
	}
	return *resp.Hits, nil
}

// Answer asks the backend to summarize the search for qText over at most
// maxCtx rows.
func (c *Client) Answer(ctx context.Context, filter domain.SearchFilter, qText string, maxCtx int) (string, error) {
	req := struct {
		Filters domain.SearchFilter `json:"filters"`
		QText   string              `json:"q_text"`
		QTR     string              `json:"q_tr,omitempty"`
		MaxCtx  int                 `json:"max_ctx"`
	}{Filters: filter, QText: qText, QTR: qText, MaxCtx: maxCtx}
	var resp struct {
		AnswerText string `json:"answer_text"`
		AnswerTR   string `json:"answer_tr"`
	}
	if err := c.postJSON(ctx, PathAnswer, req, &resp); err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.AnswerText)
	if answer == "" {
		answer = strings.TrimSpace(resp.AnswerTR)
	}
	if answer == "" {
		return "", ErrNoAnswer
	}
	return answer, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveBackendCall(path, time.Since(start), err == nil)
	}()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	base, err := c.ep.EnsureHealthy(ctx, false)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.ep.Invalidate()
		return fmt.Errorf("%w: %s: %v", endpoint.ErrUnreachable, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.ep.Invalidate()
		return fmt.Errorf("%w: %s: %v", endpoint.ErrUnreachable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &MalformedError{Endpoint: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedError{Endpoint: path, Err: err}
	}
	return nil
}

// code accepts a JSON number or a numeric string.
type code int64

func (c *code) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("code %s is not an integer", data)
	}
	*c = code(v)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
