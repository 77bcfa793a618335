package helpbotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal helpbot HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. A search can take as long as
// the backend's /search and /answer together, hence the long timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

type Option struct {
	Code  int64  `json:"code"`
	Label string `json:"label"`
}

// State is a conversation's slots as the server reports them.
type State struct {
	ID           string   `json:"id"`
	Generation   uint64   `json:"generation"`
	Step         string   `json:"step"`
	DateFrom     string   `json:"date_from,omitempty"`
	DateTo       string   `json:"date_to,omitempty"`
	Company      *Option  `json:"company,omitempty"`
	Category     *Option  `json:"category,omitempty"`
	City         *Option  `json:"city,omitempty"`
	AwaitingPick string   `json:"awaiting_pick,omitempty"`
	Pending      []Option `json:"pending,omitempty"`
	Owner        string   `json:"owner,omitempty"`
}

type Session struct {
	ID      string `json:"id"`
	Owner   string `json:"owner,omitempty"`
	State   State  `json:"state"`
	Hint    string `json:"hint,omitempty"`
	HasRows bool   `json:"has_rows"`
}

// Row is one search hit.
type Row struct {
	ID          int64  `json:"id"`
	DateEncoded int64  `json:"date_int"`
	AdID        AdID   `json:"ad_id"`
	Company     string `json:"company"`
	City        string `json:"city"`
	Type        string `json:"type"`
	PDFRef      string `json:"ad_link,omitempty"`
}

// AdID is an announcement number; it decodes from a JSON string or number.
type AdID string

func (a *AdID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AdID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ad_id %s is neither a number nor a string", data)
	}
	*a = AdID(n.String())
	return nil
}

type Summary struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Advisory string `json:"advisory,omitempty"`
}

// Reply is one assistant message. Kind is message, options, policy, error,
// results, summary or reset.
type Reply struct {
	Kind    string   `json:"kind"`
	Text    string   `json:"text"`
	Slot    string   `json:"slot,omitempty"`
	Options []Option `json:"options,omitempty"`
	Rows    []Row    `json:"rows,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

type Turn struct {
	Replies []Reply `json:"replies"`
	State   State   `json:"state"`
}

type ViewParams struct {
	FilterText string `json:"filter_text,omitempty"`
	DateFrom   string `json:"date_from,omitempty"`
	DateTo     string `json:"date_to,omitempty"`
	Company    string `json:"company,omitempty"`
	City       string `json:"city,omitempty"`
	Type       string `json:"type,omitempty"`
	SortKey    string `json:"sort_key,omitempty"`
	SortDir    string `json:"sort_dir,omitempty"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

type Page struct {
	Rows      []Row `json:"rows"`
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	PageCount int   `json:"page_count"`
	Filtered  int   `json:"filtered"`
	Total     int   `json:"total"`
	HasPrev   bool  `json:"has_prev"`
	HasNext   bool  `json:"has_next"`
}

type View struct {
	Params  ViewParams `json:"params"`
	Page    Page       `json:"page"`
	Pending bool       `json:"pending"`
}

// ViewUpdate changes some view controls; nil fields are left alone.
type ViewUpdate struct {
	FilterText *string `json:"filter_text,omitempty"`
	Debounce   bool    `json:"debounce,omitempty"`
	DateFrom   *string `json:"date_from,omitempty"`
	DateTo     *string `json:"date_to,omitempty"`
	Company    *string `json:"company,omitempty"`
	City       *string `json:"city,omitempty"`
	Type       *string `json:"type,omitempty"`
	SortKey    *string `json:"sort_key,omitempty"`
	SortDir    *string `json:"sort_dir,omitempty"`
	PageSize   *int    `json:"page_size,omitempty"`
	Page       *int    `json:"page,omitempty"`
	Action     string  `json:"action,omitempty"`
}

type BackendHealth struct {
	Base      string `json:"base"`
	OK        bool   `json:"ok"`
	Rows      int64  `json:"rows"`
	CheckedAt string `json:"checked_at"`
}

type Backend struct {
	Current    string        `json:"current"`
	Candidates []string      `json:"candidates"`
	Health     BackendHealth `json:"health"`
	Fresh      bool          `json:"fresh"`
}

type Discovery struct {
	Adopted bool   `json:"adopted"`
	Base    string `json:"base"`
	Backend
}

type Health struct {
	Status   string        `json:"status"`
	Backend  BackendHealth `json:"backend"`
	Fresh    bool          `json:"fresh"`
	Sessions int           `json:"sessions"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Step    string         `json:"step,omitempty"`
	Owner   string         `json:"owner,omitempty"`
	Payload map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// Backend returns the current base; probe forces a fresh health check.
func (c *Client) Backend(ctx context.Context, probe bool) (Backend, error) {
	endpoint := "backend"
	if probe {
		endpoint += "?probe=true"
	}
	var resp Backend
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SetBackend(ctx context.Context, base string, probe bool) (Backend, error) {
	body := map[string]any{"base": base, "probe": probe}
	var resp Backend
	err := c.do(ctx, http.MethodPut, "backend", body, &resp)
	return resp, err
}

func (c *Client) Discover(ctx context.Context) (Discovery, error) {
	var resp Discovery
	err := c.do(ctx, http.MethodPost, "backend/discover", nil, &resp)
	return resp, err
}

// CreateSession opens a conversation.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", nil, &resp)
	return resp, err
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp []Session
	err := c.do(ctx, http.MethodGet, "sessions", nil, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// Send posts one free-text turn.
func (c *Client) Send(ctx context.Context, id, text string) (Turn, error) {
	var resp Turn
	err := c.do(ctx, http.MethodPost, sessionPath(id, "messages"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Pick chooses an offered option by zero-based index.
func (c *Client) Pick(ctx context.Context, id string, index int) (Turn, error) {
	var resp Turn
	err := c.do(ctx, http.MethodPost, sessionPath(id, "picks"), map[string]any{"index": index}, &resp)
	return resp, err
}

func (c *Client) Reset(ctx context.Context, id string) (Turn, error) {
	var resp Turn
	err := c.do(ctx, http.MethodPost, sessionPath(id, "reset"), nil, &resp)
	return resp, err
}

// View returns the current page. flush applies a queued filter first.
func (c *Client) View(ctx context.Context, id string, flush bool) (View, error) {
	endpoint := sessionPath(id, "view")
	if flush {
		endpoint += "?flush=true"
	}
	var resp View
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) UpdateView(ctx context.Context, id string, update ViewUpdate) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodPatch, sessionPath(id, "view"), update, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing for one conversation.
func (c *Client) EventsPage(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := sessionPath(id, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func sessionPath(id, p string) string {
	out := "sessions/" + url.PathEscape(id)
	if p != "" {
		out += "/" + p
	}
	return out
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
