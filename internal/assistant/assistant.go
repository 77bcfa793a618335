// Package assistant is the fallback summarizer. It condenses the first rows
// of a result set into a digest and asks an OpenAI-compatible chat
// completions endpoint to summarize it.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"helpbot/internal/domain"
)

// DigestRows is the most rows ever put into a digest.
const DigestRows = 20

const systemPrompt = `You summarize Turkish trade registry gazette search results.
Answer in Turkish, in at most five sentences. Mention how many announcements
were found, the dominant announcement types and any notable companies.
Use only the rows given. Do not invent announcements.`

// ErrEmptyCompletion is returned when the endpoint answers without content.
var ErrEmptyCompletion = errors.New("assistant returned no content")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type Config struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRows     int
	Unit        domain.DateUnit
	HTTPClient  *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRows <= 0 || cfg.MaxRows > DigestRows {
		cfg.MaxRows = DigestRows
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Summarize asks the endpoint for a short summary of rows answering question.
func (c *Client) Summarize(ctx context.Context, question string, rows []domain.ResultRow) (string, error) {
	body := request{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Digest(question, rows, c.cfg.MaxRows, c.cfg.Unit)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("assistant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Digest renders the question and at most limit rows, one line each:
//
//	- [ad_id] YYYY-MM-DD • city • type • company
func Digest(question string, rows []domain.ResultRow, limit int, unit domain.DateUnit) string {
	if limit <= 0 || limit > DigestRows {
		limit = DigestRows
	}
	if len(rows) < limit {
		limit = len(rows)
	}
	var b strings.Builder
	if q := strings.TrimSpace(question); q != "" {
		fmt.Fprintf(&b, "Soru: %s\n", q)
	}
	if len(rows) == 0 {
		b.WriteString("Sonuç bulunamadı.")
		return b.String()
	}
	fmt.Fprintf(&b, "Sonuç sayısı (ilk %d gösteriliyor): %d", limit, len(rows))
	for _, r := range rows[:limit] {
		fmt.Fprintf(&b, "\n- [%s] %s • %s • %s • %s", r.AdID, domain.FormatDate(r.DateEncoded, unit), r.City, r.Type, r.Company)
	}
	return b.String()
}
