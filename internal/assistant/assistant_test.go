package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"helpbot/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func rows(n int) []domain.ResultRow {
	out := make([]domain.ResultRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.ResultRow{
			ID:          int64(i + 1),
			DateEncoded: 23862 * 86400,
			AdID:        domain.AdID("A" + string(rune('a'+i%26))),
			Company:     "ACME",
			City:        "Ankara",
			Type:        "Kuruluş",
		})
	}
	return out
}

func TestDigestFormat(t *testing.T) {
	got := Digest("Ankara, 2025-05", rows(2), 20, domain.UnitSeconds)
	want := "Soru: Ankara, 2025-05\n" +
		"Sonuç sayısı (ilk 2 gösteriliyor): 2\n" +
		"- [Aa] 2025-05-01 • Ankara • Kuruluş • ACME\n" +
		"- [Ab] 2025-05-01 • Ankara • Kuruluş • ACME"
	if got != want {
		t.Fatalf("digest mismatch:\n%s\nwant:\n%s", got, want)
	}
	if got := Digest("", nil, 20, domain.UnitSeconds); got != "Sonuç bulunamadı." {
		t.Fatalf("unexpected empty digest %q", got)
	}
}

func TestDigestCapsRows(t *testing.T) {
	got := Digest("q", rows(50), 100, domain.UnitSeconds)
	if n := strings.Count(got, "\n- ["); n != DigestRows {
		t.Fatalf("expected %d rows, got %d", DigestRows, n)
	}
	if !strings.Contains(got, "(ilk 20 gösteriliyor): 50") {
		t.Fatalf("header should report the full count: %q", got)
	}
}

func TestSummarize(t *testing.T) {
	var got request
	var auth string
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  25 ilan bulundu. "}}]}`), nil
	})}
	c := New(Config{Endpoint: "http://llm.local/v1/chat/completions", Model: "m", APIKey: "k", MaxRows: 5, HTTPClient: client})
	summary, err := c.Summarize(context.Background(), "Ankara", rows(25))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "25 ilan bulundu." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if auth != "Bearer k" || got.Model != "m" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v auth=%q", got, auth)
	}
	if n := strings.Count(got.Messages[1].Content, "\n- ["); n != 5 {
		t.Fatalf("expected 5 digest rows, got %d", n)
	}
}

func TestSummarizeFailures(t *testing.T) {
	cases := []struct {
		name string
		resp *http.Response
		err  error
	}{
		{name: "status", resp: jsonResponse(http.StatusTooManyRequests, `{"error":"slow down"}`)},
		{name: "empty", resp: jsonResponse(http.StatusOK, `{"choices":[]}`)},
		{name: "blank", resp: jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":" "}}]}`)},
		{name: "garbage", resp: jsonResponse(http.StatusOK, `nope`)},
		{name: "transport", err: errors.New("dial tcp: refused")},
	}
	for _, tc := range cases {
		client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return tc.resp, tc.err
		})}
		c := New(Config{Endpoint: "http://llm.local", Model: "m", HTTPClient: client})
		if _, err := c.Summarize(context.Background(), "q", rows(1)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
