package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"helpbot/internal/app"
	"helpbot/internal/config"
	"helpbot/internal/db"
	"helpbot/internal/domain"
	"helpbot/internal/migrate"
)

func newChatREPL(t *testing.T, out io.Writer) *repl {
	t.Helper()
	hits := make([]map[string]any, 0, 250)
	for i := 1; i <= 250; i++ {
		hits = append(hits, map[string]any{
			"id": i, "date_int": (23862 + i) * 86400, "ad_id": fmt.Sprintf("A-%d", i),
			"company": "ACME Ltd.", "city": "Ankara", "type": "Kuruluş",
		})
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body any
		switch r.URL.Path {
		case "/health":
			body = map[string]any{"ok": true, "rows": 250}
		case "/tools/parse_date_range":
			body = map[string]any{"status": "ok", "range": map[string]string{"from": "2025-05-01", "to": "2025-05-31"}}
		case "/tools/lookup_company":
			body = map[string]any{"status": "ambiguous", "options": []map[string]any{
				{"code": 11, "name": "ACME A.Ş."}, {"code": 12, "name": "ACME Ltd."},
			}}
		case "/tools/lookup_mudurluk":
			body = map[string]any{"status": "ok", "code": 6, "name": "Ankara"}
		case "/search":
			body = map[string]any{"hits": hits}
		case "/answer":
			body = map[string]any{"answer_tr": "250 ilan bulundu."}
		default:
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = backend.URL
	cfg.Backend.Fallbacks = nil
	cfg.Search.Limit = 1000
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := app.Wire(context.Background(), cfg, conn, nil, app.NewLogger(io.Discard, "error", false))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	return newREPL(svc, svc.NewConversation("chat", ""), out)
}

func TestChatSession(t *testing.T) {
	var out bytes.Buffer
	r := newChatREPL(t, &out)
	input := strings.Join([]string{
		"merhaba", "son 30 gün", "acme", "2", "ankara",
		"/sort date desc", "/next", "/state", "/quit", "never read",
	}, "\n")
	if err := r.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := r.conv.State()
	if st.Step != domain.StepDone || st.Company == nil || st.Company.Code != 12 {
		t.Fatalf("unexpected state %+v", st)
	}
	text := out.String()
	for _, want := range []string{"ACME A.Ş.", "250 ilan bulundu.", "sayfa 2/3", "ACME Ltd. (12)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if p := r.conv.View().Current(); p.Page != 2 || p.Rows[0].AdID != "A-150" {
		t.Fatalf("expected page 2 starting at A-150, got page %d first %s", p.Page, p.Rows[0].AdID)
	}
}

func TestChatCommandErrors(t *testing.T) {
	var out bytes.Buffer
	r := newChatREPL(t, &out)
	ctx := context.Background()

	for _, line := range []string{"/pick x", "/sort salary", "/dates 2025-06-01", "/where owner x", "/bogus"} {
		out.Reset()
		if quit := r.handle(ctx, line); quit {
			t.Fatalf("%q should not quit", line)
		}
		if out.Len() == 0 {
			t.Fatalf("%q printed nothing", line)
		}
	}
	out.Reset()
	r.handle(ctx, "3")
	if r.conv.State().Step != domain.StepDate {
		t.Fatalf("a bare number with nothing to pick is ordinary input")
	}
	if !r.handle(ctx, "/quit") {
		t.Fatalf("/quit should quit")
	}
}
