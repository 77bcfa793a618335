package helpbotsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsTurns(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/sessions":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"s1","state":{"id":"s1","step":"welcome"},"hint":"Merhaba"}`))
		case "/v0/sessions/s1/picks":
			var body map[string]int
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["index"] != 2 {
				t.Errorf("unexpected pick body %v %v", body, err)
			}
			_, _ = w.Write([]byte(`{"replies":[{"kind":"message","text":"ok"}],"state":{"id":"s1","step":"city","company":{"code":12,"label":"ACME Ltd."}}}`))
		case "/v0/sessions/s1":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	ctx := context.Background()

	sess, err := c.CreateSession(ctx)
	if err != nil || sess.ID != "s1" || sess.State.Step != "welcome" {
		t.Fatalf("create session: %+v %v", sess, err)
	}
	turn, err := c.Pick(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if turn.State.Company == nil || turn.State.Company.Code != 12 || turn.Replies[0].Text != "ok" {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if err := c.CloseSession(ctx, "s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := []string{"POST /v0/sessions", "POST /v0/sessions/s1/picks", "DELETE /v0/sessions/s1"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected requests %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d: got %s want %s", i, seen[i], want[i])
		}
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"backend_unreachable","message":"backend unreachable"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Backend(context.Background(), true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Code != "backend_unreachable" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientDecodesNumericAdIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"params":{"page":1,"page_size":100},"page":{"rows":[{"id":7,"date_int":2061676800,"ad_id":123456},{"id":8,"ad_id":"A-8"}],"page":1,"page_size":100,"page_count":1,"filtered":2,"total":2},"pending":false}`))
	}))
	defer srv.Close()

	view, err := New(srv.URL).View(context.Background(), "s1", false)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Page.Rows) != 2 || view.Page.Rows[0].AdID != "123456" || view.Page.Rows[1].AdID != "A-8" {
		t.Fatalf("unexpected rows %+v", view.Page.Rows)
	}
}
