package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"helpbot/internal/domain"
	"helpbot/internal/endpoint"
)

type stubEndpoint struct {
	base        string
	err         error
	invalidated int
}

func (s *stubEndpoint) EnsureHealthy(ctx context.Context, force bool) (string, error) {
	return s.base, s.err
}

func (s *stubEndpoint) Invalidate() { s.invalidated++ }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// backend answers each path with a canned body and records request bodies.
func backend(t *testing.T, replies map[string]string, seen map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			var m map[string]any
			_ = json.Unmarshal(body, &m)
			seen[r.URL.Path] = m
		}
		reply, ok := replies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveDateRange(t *testing.T) {
	seen := map[string]map[string]any{}
	srv := backend(t, map[string]string{
		PathParseDateRange: `{"status":"ok","range":{"from":"2025-05-01","to":"2025-05-31"}}`,
	}, seen)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	dr, ok, err := c.ResolveDateRange(context.Background(), "son 30 gün")
	if err != nil || !ok {
		t.Fatalf("resolve: %v %v", ok, err)
	}
	if dr.From != "2025-05-01" || dr.To != "2025-05-31" {
		t.Fatalf("unexpected range %+v", dr)
	}
	if seen[PathParseDateRange]["text"] != "son 30 gün" {
		t.Fatalf("request body not forwarded: %v", seen[PathParseDateRange])
	}
}

func TestResolveDateRangeRejectsMalformedRanges(t *testing.T) {
	for _, reply := range []string{
		`{"status":"unmapped"}`,
		`{"status":"ok"}`,
		`{"status":"ok","range":{"from":"2025-06-01","to":"2025-05-01"}}`,
		`{"status":"ok","range":{"from":"yesterday","to":"2025-05-01"}}`,
	} {
		srv := backend(t, map[string]string{PathParseDateRange: reply}, nil)
		c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
		_, ok, err := c.ResolveDateRange(context.Background(), "x")
		if err != nil || ok {
			t.Fatalf("%s: expected unresolved, got ok=%v err=%v", reply, ok, err)
		}
	}
}

func TestLookupOutcomes(t *testing.T) {
	srv := backend(t, map[string]string{
		PathLookupCompany:  `{"status":"ambiguous","options":[{"code":11,"name":"ACME A.Ş."},{"code":12,"name":"ACME Holding"}]}`,
		PathLookupCity:     `{"status":"ok","code":"34","name":"İstanbul"}`,
		PathLookupCategory: `{"status":"ok","code":5}`,
	}, nil)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	ctx := context.Background()

	res, err := c.ResolveCompany(ctx, "acme")
	if err != nil {
		t.Fatalf("company: %v", err)
	}
	if res.Kind != domain.Ambiguous || len(res.Candidates) != 2 {
		t.Fatalf("unexpected company resolution %+v", res)
	}
	if res.Candidates[0] != (domain.Option{Code: 11, Label: "ACME A.Ş."}) || res.Candidates[1].Code != 12 {
		t.Fatalf("candidate order changed: %+v", res.Candidates)
	}

	res, err = c.ResolveCity(ctx, "istanbul")
	if err != nil || res.Kind != domain.Resolved || res.Option.Code != 34 || res.Option.Label != "İstanbul" {
		t.Fatalf("unexpected city %+v %v", res, err)
	}

	res, err = c.ResolveCategory(ctx, "kuruluş")
	if err != nil || res.Kind != domain.Resolved || res.Option.Label != "kuruluş" {
		t.Fatalf("category label should fall back to the typed text: %+v %v", res, err)
	}
}

func TestLookupCapsCandidates(t *testing.T) {
	var opts []string
	for i := 1; i <= 9; i++ {
		opts = append(opts, `{"code":`+string(rune('0'+i))+`,"name":"c`+string(rune('0'+i))+`"}`)
	}
	srv := backend(t, map[string]string{
		PathLookupCompany: `{"status":"ambiguous","options":[` + strings.Join(opts, ",") + `]}`,
		PathLookupCity:    `{"status":"ambiguous","options":[]}`,
	}, nil)
	c := New(&stubEndpoint{base: srv.URL}, Config{MaxCandidates: 10}, nil)
	res, err := c.ResolveCompany(context.Background(), "c")
	if err != nil {
		t.Fatalf("company: %v", err)
	}
	if len(res.Candidates) != MaxCandidates {
		t.Fatalf("expected %d candidates, got %d", MaxCandidates, len(res.Candidates))
	}
	for i, cand := range res.Candidates {
		if cand.Code != int64(i+1) {
			t.Fatalf("order changed at %d: %+v", i, res.Candidates)
		}
	}
	res, err = c.ResolveCity(context.Background(), "x")
	if err != nil || res.Kind != domain.Unresolved {
		t.Fatalf("empty options should be unresolved: %+v %v", res, err)
	}
}

func TestMalformedResponsesNameEndpoint(t *testing.T) {
	srv := backend(t, map[string]string{
		PathLookupCompany: `<html>oops</html>`,
		PathLookupCity:    `{"status":"ok","name":"no code"}`,
		PathSearch:        `{"count":0}`,
	}, nil)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	ctx := context.Background()

	_, err := c.ResolveCompany(ctx, "acme")
	var me *MalformedError
	if !errors.As(err, &me) || me.Endpoint != PathLookupCompany {
		t.Fatalf("expected malformed company response, got %v", err)
	}
	if _, err := c.ResolveCity(ctx, "x"); !errors.As(err, &me) || me.Endpoint != PathLookupCity {
		t.Fatalf("expected malformed city response, got %v", err)
	}
	if _, err := c.Search(ctx, domain.SearchFilter{}, 10); !errors.As(err, &me) || me.Endpoint != PathSearch {
		t.Fatalf("expected malformed search response, got %v", err)
	}
	if _, _, err := c.ResolveDateRange(ctx, "x"); !errors.As(err, &me) || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected 404 to be malformed, got %v", err)
	}
}

func TestUnreachablePropagates(t *testing.T) {
	ep := &stubEndpoint{err: endpoint.ErrUnreachable}
	c := New(ep, Config{}, nil)
	if _, err := c.ResolveCompany(context.Background(), "acme"); !errors.Is(err, endpoint.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}

	ep = &stubEndpoint{base: "http://backend.invalid"}
	failing := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	c = New(ep, Config{HTTPClient: failing}, nil)
	if _, err := c.ResolveCity(context.Background(), "ankara"); !errors.Is(err, endpoint.ErrUnreachable) {
		t.Fatalf("expected unreachable on transport error, got %v", err)
	}
	if ep.invalidated != 1 {
		t.Fatalf("expected endpoint invalidation, got %d", ep.invalidated)
	}
}

func TestSearchAndAnswer(t *testing.T) {
	seen := map[string]map[string]any{}
	srv := backend(t, map[string]string{
		PathSearch: `{"hits":[{"id":1,"date_int":2061676800,"ad_id":"A-1","company":"ACME","city":"Ankara","type":"Kuruluş","ad_link":"/pdf/1"}],"count":1}`,
		PathAnswer: `{"answer_tr":"Sonuç sayısı: 1","sources":[]}`,
	}, seen)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	ctx := context.Background()
	city := int64(6)
	filter := domain.SearchFilter{DateFrom: "2025-05-01", DateTo: "2025-05-31", CityCode: &city}

	rows, err := c.Search(ctx, filter, 40)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 || rows[0].AdID != "A-1" || rows[0].PDFRef != "/pdf/1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	filters, _ := seen[PathSearch]["filters"].(map[string]any)
	if filters["city_code"] != float64(6) || filters["date_from"] != "2025-05-01" {
		t.Fatalf("unexpected filters %v", seen[PathSearch])
	}
	if _, ok := filters["company_code"]; ok {
		t.Fatalf("unset company should be omitted: %v", filters)
	}
	if seen[PathSearch]["limit"] != float64(40) {
		t.Fatalf("limit not sent: %v", seen[PathSearch])
	}

	answer, err := c.Answer(ctx, filter, "Ankara, 2025-05-01..2025-05-31", 20)
	if err != nil || answer != "Sonuç sayısı: 1" {
		t.Fatalf("answer: %q %v", answer, err)
	}
	if seen[PathAnswer]["q_text"] != "Ankara, 2025-05-01..2025-05-31" || seen[PathAnswer]["max_ctx"] != float64(20) {
		t.Fatalf("unexpected answer request %v", seen[PathAnswer])
	}
}

func TestSearchDecodesNumericAdIDs(t *testing.T) {
	srv := backend(t, map[string]string{
		PathSearch: `{"hits":[` +
			`{"id":7,"date_int":2061676800,"loc_id":34,"type_id":2,"comp_name":991,"ad_id":123456,"company":"ACME","city":"İstanbul","type":"Kuruluş","ad_link":""},` +
			`{"id":8,"date_int":2061763200,"loc_id":6,"type_id":2,"comp_name":992,"ad_id":"654321","company":"Beta","city":"Ankara","type":"Kuruluş","ad_link":""}` +
			`],"count":2}`,
	}, nil)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	rows, err := c.Search(context.Background(), domain.SearchFilter{}, 40)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 2 || rows[0].AdID != "123456" || rows[1].AdID != "654321" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if n, ok := rows[0].AdID.Int(); !ok || n != 123456 {
		t.Fatalf("ad id %q should be numeric", rows[0].AdID)
	}
	if rows[0].LocID != 34 || rows[0].City != "İstanbul" {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	bad := backend(t, map[string]string{PathSearch: `{"hits":[{"id":1,"ad_id":true}]}`}, nil)
	c = New(&stubEndpoint{base: bad.URL}, Config{}, nil)
	var malformed *MalformedError
	if _, err := c.Search(context.Background(), domain.SearchFilter{}, 40); !errors.As(err, &malformed) || malformed.Endpoint != PathSearch {
		t.Fatalf("expected malformed /search, got %v", err)
	}
}

func TestAnswerMissingField(t *testing.T) {
	srv := backend(t, map[string]string{PathAnswer: `{"sources":[]}`}, nil)
	c := New(&stubEndpoint{base: srv.URL}, Config{}, nil)
	if _, err := c.Answer(context.Background(), domain.SearchFilter{}, "q", 20); !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer, got %v", err)
	}
}
