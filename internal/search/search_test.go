package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"helpbot/internal/domain"
	"helpbot/internal/registry"
)

type stubBackend struct {
	rows       []domain.ResultRow
	searchErr  error
	answer     string
	answerErr  error
	limit      int
	maxCtx     int
	filters    []domain.SearchFilter
	questions  []string
	answerHits int
}

func (s *stubBackend) Search(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.ResultRow, error) {
	s.limit = limit
	s.filters = append(s.filters, filter)
	return s.rows, s.searchErr
}

func (s *stubBackend) Answer(ctx context.Context, filter domain.SearchFilter, qText string, maxCtx int) (string, error) {
	s.answerHits++
	s.maxCtx = maxCtx
	s.filters = append(s.filters, filter)
	s.questions = append(s.questions, qText)
	return s.answer, s.answerErr
}

type stubSummarizer struct {
	text string
	err  error
	got  []domain.ResultRow
}

func (s *stubSummarizer) Summarize(ctx context.Context, question string, rows []domain.ResultRow) (string, error) {
	s.got = rows
	return s.text, s.err
}

func completeState() domain.SessionState {
	return domain.SessionState{
		Step:     domain.StepCity,
		DateFrom: "2025-05-01",
		DateTo:   "2025-05-31",
		Company:  &domain.Option{Code: 11, Label: "ACME A.Ş."},
		City:     &domain.Option{Code: 6, Label: "Ankara"},
	}
}

func manyRows(n int) []domain.ResultRow {
	out := make([]domain.ResultRow, n)
	for i := range out {
		out[i] = domain.ResultRow{ID: int64(i + 1)}
	}
	return out
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(completeState(), true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f := req.Filter
	if f.DateFrom != "2025-05-01" || f.DateTo != "2025-05-31" || *f.CompanyCode != 11 || *f.CityCode != 6 || f.TypeCode != nil {
		t.Fatalf("unexpected filter %+v", f)
	}
	for _, want := range []string{"2025-05-01", "2025-05-31", "ACME A.Ş.", "Ankara"} {
		if !strings.Contains(req.Question, want) {
			t.Fatalf("question %q misses %q", req.Question, want)
		}
	}

	st := completeState()
	st.Company = nil
	st.Category = &domain.Option{Code: 3, Label: "Kuruluş"}
	req, err = BuildRequest(st, false)
	if err != nil {
		t.Fatalf("optional company: %v", err)
	}
	if req.Filter.CompanyCode != nil || *req.Filter.TypeCode != 3 {
		t.Fatalf("unexpected filter %+v", req.Filter)
	}
}

func TestBuildRequestIncomplete(t *testing.T) {
	noCity := completeState()
	noCity.City = nil
	noCompany := completeState()
	noCompany.Company = nil
	noDates := completeState()
	noDates.DateTo = ""
	for name, tc := range map[string]struct {
		st       domain.SessionState
		required bool
	}{
		"city":    {noCity, false},
		"company": {noCompany, true},
		"dates":   {noDates, false},
	} {
		if _, err := BuildRequest(tc.st, tc.required); !errors.Is(err, ErrIncompleteFilter) {
			t.Fatalf("%s: expected ErrIncompleteFilter, got %v", name, err)
		}
	}
}

func TestRunPrimarySummary(t *testing.T) {
	backend := &stubBackend{rows: manyRows(3), answer: "Sonuç sayısı: 3"}
	fallback := &stubSummarizer{text: "unused"}
	o := New(backend, fallback, Config{Limit: 1000, SummaryMaxCtx: 20, FallbackEnabled: true}, nil)
	req, _ := BuildRequest(completeState(), false)

	res, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Rows) != 3 || res.Summary.Source != SourcePrimary || res.Summary.Text != "Sonuç sayısı: 3" || res.Summary.Advisory != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if backend.limit != 1000 || backend.maxCtx != 20 {
		t.Fatalf("limit=%d maxCtx=%d", backend.limit, backend.maxCtx)
	}
	if !reflect.DeepEqual(backend.filters[0], backend.filters[1]) || backend.questions[0] != req.Question {
		t.Fatalf("answer must reuse the search filter and restatement")
	}
	if fallback.got != nil {
		t.Fatalf("fallback should not run")
	}
}

func TestRunFallbackUsesFirstTwentyRows(t *testing.T) {
	rows := manyRows(35)
	snapshot := append([]domain.ResultRow(nil), rows...)
	backend := &stubBackend{rows: rows, answerErr: registry.ErrNoAnswer}
	fallback := &stubSummarizer{text: "özet"}
	o := New(backend, fallback, Config{FallbackEnabled: true, FallbackRows: 50}, nil)
	req, _ := BuildRequest(completeState(), false)

	res, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Summary.Source != SourceFallback || res.Summary.Text != "özet" {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if len(fallback.got) != 20 || fallback.got[0].ID != 1 || fallback.got[19].ID != 20 {
		t.Fatalf("fallback saw %d rows", len(fallback.got))
	}
	if !reflect.DeepEqual(res.Rows, snapshot) {
		t.Fatalf("summarization altered rows")
	}
	if backend.limit != DefaultLimit {
		t.Fatalf("expected default limit, got %d", backend.limit)
	}
}

func TestRunApology(t *testing.T) {
	req, _ := BuildRequest(completeState(), false)
	primaryErr := &registry.MalformedError{Endpoint: registry.PathAnswer, Err: errors.New("bad json")}

	cases := map[string]*Orchestrator{
		"fallback disabled": New(&stubBackend{rows: manyRows(2), answerErr: primaryErr}, &stubSummarizer{text: "x"}, Config{}, nil),
		"no summarizer":     New(&stubBackend{rows: manyRows(2), answerErr: primaryErr}, nil, Config{FallbackEnabled: true}, nil),
		"fallback fails":    New(&stubBackend{rows: manyRows(2), answerErr: primaryErr}, &stubSummarizer{err: errors.New("boom")}, Config{FallbackEnabled: true}, nil),
		"fallback blank":    New(&stubBackend{rows: manyRows(2), answerErr: primaryErr}, &stubSummarizer{text: "  "}, Config{FallbackEnabled: true}, nil),
	}
	for name, o := range cases {
		res, err := o.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: run: %v", name, err)
		}
		if res.Summary.Source != SourceNone || res.Summary.Text != "" || res.Summary.Advisory != Apology || len(res.Rows) != 2 {
			t.Fatalf("%s: unexpected result %+v", name, res)
		}
	}
}

func TestRunSearchFailure(t *testing.T) {
	backend := &stubBackend{searchErr: errors.New("unreachable")}
	o := New(backend, nil, Config{}, nil)
	req, _ := BuildRequest(completeState(), false)
	if _, err := o.Run(context.Background(), req); err == nil {
		t.Fatalf("expected search error")
	}
	if backend.answerHits != 0 {
		t.Fatalf("answer must not be called after a failed search")
	}
}

func TestFetchEmptyRowsNotNil(t *testing.T) {
	o := New(&stubBackend{}, nil, Config{}, nil)
	rows, err := o.Fetch(context.Background(), Request{})
	if err != nil || rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil rows, got %v %v", rows, err)
	}
}
