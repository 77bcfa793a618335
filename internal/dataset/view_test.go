package dataset

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"helpbot/internal/domain"
)

const day = 86400

// may2025 is 2025-05-01 as seconds since 1960-01-01.
const may2025 = 23862 * day

func seqRows(n int) []domain.ResultRow {
	rows := make([]domain.ResultRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, domain.ResultRow{
			ID:          int64(i),
			DateEncoded: int64(may2025 + (i-1)*day),
			AdID:        domain.AdID(fmt.Sprintf("AD-%03d", i)),
			Company:     fmt.Sprintf("Firma %d", i),
			City:        "Ankara",
			Type:        "Kuruluş",
		})
	}
	return rows
}

func TestPaginationScenario(t *testing.T) {
	v := NewView(100, domain.UnitSeconds)
	v.SetRows(seqRows(250))
	p := v.SetSort(SortDate, Desc)
	if p.Page != 1 || len(p.Rows) != 100 || p.PageCount != 3 || p.HasPrev || !p.HasNext {
		t.Fatalf("unexpected first page %+v", summary(p))
	}
	for i, r := range p.Rows {
		if r.ID != int64(250-i) {
			t.Fatalf("row %d: expected id %d, got %d", i, 250-i, r.ID)
		}
	}
	p = v.Next()
	if p.Page != 2 || p.Rows[0].ID != 150 || p.Rows[99].ID != 51 || !p.HasNext {
		t.Fatalf("unexpected second page %+v", summary(p))
	}
	p = v.Next()
	if p.Page != 3 || len(p.Rows) != 50 || p.Rows[49].ID != 1 || p.HasNext {
		t.Fatalf("unexpected last page %+v", summary(p))
	}
	p = v.Next()
	if p.Page != 3 {
		t.Fatalf("next past the end should clamp, got page %d", p.Page)
	}
}

func TestPageClamp(t *testing.T) {
	rows := seqRows(250)
	base := Params{PageSize: 100}
	last := Apply(rows, Params{PageSize: 100, Page: 3}, domain.UnitSeconds)
	for _, page := range []int{0, -4, 1} {
		base.Page = page
		if got := Apply(rows, base, domain.UnitSeconds); got.Page != 1 {
			t.Fatalf("page %d clamped to %d", page, got.Page)
		}
	}
	for _, page := range []int{4, 99} {
		base.Page = page
		if got := Apply(rows, base, domain.UnitSeconds); !reflect.DeepEqual(got, last) {
			t.Fatalf("page %d should equal the last page", page)
		}
	}
	empty := Apply(nil, Params{Page: 7}, domain.UnitSeconds)
	if empty.Page != 1 || empty.PageCount != 1 || len(empty.Rows) != 0 {
		t.Fatalf("unexpected empty page %+v", empty)
	}
	if ClampPage(5, 0, 0) != 1 || ClampPage(2, 101, 100) != 2 || ClampPage(3, 101, 100) != 2 {
		t.Fatalf("ClampPage bounds wrong")
	}
}

func TestApplyIsIdempotentAndPure(t *testing.T) {
	rows := seqRows(30)
	rows[4].Company = "ÇAĞDAŞ Yapı"
	snapshot := append([]domain.ResultRow(nil), rows...)
	p := Params{FilterText: "cagdas", SortKey: SortCompany, SortDir: Desc, Page: 1, PageSize: 10}
	first := Apply(rows, p, domain.UnitSeconds)
	second := Apply(rows, p, domain.UnitSeconds)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("apply is not idempotent")
	}
	if !reflect.DeepEqual(rows, snapshot) {
		t.Fatalf("apply modified its input")
	}
	if first.Filtered != 1 || first.Rows[0].ID != 5 {
		t.Fatalf("accent-folded filter missed: %+v", summary(first))
	}

	// The same controls reached in a different call order give the same page.
	a := NewView(10, domain.UnitSeconds)
	a.SetRows(rows)
	a.SetFilterText("firma 1")
	a.SetSort(SortID, Desc)
	a.SetPage(2)
	b := NewView(10, domain.UnitSeconds)
	b.SetRows(rows)
	b.SetPage(2)
	b.SetSort(SortID, Desc)
	b.SetFilterText("firma 1")
	b.SetPage(2)
	if !reflect.DeepEqual(a.Current(), b.Current()) {
		t.Fatalf("views diverged: %+v vs %+v", summary(a.Current()), summary(b.Current()))
	}
}

func TestStableSortKeepsOriginalOrderForTies(t *testing.T) {
	rows := []domain.ResultRow{
		{ID: 1, City: "izmir"},
		{ID: 2, City: "Ankara"},
		{ID: 3, City: "İzmir"},
		{ID: 4, City: "ankara"},
	}
	asc := Apply(rows, Params{SortKey: SortCity, SortDir: Asc}, domain.UnitSeconds)
	if got := ids(asc.Rows); !reflect.DeepEqual(got, []int64{2, 4, 1, 3}) {
		t.Fatalf("asc order %v", got)
	}
	desc := Apply(rows, Params{SortKey: SortCity, SortDir: Desc}, domain.UnitSeconds)
	if got := ids(desc.Rows); !reflect.DeepEqual(got, []int64{1, 3, 2, 4}) {
		t.Fatalf("desc order %v", got)
	}
}

func TestSortByAdIDIsNumeric(t *testing.T) {
	rows := []domain.ResultRow{
		{ID: 1, AdID: "900"},
		{ID: 2, AdID: "manual-b"},
		{ID: 3, AdID: "12000"},
		{ID: 4, AdID: "75"},
		{ID: 5, AdID: "Manual-A"},
	}
	asc := Apply(rows, Params{SortKey: SortID, SortDir: Asc}, domain.UnitSeconds)
	if got := ids(asc.Rows); !reflect.DeepEqual(got, []int64{4, 1, 3, 5, 2}) {
		t.Fatalf("asc order %v", got)
	}
	desc := Apply(rows, Params{SortKey: SortID, SortDir: Desc}, domain.UnitSeconds)
	if got := ids(desc.Rows); !reflect.DeepEqual(got, []int64{2, 5, 3, 1, 4}) {
		t.Fatalf("desc order %v", got)
	}
	if p := Apply(rows, Params{FilterText: "1200"}, domain.UnitSeconds); p.Filtered != 1 || p.Rows[0].ID != 3 {
		t.Fatalf("text filter should match the ad id: %+v", p.Rows)
	}
}

func TestDateBoundsAndFieldFilters(t *testing.T) {
	v := NewView(100, domain.UnitSeconds)
	rows := seqRows(40)
	rows[10].City = "İstanbul"
	rows[12].City = "Istanbul"
	v.SetRows(rows)

	p, err := v.SetDateBounds("2025-05-05", "2025-05-14")
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if p.Filtered != 10 || p.Rows[0].ID != 5 || p.Rows[9].ID != 14 {
		t.Fatalf("unexpected bounded page %+v", summary(p))
	}
	p, err = v.SetFieldFilter("city", "istanbul")
	if err != nil {
		t.Fatalf("field filter: %v", err)
	}
	if got := ids(p.Rows); !reflect.DeepEqual(got, []int64{11, 13}) {
		t.Fatalf("field filter rows %v", got)
	}
	if _, err := v.SetFieldFilter("ad_link", "x"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if _, err := v.SetDateBounds("2025-06-01", "2025-05-01"); err == nil {
		t.Fatalf("expected error for inverted bounds")
	}
	if _, err := v.SetDateBounds("dün", ""); err == nil {
		t.Fatalf("expected error for bad bound")
	}
	if v.Current().Filtered != 2 {
		t.Fatalf("rejected bounds must not change the view")
	}
}

func TestDateUnitDays(t *testing.T) {
	rows := []domain.ResultRow{{ID: 1, DateEncoded: 23862}, {ID: 2, DateEncoded: 23900}}
	p := Apply(rows, Params{DateTo: "2025-05-01"}, domain.UnitDays)
	if got := ids(p.Rows); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("days unit rows %v", got)
	}
}

func TestSetRowsResetsPage(t *testing.T) {
	v := NewView(10, domain.UnitSeconds)
	v.SetRows(seqRows(50))
	v.SetPage(4)
	if p := v.SetRows(seqRows(50)); p.Page != 1 {
		t.Fatalf("expected page 1 after new rows, got %d", p.Page)
	}
}

func TestDebouncerRunsLatestOnly(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls int32
	var last atomic.Value
	for _, s := range []string{"a", "ac", "acm"} {
		s := s
		d.Schedule(func() {
			atomic.AddInt32(&calls, 1)
			last.Store(s)
		})
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one call, got %d", got)
	}
	if last.Load() != "acm" {
		t.Fatalf("expected latest value, got %v", last.Load())
	}
}

func TestDebouncerFlushAndStop(t *testing.T) {
	d := NewDebouncer(time.Hour)
	ran := false
	d.Schedule(func() { ran = true })
	if !d.Flush() || !ran {
		t.Fatalf("flush should run the pending func")
	}
	if d.Flush() {
		t.Fatalf("nothing should be pending after flush")
	}
	d.Schedule(func() { t.Errorf("stopped func ran") })
	d.Stop()
	if d.Flush() {
		t.Fatalf("stop should drop the pending func")
	}
}

func ids(rows []domain.ResultRow) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func summary(p Page) string {
	return fmt.Sprintf("page=%d/%d filtered=%d ids=%v", p.Page, p.PageCount, p.Filtered, ids(p.Rows))
}
