// Package dataset filters, sorts and pages one search's result set locally.
package dataset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"helpbot/internal/domain"
	"helpbot/internal/textnorm"
)

const DefaultPageSize = 100

type SortKey string

const (
	SortNone    SortKey = ""
	SortID      SortKey = "id" // announcement number, not the backend row id
	SortDate    SortKey = "date"
	SortCompany SortKey = "company"
	SortCity    SortKey = "city"
	SortType    SortKey = "type"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseSortKey accepts the sortable column names.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortNone, SortID, SortDate, SortCompany, SortCity, SortType:
		return k, nil
	}
	return "", fmt.Errorf("invalid sort key %q", s)
}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "", Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	}
	return "", fmt.Errorf("invalid sort direction %q", s)
}

// Params are the view controls. The visible page depends on nothing else.
type Params struct {
	FilterText string    `json:"filter_text,omitempty"`
	DateFrom   string    `json:"date_from,omitempty"`
	DateTo     string    `json:"date_to,omitempty"`
	Company    string    `json:"company,omitempty"`
	City       string    `json:"city,omitempty"`
	Type       string    `json:"type,omitempty"`
	SortKey    SortKey   `json:"sort_key,omitempty" enum:"id,date,company,city,type"`
	SortDir    Direction `json:"sort_dir,omitempty" enum:"asc,desc"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}

// Page is one computed window over the filtered rows.
type Page struct {
	Rows      []domain.ResultRow `json:"rows"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
	PageCount int                `json:"page_count"`
	Filtered  int                `json:"filtered"`
	Total     int                `json:"total"`
	HasPrev   bool               `json:"has_prev"`
	HasNext   bool               `json:"has_next"`
}

// ClampPage pins page into [1, max(1, ceil(count/size))].
func ClampPage(page, count, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	last := (count + size - 1) / size
	if last < 1 {
		last = 1
	}
	if page < 1 {
		return 1
	}
	if page > last {
		return last
	}
	return page
}

// Apply computes the page for p over rows. It never modifies rows.
func Apply(rows []domain.ResultRow, p Params, unit domain.DateUnit) Page {
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	text := strings.TrimSpace(p.FilterText)
	from, hasFrom := parseBound(p.DateFrom)
	to, hasTo := parseBound(p.DateTo)

	idx := make([]int, 0, len(rows))
	for i, r := range rows {
		if text != "" && !matchesText(r, text) {
			continue
		}
		if hasFrom || hasTo {
			d := domain.DecodeDate(r.DateEncoded, unit).Format("2006-01-02")
			if hasFrom && d < from {
				continue
			}
			if hasTo && d > to {
				continue
			}
		}
		if !fieldMatch(r.Company, p.Company) || !fieldMatch(r.City, p.City) || !fieldMatch(r.Type, p.Type) {
			continue
		}
		idx = append(idx, i)
	}

	if p.SortKey != SortNone {
		less := comparator(rows, p.SortKey, unit)
		desc := p.SortDir == Desc
		sort.SliceStable(idx, func(a, b int) bool {
			c := less(idx[a], idx[b])
			if desc {
				c = -c
			}
			return c < 0
		})
	}

	page := ClampPage(p.Page, len(idx), size)
	start := (page - 1) * size
	end := start + size
	if end > len(idx) {
		end = len(idx)
	}
	out := make([]domain.ResultRow, 0, end-start)
	for _, i := range idx[start:end] {
		out = append(out, rows[i])
	}
	pageCount := ClampPage(len(idx), len(idx), size)
	return Page{
		Rows:      out,
		Page:      page,
		PageSize:  size,
		PageCount: pageCount,
		Filtered:  len(idx),
		Total:     len(rows),
		HasPrev:   page > 1,
		HasNext:   page < pageCount,
	}
}

func matchesText(r domain.ResultRow, text string) bool {
	for _, f := range []string{string(r.AdID), r.Company, r.City, r.Type} {
		if textnorm.Contains(f, text) {
			return true
		}
	}
	return false
}

func fieldMatch(value, filter string) bool {
	filter = strings.TrimSpace(filter)
	return filter == "" || textnorm.Contains(value, filter)
}

func parseBound(s string) (string, bool) {
	t, err := domain.ParseISODate(s)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func comparator(rows []domain.ResultRow, key SortKey, unit domain.DateUnit) func(a, b int) int {
	switch key {
	case SortID:
		return func(a, b int) int { return compareAdID(rows[a].AdID, rows[b].AdID) }
	case SortDate:
		return func(a, b int) int {
			return compareInt(domain.DecodeDate(rows[a].DateEncoded, unit).Unix(), domain.DecodeDate(rows[b].DateEncoded, unit).Unix())
		}
	case SortCompany:
		return func(a, b int) int { return textnorm.Compare(rows[a].Company, rows[b].Company) }
	case SortCity:
		return func(a, b int) int { return textnorm.Compare(rows[a].City, rows[b].City) }
	default:
		return func(a, b int) int { return textnorm.Compare(rows[a].Type, rows[b].Type) }
	}
}

// compareAdID orders numeric ids numerically and ahead of any others.
func compareAdID(a, b domain.AdID) int {
	an, aok := a.Int()
	bn, bok := b.Int()
	switch {
	case aok && bok:
		return compareInt(an, bn)
	case aok:
		return -1
	case bok:
		return 1
	}
	return textnorm.Compare(string(a), string(b))
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// View holds the rows of one search and the current controls. It is safe for
// use from the debouncer's timer goroutine.
type View struct {
	mu     sync.Mutex
	unit   domain.DateUnit
	rows   []domain.ResultRow
	params Params
	page   Page
}

func NewView(pageSize int, unit domain.DateUnit) *View {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	v := &View{unit: unit, params: Params{Page: 1, PageSize: pageSize, SortDir: Asc}}
	v.recompute()
	return v
}

// SetRows replaces the result set and returns to page 1. Controls are kept.
func (v *View) SetRows(rows []domain.ResultRow) Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rows = append([]domain.ResultRow(nil), rows...)
	v.params.Page = 1
	return v.recompute()
}

func (v *View) SetFilterText(text string) Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params.FilterText = text
	return v.recompute()
}

// SetDateBounds sets inclusive ISO bounds; empty clears a bound.
func (v *View) SetDateBounds(from, to string) (Page, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	for _, s := range []string{from, to} {
		if s == "" {
			continue
		}
		if _, err := domain.ParseISODate(s); err != nil {
			return v.Current(), fmt.Errorf("invalid date bound %q", s)
		}
	}
	if from != "" && to != "" && from > to {
		return v.Current(), fmt.Errorf("date bound %s is after %s", from, to)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params.DateFrom, v.params.DateTo = from, to
	return v.recompute(), nil
}

// SetFieldFilter sets the substring filter for company, city or type.
func (v *View) SetFieldFilter(field, value string) (Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch SortKey(strings.ToLower(field)) {
	case SortCompany:
		v.params.Company = value
	case SortCity:
		v.params.City = value
	case SortType:
		v.params.Type = value
	default:
		return v.page, fmt.Errorf("cannot filter on field %q", field)
	}
	return v.recompute(), nil
}

func (v *View) SetSort(key SortKey, dir Direction) Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	if dir == "" {
		dir = Asc
	}
	v.params.SortKey, v.params.SortDir = key, dir
	return v.recompute()
}

func (v *View) SetPageSize(size int) Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	if size <= 0 {
		size = DefaultPageSize
	}
	v.params.PageSize = size
	return v.recompute()
}

func (v *View) SetPage(page int) Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params.Page = page
	return v.recompute()
}

func (v *View) Next() Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params.Page++
	return v.recompute()
}

func (v *View) Prev() Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params.Page--
	return v.recompute()
}

func (v *View) Current() Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

func (v *View) Params() Params {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// recompute requires v.mu.
func (v *View) recompute() Page {
	v.page = Apply(v.rows, v.params, v.unit)
	v.params.Page = v.page.Page
	return v.page
}
