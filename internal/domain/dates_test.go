package domain

import "testing"

func TestDecodeDateUnits(t *testing.T) {
	// 2025-05-01 is 23862 days after 1960-01-01.
	days := int64(23862)
	if got := FormatDate(days, UnitDays); got != "2025-05-01" {
		t.Fatalf("days: got %s", got)
	}
	if got := FormatDate(days*86400+3600, UnitSeconds); got != "2025-05-01" {
		t.Fatalf("seconds: got %s", got)
	}
	if got := FormatDate(0, UnitSeconds); got != "1960-01-01" {
		t.Fatalf("epoch: got %s", got)
	}
}

func TestParseUnit(t *testing.T) {
	if u, err := ParseUnit(""); err != nil || u != UnitSeconds {
		t.Fatalf("empty unit: %v %v", u, err)
	}
	if u, err := ParseUnit("DAYS"); err != nil || u != UnitDays {
		t.Fatalf("days unit: %v %v", u, err)
	}
	if _, err := ParseUnit("weeks"); err == nil {
		t.Fatalf("expected error for weeks")
	}
}

func TestDateRangeValid(t *testing.T) {
	cases := []struct {
		r    DateRange
		want bool
	}{
		{DateRange{From: "2025-05-01", To: "2025-05-31"}, true},
		{DateRange{From: "2025-05-01", To: "2025-05-01"}, true},
		{DateRange{From: "2025-06-01", To: "2025-05-31"}, false},
		{DateRange{From: "2025-5-1", To: "2025-05-31"}, false},
		{DateRange{From: "", To: "2025-05-31"}, false},
	}
	for _, c := range cases {
		if got := c.r.Valid(); got != c.want {
			t.Fatalf("%+v: got %v want %v", c.r, got, c.want)
		}
	}
}
