package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step is the dialogue position of a session.
type Step string

const (
	StepWelcome  Step = "welcome"
	StepDate     Step = "date"
	StepCompany  Step = "company"
	StepCategory Step = "category"
	StepCity     Step = "city"
	StepConfirm  Step = "confirm"
	StepDone     Step = "done"
)

// PickSlot names the slot waiting for an option choice.
type PickSlot string

const (
	PickNone     PickSlot = ""
	PickCompany  PickSlot = "company"
	PickCategory PickSlot = "category"
	PickCity     PickSlot = "city"
)

// Option is a selectable registry entity.
type Option struct {
	Code  int64  `json:"code"`
	Label string `json:"label"`
}

type ResolutionKind string

const (
	Resolved   ResolutionKind = "resolved"
	Ambiguous  ResolutionKind = "ambiguous"
	Unresolved ResolutionKind = "unresolved"
)

// Resolution is the outcome of one entity lookup.
type Resolution struct {
	Kind       ResolutionKind `json:"kind" enum:"resolved,ambiguous,unresolved"`
	Option     Option         `json:"option,omitempty"`
	Candidates []Option       `json:"candidates,omitempty"`
}

type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SessionState is a snapshot of one conversation's slots.
type SessionState struct {
	ID           string   `json:"id"`
	Generation   uint64   `json:"generation"`
	Step         Step     `json:"step" enum:"welcome,date,company,category,city,confirm,done"`
	DateFrom     string   `json:"date_from,omitempty"`
	DateTo       string   `json:"date_to,omitempty"`
	Company      *Option  `json:"company,omitempty"`
	Category     *Option  `json:"category,omitempty"`
	City         *Option  `json:"city,omitempty"`
	AwaitingPick PickSlot `json:"awaiting_pick,omitempty"`
	Pending      []Option `json:"pending,omitempty"`
	Owner        string   `json:"owner,omitempty"`
}

// SearchFilter is the payload sent as "filters" to /search and /answer.
type SearchFilter struct {
	DateFrom    string `json:"date_from,omitempty"`
	DateTo      string `json:"date_to,omitempty"`
	CompanyCode *int64 `json:"company_code,omitempty"`
	CityCode    *int64 `json:"city_code,omitempty"`
	TypeCode    *int64 `json:"type_code,omitempty"`
}

// ResultRow is one search hit as returned by the backend.
type ResultRow struct {
	ID          int64  `json:"id"`
	DateEncoded int64  `json:"date_int"`
	LocID       int64  `json:"loc_id,omitempty"`
	TypeID      int64  `json:"type_id,omitempty"`
	AdID        AdID   `json:"ad_id"`
	Company     string `json:"company"`
	City        string `json:"city"`
	Type        string `json:"type"`
	PDFRef      string `json:"ad_link,omitempty"`
}

// AdID is the announcement number. The backend sends it as a JSON number;
// hand-built datasets sometimes carry it as a string.
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
		*a = AdID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ad_id %s is neither a number nor a string", data)
	}
	*a = AdID(n.String())
	return nil
}

// Int reports the numeric value of an all-digit id.
func (a AdID) Int() (int64, bool) {
	v, err := strconv.ParseInt(string(a), 10, 64)
	return v, err == nil
}

// HealthStatus is the last probe result for a backend base address.
type HealthStatus struct {
	Base      string    `json:"base"`
	OK        bool      `json:"ok"`
	Rows      int64     `json:"rows"`
	CheckedAt time.Time `json:"checked_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Step      string `json:"step,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Payload   string `json:"payload_json"`
}
