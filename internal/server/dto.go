package server

import (
	"helpbot/internal/app"
	"helpbot/internal/dataset"
	"helpbot/internal/dialogue"
	"helpbot/internal/domain"
)

// Request payloads

type SetBackendRequest struct {
	Base  string `json:"base" example:"http://10.0.0.5:8000"`
	Probe bool   `json:"probe,omitempty"`
}

type MessageRequest struct {
	Text string `json:"text" maxLength:"2000"`
}

type PickRequest struct {
	Index int `json:"index" minimum:"0"`
}

// ViewPatchRequest changes some view controls. Absent fields are kept.
type ViewPatchRequest struct {
	FilterText *string `json:"filter_text,omitempty"`
	// Debounce queues the filter text instead of applying it now.
	Debounce bool    `json:"debounce,omitempty"`
	DateFrom *string `json:"date_from,omitempty"`
	DateTo   *string `json:"date_to,omitempty"`
	Company  *string `json:"company,omitempty"`
	City     *string `json:"city,omitempty"`
	Type     *string `json:"type,omitempty"`
	SortKey  *string `json:"sort_key,omitempty" enum:"id,date,company,city,type"`
	SortDir  *string `json:"sort_dir,omitempty" enum:"asc,desc"`
	PageSize *int    `json:"page_size,omitempty" minimum:"1" maximum:"1000"`
	Page     *int    `json:"page,omitempty"`
	Action   string  `json:"action,omitempty" enum:"next,prev"`
}

// Response payloads

type HealthResponse struct {
	Status   string              `json:"status"`
	Backend  domain.HealthStatus `json:"backend"`
	Fresh    bool                `json:"fresh"`
	Sessions int                 `json:"sessions"`
}

type BackendResponse struct {
	Current    string              `json:"current"`
	Candidates []string            `json:"candidates"`
	Health     domain.HealthStatus `json:"health"`
	Fresh      bool                `json:"fresh"`
}

type DiscoverResponse struct {
	Adopted bool   `json:"adopted"`
	Base    string `json:"base"`
	BackendResponse
}

type SessionResponse struct {
	ID      string              `json:"id"`
	Owner   string              `json:"owner,omitempty"`
	State   domain.SessionState `json:"state"`
	Hint    string              `json:"hint,omitempty"`
	HasRows bool                `json:"has_rows"`
}

type TurnResponse struct {
	Replies []dialogue.Reply    `json:"replies"`
	State   domain.SessionState `json:"state"`
}

type ViewResponse struct {
	Params  dataset.Params `json:"params"`
	Page    dataset.Page   `json:"page"`
	Pending bool           `json:"pending"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Step    string         `json:"step,omitempty"`
	Owner   string         `json:"owner,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func sessionResponse(c *app.Conversation, hint string) SessionResponse {
	return SessionResponse{
		ID:      c.ID,
		Owner:   c.Owner,
		State:   c.State(),
		Hint:    hint,
		HasRows: c.View().Current().Total > 0,
	}
}

func turnResponse(c *app.Conversation, replies []dialogue.Reply) TurnResponse {
	if replies == nil {
		replies = []dialogue.Reply{}
	}
	return TurnResponse{Replies: replies, State: c.State()}
}

func viewResponse(v *dataset.View, pending bool) ViewResponse {
	return ViewResponse{Params: v.Params(), Page: v.Current(), Pending: pending}
}
