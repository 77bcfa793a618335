package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Dialogue event types.
const (
	TypeSessionOpened   = "session.opened"
	TypeSessionClosed   = "session.closed"
	TypeSessionReset    = "session.reset"
	TypeDialogueStarted = "dialogue.started"
	TypeSlotFilled      = "slot.filled"
	TypeAmbiguity       = "slot.ambiguous"
	TypePolicy          = "policy.reminder"
	TypeSearch          = "search.completed"
	TypeSummary         = "summary.delivered"
	TypeBackendError    = "backend.error"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row of the dialogue log.
type Event struct {
	Type      string
	SessionID string
	Step      string
	Owner     string
	Payload   EventPayload
}

// Append writes evt inside tx, or directly on the DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	payload := evt.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	const q = `INSERT INTO events(ts,type,session_id,step,owner,payload_json) VALUES (?,?,?,?,?,?)`
	args := []any{ts, evt.Type, nullable(evt.SessionID), nullable(evt.Step), nullable(evt.Owner), string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
		return err
	}
	if w.DB == nil {
		return fmt.Errorf("events writer has no database")
	}
	_, err = w.DB.ExecContext(ctx, q, args...)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
