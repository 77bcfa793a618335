package app

import (
	"context"
	"sync"
	"time"

	"helpbot/internal/dataset"
	"helpbot/internal/dialogue"
	"helpbot/internal/domain"
)

// Conversation binds one dialogue session to the dataset view of its last
// search. Turns are serialized; Reset is not, so it can overtake a slow turn
// whose result is then discarded.
type Conversation struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	orch     dialogue.Orchestrator
	session  *dialogue.Session
	view     *dataset.View
	debounce *dataset.Debouncer

	turn sync.Mutex
	// mu orders view updates against resets and guards lastSeen.
	mu       sync.Mutex
	lastSeen time.Time
}

func NewConversation(id, owner string, orch dialogue.Orchestrator, pageSize int, debounce time.Duration, unit domain.DateUnit) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		orch:      orch,
		session:   dialogue.NewSession(id, owner),
		view:      dataset.NewView(pageSize, unit),
		debounce:  dataset.NewDebouncer(debounce),
		lastSeen:  now,
	}
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conversation) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Conversation) State() domain.SessionState {
	return c.session.Snapshot()
}

// Text runs one free-text turn. A reset token bypasses the turn lock.
func (c *Conversation) Text(ctx context.Context, text string) []dialogue.Reply {
	c.touch()
	if c.orch.IsReset(text) {
		return c.Reset(ctx)
	}
	c.turn.Lock()
	defer c.turn.Unlock()
	gen := c.session.Generation()
	return c.apply(gen, c.orch.HandleText(ctx, c.session, text))
}

func (c *Conversation) Pick(ctx context.Context, index int) []dialogue.Reply {
	c.touch()
	c.turn.Lock()
	defer c.turn.Unlock()
	gen := c.session.Generation()
	return c.apply(gen, c.orch.HandlePick(ctx, c.session, index))
}

// Reset starts over and drops the previous search's rows.
func (c *Conversation) Reset(ctx context.Context) []dialogue.Reply {
	c.touch()
	c.debounce.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	replies := c.orch.Reset(ctx, c.session)
	c.view.SetRows(nil)
	return replies
}

// apply hands a fresh result set to the view. Replies of a turn that a reset
// overtook belong to the old conversation and are dropped.
func (c *Conversation) apply(gen uint64, replies []dialogue.Reply) []dialogue.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Generation() != gen {
		return nil
	}
	for _, r := range replies {
		if r.Kind == dialogue.KindResults {
			c.debounce.Stop()
			c.view.SetRows(r.Rows)
		}
	}
	return replies
}

func (c *Conversation) View() *dataset.View { return c.view }

// QueueFilterText applies text after the debounce delay; a newer call
// supersedes it.
func (c *Conversation) QueueFilterText(text string) {
	c.touch()
	c.debounce.Schedule(func() { c.view.SetFilterText(text) })
}

// SetFilterText applies text now and drops any queued change.
func (c *Conversation) SetFilterText(text string) dataset.Page {
	c.touch()
	c.debounce.Stop()
	return c.view.SetFilterText(text)
}

func (c *Conversation) FilterPending() bool {
	return c.debounce.Pending()
}

// FlushFilter applies a queued filter change now.
func (c *Conversation) FlushFilter() bool {
	return c.debounce.Flush()
}

func (c *Conversation) Close() {
	c.debounce.Stop()
}
