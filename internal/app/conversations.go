package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"helpbot/internal/events"
	"helpbot/internal/metrics"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("conversation belongs to another user")
)

// Conversations holds the server's open conversations.
type Conversations struct {
	svc *Services
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]*Conversation
}

func NewConversations(svc *Services, ttl time.Duration) *Conversations {
	return &Conversations{svc: svc, ttl: ttl, now: time.Now, items: map[string]*Conversation{}}
}

// Open starts a conversation owned by owner, which may be empty.
func (cs *Conversations) Open(ctx context.Context, owner string) *Conversation {
	id := uuid.NewString()
	c := cs.svc.NewConversation(id, owner)
	cs.mu.Lock()
	cs.items[id] = c
	n := len(cs.items)
	cs.mu.Unlock()
	metrics.SetActiveSessions(n)
	cs.record(ctx, c, events.TypeSessionOpened, nil)
	return c
}

// Get returns the conversation when owner may use it. Anonymous
// conversations are open to everyone.
func (cs *Conversations) Get(id, owner string) (*Conversation, error) {
	cs.mu.Lock()
	c, ok := cs.items[id]
	cs.mu.Unlock()
	if !ok {
		return nil, ErrConversationNotFound
	}
	if c.Owner != "" && c.Owner != owner {
		return nil, ErrForbidden
	}
	return c, nil
}

func (cs *Conversations) Close(ctx context.Context, id, owner string) error {
	c, err := cs.Get(id, owner)
	if err != nil {
		return err
	}
	cs.remove(ctx, c, "closed")
	return nil
}

func (cs *Conversations) remove(ctx context.Context, c *Conversation, reason string) {
	cs.mu.Lock()
	delete(cs.items, c.ID)
	n := len(cs.items)
	cs.mu.Unlock()
	c.Close()
	metrics.SetActiveSessions(n)
	cs.record(ctx, c, events.TypeSessionClosed, events.EventPayload{"reason": reason})
}

func (cs *Conversations) record(ctx context.Context, c *Conversation, typ string, payload events.EventPayload) {
	if cs.svc.DB == nil {
		return
	}
	evt := events.Event{
		Type:      typ,
		SessionID: c.ID,
		Step:      string(c.State().Step),
		Owner:     c.Owner,
		Payload:   payload,
	}
	if err := (events.Writer{DB: cs.svc.DB}).Append(ctx, nil, evt); err != nil {
		cs.svc.Logger.Warn("event append failed", "type", evt.Type, "err", err)
	}
}

// Sweep closes conversations idle for longer than the TTL and returns how
// many were closed.
func (cs *Conversations) Sweep(ctx context.Context) int {
	if cs.ttl <= 0 {
		return 0
	}
	cutoff := cs.now().Add(-cs.ttl)
	var idle []*Conversation
	cs.mu.Lock()
	for _, c := range cs.items {
		if c.LastSeen().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	cs.mu.Unlock()
	for _, c := range idle {
		cs.remove(ctx, c, "expired")
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (cs *Conversations) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := cs.Sweep(ctx); n > 0 {
				cs.svc.Logger.Info("expired idle conversations", "count", n)
			}
		}
	}
}

// List returns the conversations visible to owner, oldest first.
func (cs *Conversations) List(owner string) []*Conversation {
	cs.mu.Lock()
	out := make([]*Conversation, 0, len(cs.items))
	for _, c := range cs.items {
		if c.Owner == "" || c.Owner == owner {
			out = append(out, c)
		}
	}
	cs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (cs *Conversations) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.items)
}
