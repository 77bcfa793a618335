// Package dialogue is the slot-filling state machine: welcome, date, company,
// optional category, city, then search.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"helpbot/internal/domain"
	"helpbot/internal/endpoint"
	"helpbot/internal/events"
	"helpbot/internal/registry"
	"helpbot/internal/search"
)

type ReplyKind string

const (
	KindMessage ReplyKind = "message"
	KindOptions ReplyKind = "options"
	KindPolicy  ReplyKind = "policy"
	KindError   ReplyKind = "error"
	KindResults ReplyKind = "results"
	KindSummary ReplyKind = "summary"
	KindReset   ReplyKind = "reset"
)

// Reply is one message for the presentation layer.
type Reply struct {
	Kind    ReplyKind          `json:"kind" enum:"message,options,policy,error,results,summary,reset"`
	Text    string             `json:"text"`
	Slot    domain.PickSlot    `json:"slot,omitempty"`
	Options []domain.Option    `json:"options,omitempty"`
	Request *search.Request    `json:"request,omitempty"`
	Rows    []domain.ResultRow `json:"rows,omitempty"`
	Summary *search.Summary    `json:"summary,omitempty"`
}

// Resolver turns free text into slot values.
type Resolver interface {
	ResolveDateRange(ctx context.Context, text string) (domain.DateRange, bool, error)
	ResolveCompany(ctx context.Context, text string) (domain.Resolution, error)
	ResolveCity(ctx context.Context, text string) (domain.Resolution, error)
	ResolveCategory(ctx context.Context, text string) (domain.Resolution, error)
}

// Searcher runs the search once the last slot is filled.
type Searcher interface {
	Fetch(ctx context.Context, req search.Request) ([]domain.ResultRow, error)
	Summarize(ctx context.Context, req search.Request, rows []domain.ResultRow) search.Summary
}

type Config struct {
	CompanyRequired bool
	CategoryEnabled bool
	MaxCandidates   int
	SkipTokens      []string
	ResetTokens     []string
}

type Orchestrator struct {
	Resolver   Resolver
	Search     Searcher
	Classifier Classifier
	Events     events.Writer
	Config     Config
	Logger     *slog.Logger

	skip  tokenSet
	reset tokenSet
}

func New(resolver Resolver, searcher Searcher, classifier Classifier, cfg Config) Orchestrator {
	if cfg.MaxCandidates <= 0 || cfg.MaxCandidates > registry.MaxCandidates {
		cfg.MaxCandidates = registry.MaxCandidates
	}
	if len(cfg.SkipTokens) == 0 {
		cfg.SkipTokens = []string{"skip", "geç", "atla", "yok"}
	}
	if len(cfg.ResetTokens) == 0 {
		cfg.ResetTokens = []string{"reset", "restart", "sıfırla", "yeniden", "baştan"}
	}
	return Orchestrator{
		Resolver:   resolver,
		Search:     searcher,
		Classifier: classifier,
		Config:     cfg,
		skip:       newTokenSet(cfg.SkipTokens),
		reset:      newTokenSet(cfg.ResetTokens),
	}
}

func (o Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// IsReset reports whether text is a reset command.
func (o Orchestrator) IsReset(text string) bool {
	return o.reset.has(text)
}

// HandleText runs one free-text turn and returns the replies in order.
func (o Orchestrator) HandleText(ctx context.Context, s *Session, text string) []Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if o.reset.has(text) {
		return o.Reset(ctx, s)
	}
	st := s.Snapshot()
	switch st.Step {
	case domain.StepWelcome:
		if !s.commit(st.Generation, st.Step, func(x *domain.SessionState) { x.Step = domain.StepDate }) {
			return nil
		}
		o.record(ctx, st, events.TypeDialogueStarted, events.EventPayload{"generation": st.Generation})
		return []Reply{{Kind: KindMessage, Text: msgOrientation + "\n" + msgDateExamples}}
	case domain.StepConfirm, domain.StepDone:
		return []Reply{{Kind: KindPolicy, Text: msgFinished}}
	}

	if o.Classifier != nil && o.Classifier.IsOutOfPolicy(text) {
		o.record(ctx, st, events.TypePolicy, events.EventPayload{"text": text})
		return []Reply{{Kind: KindPolicy, Text: msgPolicy}}
	}
	if st.AwaitingPick != domain.PickNone {
		return []Reply{pickReply(msgPickReminder, st.AwaitingPick, st.Pending)}
	}

	switch st.Step {
	case domain.StepDate:
		return o.handleDate(ctx, s, st, text)
	case domain.StepCompany:
		if o.skip.has(text) {
			if o.Config.CompanyRequired {
				return []Reply{{Kind: KindPolicy, Text: msgSkipRefused}}
			}
			return o.skipSlot(ctx, s, st, domain.PickCompany)
		}
		res, err := o.Resolver.ResolveCompany(ctx, text)
		return o.applyResolution(ctx, s, st, domain.PickCompany, res, err)
	case domain.StepCategory:
		if o.skip.has(text) {
			return o.skipSlot(ctx, s, st, domain.PickCategory)
		}
		res, err := o.Resolver.ResolveCategory(ctx, text)
		return o.applyResolution(ctx, s, st, domain.PickCategory, res, err)
	case domain.StepCity:
		res, err := o.Resolver.ResolveCity(ctx, text)
		return o.applyResolution(ctx, s, st, domain.PickCity, res, err)
	}
	return nil
}

// HandlePick resolves a pending ambiguity with the candidate at index
// (zero-based) without calling the backend.
func (o Orchestrator) HandlePick(ctx context.Context, s *Session, index int) []Reply {
	st := s.Snapshot()
	switch st.Step {
	case domain.StepWelcome, domain.StepConfirm, domain.StepDone:
		return []Reply{{Kind: KindPolicy, Text: msgNothingToPck}}
	}
	if st.AwaitingPick == domain.PickNone || len(st.Pending) == 0 {
		return []Reply{{Kind: KindPolicy, Text: msgNothingToPck}}
	}
	if index < 0 || index >= len(st.Pending) {
		return []Reply{pickReply(msgPickReminder, st.AwaitingPick, st.Pending)}
	}
	return o.fill(ctx, s, st, st.AwaitingPick, st.Pending[index])
}

// Reset reinitializes the session. It is accepted in every state.
func (o Orchestrator) Reset(ctx context.Context, s *Session) []Reply {
	st := s.reset()
	o.record(ctx, st, events.TypeSessionReset, events.EventPayload{"generation": st.Generation})
	return []Reply{{Kind: KindReset, Text: msgReset}}
}

func (o Orchestrator) handleDate(ctx context.Context, s *Session, st domain.SessionState, text string) []Reply {
	dr, ok, err := o.Resolver.ResolveDateRange(ctx, text)
	if !s.current(st.Generation) {
		o.logger().Debug("discarding stale date response", "session", st.ID)
		return nil
	}
	if err != nil {
		return []Reply{o.failure(ctx, st, err)}
	}
	if !ok {
		return []Reply{{Kind: KindMessage, Text: msgDateRetry}}
	}
	if !s.commit(st.Generation, st.Step, func(x *domain.SessionState) {
		x.DateFrom, x.DateTo = dr.From, dr.To
		x.Step = domain.StepCompany
	}) {
		return nil
	}
	o.record(ctx, st, events.TypeSlotFilled, events.EventPayload{"slot": "date", "from": dr.From, "to": dr.To})
	ask := msgAskCompanyOp
	if o.Config.CompanyRequired {
		ask = msgAskCompany
	}
	return []Reply{{Kind: KindMessage, Text: fmt.Sprintf("Tarih aralığı: %s / %s\n%s", dr.From, dr.To, ask)}}
}

func (o Orchestrator) applyResolution(ctx context.Context, s *Session, st domain.SessionState, slot domain.PickSlot, res domain.Resolution, err error) []Reply {
	if !s.current(st.Generation) {
		o.logger().Debug("discarding stale lookup response", "session", st.ID, "slot", slot)
		return nil
	}
	if err != nil {
		return []Reply{o.failure(ctx, st, err)}
	}
	switch res.Kind {
	case domain.Resolved:
		return o.fill(ctx, s, st, slot, res.Option)
	case domain.Ambiguous:
		cands := res.Candidates
		if len(cands) > o.Config.MaxCandidates {
			cands = cands[:o.Config.MaxCandidates]
		}
		if len(cands) == 0 {
			return []Reply{{Kind: KindMessage, Text: msgUnresolved(slot)}}
		}
		cands = append([]domain.Option(nil), cands...)
		if !s.commit(st.Generation, st.Step, func(x *domain.SessionState) {
			x.AwaitingPick = slot
			x.Pending = cands
		}) {
			return nil
		}
		o.record(ctx, st, events.TypeAmbiguity, events.EventPayload{"slot": string(slot), "candidates": len(cands)})
		return []Reply{pickReply(msgPick, slot, cands)}
	default:
		return []Reply{{Kind: KindMessage, Text: msgUnresolved(slot)}}
	}
}

// fill stores opt in slot and advances. Filling the city runs the search.
func (o Orchestrator) fill(ctx context.Context, s *Session, st domain.SessionState, slot domain.PickSlot, opt domain.Option) []Reply {
	next := o.nextStep(st.Step)
	picked := opt
	if !s.commit(st.Generation, st.Step, func(x *domain.SessionState) {
		switch slot {
		case domain.PickCompany:
			x.Company = &picked
		case domain.PickCategory:
			x.Category = &picked
		case domain.PickCity:
			x.City = &picked
		}
		x.AwaitingPick = domain.PickNone
		x.Pending = nil
		x.Step = next
	}) {
		return nil
	}
	o.record(ctx, st, events.TypeSlotFilled, events.EventPayload{"slot": string(slot), "code": opt.Code, "label": opt.Label})
	replies := []Reply{{Kind: KindMessage, Text: msgFilled(slot, opt.Label)}}
	if slot == domain.PickCity {
		return append(replies, o.runSearch(ctx, s, st.Generation)...)
	}
	replies[0].Text += "\n" + o.prompt(next)
	return replies
}

func (o Orchestrator) skipSlot(ctx context.Context, s *Session, st domain.SessionState, slot domain.PickSlot) []Reply {
	next := o.nextStep(st.Step)
	if !s.commit(st.Generation, st.Step, func(x *domain.SessionState) {
		if slot == domain.PickCompany {
			x.Company = nil
		} else {
			x.Category = nil
		}
		x.Step = next
	}) {
		return nil
	}
	o.record(ctx, st, events.TypeSlotFilled, events.EventPayload{"slot": string(slot), "skipped": true})
	return []Reply{{Kind: KindMessage, Text: o.prompt(next)}}
}

// runSearch fixes the rows first (Confirm) and then attaches the summary
// (Done). A failed search keeps the session at City.
func (o Orchestrator) runSearch(ctx context.Context, s *Session, gen uint64) []Reply {
	st := s.Snapshot()
	if st.Generation != gen || st.Step != domain.StepCity {
		return nil
	}
	req, err := search.BuildRequest(st, o.Config.CompanyRequired)
	if err != nil {
		return []Reply{o.failure(ctx, st, err)}
	}
	rows, err := o.Search.Fetch(ctx, req)
	if !s.current(gen) {
		o.logger().Debug("discarding stale search response", "session", st.ID)
		return nil
	}
	if err != nil {
		return []Reply{o.failure(ctx, st, err)}
	}
	if !s.commit(gen, domain.StepCity, func(x *domain.SessionState) { x.Step = domain.StepConfirm }) {
		return nil
	}
	o.record(ctx, st, events.TypeSearch, events.EventPayload{"rows": len(rows), "question": req.Question})
	replies := []Reply{{Kind: KindResults, Text: msgResults(len(rows)), Request: &req, Rows: rows}}

	sum := o.Search.Summarize(ctx, req, rows)
	if !s.commit(gen, domain.StepConfirm, func(x *domain.SessionState) { x.Step = domain.StepDone }) {
		return replies
	}
	o.record(ctx, st, events.TypeSummary, events.EventPayload{"source": string(sum.Source)})
	text := sum.Text
	if text == "" {
		text = sum.Advisory
	}
	return append(replies, Reply{Kind: KindSummary, Text: text, Summary: &sum})
}

func (o Orchestrator) nextStep(step domain.Step) domain.Step {
	switch step {
	case domain.StepDate:
		return domain.StepCompany
	case domain.StepCompany:
		if o.Config.CategoryEnabled {
			return domain.StepCategory
		}
		return domain.StepCity
	case domain.StepCategory:
		return domain.StepCity
	}
	// City stays put until the search has fixed the rows.
	return step
}

func (o Orchestrator) prompt(step domain.Step) string {
	switch step {
	case domain.StepDate:
		return msgOrientation
	case domain.StepCompany:
		if o.Config.CompanyRequired {
			return msgAskCompany
		}
		return msgAskCompanyOp
	case domain.StepCategory:
		return msgAskCategory
	case domain.StepCity:
		return msgAskCity
	}
	return msgFinished
}

func (o Orchestrator) failure(ctx context.Context, st domain.SessionState, err error) Reply {
	var malformed *registry.MalformedError
	text := msgBackendError
	switch {
	case errors.As(err, &malformed):
		text = fmt.Sprintf(msgMalformed, malformed.Endpoint)
	case errors.Is(err, endpoint.ErrUnreachable):
		text = msgUnreachable
	}
	o.logger().Warn("backend call failed", "session", st.ID, "step", st.Step, "err", err)
	o.record(ctx, st, events.TypeBackendError, events.EventPayload{"error": err.Error()})
	return Reply{Kind: KindError, Text: text}
}

func (o Orchestrator) record(ctx context.Context, st domain.SessionState, typ string, payload events.EventPayload) {
	if o.Events.DB == nil {
		return
	}
	evt := events.Event{Type: typ, SessionID: st.ID, Step: string(st.Step), Owner: st.Owner, Payload: payload}
	if err := o.Events.Append(ctx, nil, evt); err != nil {
		o.logger().Warn("event append failed", "type", typ, "err", err)
	}
}

func pickReply(text string, slot domain.PickSlot, opts []domain.Option) Reply {
	return Reply{Kind: KindOptions, Text: text, Slot: slot, Options: append([]domain.Option(nil), opts...)}
}
