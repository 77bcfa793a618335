package dialogue

import (
	"sync"

	"helpbot/internal/domain"
)

// Session is one conversation's state. It is only mutated through the
// orchestrator, and its lock is never held across a backend call.
type Session struct {
	mu sync.Mutex
	st domain.SessionState
}

func NewSession(id, owner string) *Session {
	return &Session{st: domain.SessionState{ID: id, Owner: owner, Step: domain.StepWelcome}}
}

// Snapshot returns a deep copy of the state.
func (s *Session) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.st)
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Generation
}

// current reports whether a response issued at gen may still be applied.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Generation == gen
}

// commit applies fn when neither a reset nor another transition happened
// since the snapshot at gen/step was taken.
func (s *Session) commit(gen uint64, step domain.Step, fn func(*domain.SessionState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Generation != gen || s.st.Step != step {
		return false
	}
	fn(&s.st)
	return true
}

// reset clears every slot and bumps the generation.
func (s *Session) reset() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = domain.SessionState{
		ID:         s.st.ID,
		Owner:      s.st.Owner,
		Generation: s.st.Generation + 1,
		Step:       domain.StepWelcome,
	}
	return cloneState(s.st)
}

func cloneState(st domain.SessionState) domain.SessionState {
	out := st
	out.Company = cloneOption(st.Company)
	out.Category = cloneOption(st.Category)
	out.City = cloneOption(st.City)
	if st.Pending != nil {
		out.Pending = append([]domain.Option(nil), st.Pending...)
	}
	return out
}

func cloneOption(o *domain.Option) *domain.Option {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
