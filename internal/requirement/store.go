// internal/requirement/store.go
package requirement

import (
	"fmt"
	"sync"
)

// Store holds a session's requirements. Requirements are never deleted;
// the session archives the whole store when it ends.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*Requirement
	order []string
}

// NewStore builds a store from parsed requirements. IDs must be unique.
func NewStore(reqs []Requirement) (*Store, error) {
	s := &Store{
		byID:  make(map[string]*Requirement, len(reqs)),
		order: make([]string, 0, len(reqs)),
	}
	for i := range reqs {
		r := reqs[i]
		if _, exists := s.byID[r.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		s.byID[r.ID] = &r
		s.order = append(s.order, r.ID)
	}
	return s, nil
}

// Get returns a copy of one requirement.
func (s *Store) Get(id string) (Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Requirement{}, fmt.Errorf("%w: %s", ErrUnknownRequirement, id)
	}
	return cloneRequirement(r), nil
}

// List returns copies of all requirements in source order.
func (s *Store) List() []Requirement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Requirement, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRequirement(s.byID[id]))
	}
	return out
}

// Len returns the number of requirements.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Mark transitions a requirement's status, enforcing the evidence
// invariants: done requires a location, blocked requires a reason.
// Returns copies of the requirement before and after the change.
func (s *Store) Mark(id string, status Status, location *CodeLocation, reason string) (before, after Requirement, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Requirement{}, Requirement{}, fmt.Errorf("%w: %s", ErrUnknownRequirement, id)
	}
	before = cloneRequirement(r)

	switch status {
	case StatusDone:
		if location == nil && len(r.ImplementedIn) == 0 {
			return before, before, fmt.Errorf("%w: requirement %s", ErrMissingEvidence, id)
		}
	case StatusBlocked:
		if reason == "" {
			return before, before, fmt.Errorf("%w: requirement %s", ErrMissingReason, id)
		}
	case StatusPending, StatusInProgress:
	default:
		return before, before, fmt.Errorf("unknown status %q", status)
	}

	r.Status = status
	if location != nil {
		r.ImplementedIn = append(r.ImplementedIn, *location)
	}
	if status == StatusBlocked {
		r.BlockedReason = reason
	} else {
		r.BlockedReason = ""
	}

	return before, cloneRequirement(r), nil
}

// Restore reinstates a previously captured copy of a requirement,
// undoing a mark whose commit did not complete. Unknown IDs are a no-op.
func (s *Store) Restore(r Requirement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return
	}
	clone := cloneRequirement(&r)
	s.byID[r.ID] = &clone
}

func cloneRequirement(r *Requirement) Requirement {
	clone := *r
	clone.ImplementedIn = append([]CodeLocation(nil), r.ImplementedIn...)
	return clone
}
