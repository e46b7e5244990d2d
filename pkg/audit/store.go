package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when no trace exists for an id or token.
	ErrNotFound = errors.New("audit: trace not found")
	// ErrDuplicate is returned on a second store for the same decision id.
	ErrDuplicate = errors.New("audit: trace already stored")
)

// Store persists decision traces. Implementations must keep stored traces
// immutable: deep-clone on write and on read, so neither the pipeline nor a
// reader can alter a committed trace.
type Store interface {
	Store(ctx context.Context, trace *Trace) error
	Retrieve(ctx context.Context, decisionID string) (*Trace, error)
	RetrieveByToken(ctx context.Context, token string) (*Trace, error)
	Exists(ctx context.Context, decisionID string) (bool, error)
	StoreVerification(ctx context.Context, decisionID string, verified bool) error
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	traces  map[string]*Trace // decision_id -> trace
	byToken map[string]string // replay_token -> decision_id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces:  make(map[string]*Trace),
		byToken: make(map[string]string),
	}
}

// Store clones and files the trace. Duplicate decision ids are rejected so
// the pipeline's write-once invariant is enforced at the storage boundary.
func (s *MemoryStore) Store(ctx context.Context, trace *Trace) error {
	if trace == nil || trace.DecisionID == "" {
		return fmt.Errorf("audit: cannot store trace without decision_id")
	}
	cp, err := trace.Clone()
	if err != nil {
		return err
	}
	if cp.DeterminismVerified == "" {
		cp.DeterminismVerified = DeterminismUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[cp.DecisionID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, cp.DecisionID)
	}
	s.traces[cp.DecisionID] = cp
	if cp.ReplayToken != "" {
		s.byToken[cp.ReplayToken] = cp.DecisionID
	}
	return nil
}

// Retrieve returns a clone of the stored trace.
func (s *MemoryStore) Retrieve(ctx context.Context, decisionID string) (*Trace, error) {
	s.mu.RLock()
	t, ok := s.traces[decisionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, decisionID)
	}
	return t.Clone()
}

// RetrieveByToken resolves a replay token to its trace.
func (s *MemoryStore) RetrieveByToken(ctx context.Context, token string) (*Trace, error) {
	s.mu.RLock()
	id, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		// tokens are self-describing; fall back to decoding for traces
		// stored before the token index existed
		decisionID, _, err := DecodeToken(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, token)
		}
		return s.Retrieve(ctx, decisionID)
	}
	return s.Retrieve(ctx, id)
}

// Exists reports whether a trace is stored for the decision id.
func (s *MemoryStore) Exists(ctx context.Context, decisionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.traces[decisionID]
	return ok, nil
}

// StoreVerification flips the determinism tri-state on a stored trace. This
// is the only mutation a committed trace ever sees.
func (s *MemoryStore) StoreVerification(ctx context.Context, decisionID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[decisionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, decisionID)
	}
	if verified {
		t.DeterminismVerified = DeterminismVerified
	} else {
		t.DeterminismVerified = DeterminismFailed
	}
	return nil
}
