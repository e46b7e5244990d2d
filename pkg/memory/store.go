// Package memory implements the non-authoritative user memory store: per
// (platform, user) entries with interaction history and namespaced custom
// keys, plus content-addressed snapshots taken at decision commit so
// learners and replays see an immutable capture.
//
// Memory is advisory. Every read path tolerates a missing or corrupt entry;
// decisions fall back to declared dimension defaults instead of failing.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/arbiterlabs/ade/pkg/canonical"
	"github.com/arbiterlabs/ade/pkg/contracts"
)

var (
	// ErrNotFound is returned for an unknown entry or snapshot.
	ErrNotFound = errors.New("memory: not found")
)

// Interaction is one past decision outcome kept in the entry history.
type Interaction struct {
	DecisionID string                 `json:"decision_id"`
	ActionID   string                 `json:"action_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Outcome    map[string]interface{} `json:"outcome,omitempty"`
}

// Entry is the per (platform, user) memory record.
type Entry struct {
	Platform  string                 `json:"platform"`
	UserID    string                 `json:"user_id"`
	History   []Interaction          `json:"history,omitempty"`
	Custom    map[string]interface{} `json:"custom,omitempty"`
	Expiry    map[string]time.Time   `json:"expiry,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := &Entry{
		Platform:  e.Platform,
		UserID:    e.UserID,
		UpdatedAt: e.UpdatedAt,
		Custom:    contracts.CloneAnyMap(e.Custom),
	}
	if e.History != nil {
		cp.History = make([]Interaction, len(e.History))
		for i, h := range e.History {
			cp.History[i] = Interaction{
				DecisionID: h.DecisionID,
				ActionID:   h.ActionID,
				Timestamp:  h.Timestamp,
				Outcome:    contracts.CloneAnyMap(h.Outcome),
			}
		}
	}
	if e.Expiry != nil {
		cp.Expiry = make(map[string]time.Time, len(e.Expiry))
		for k, v := range e.Expiry {
			cp.Expiry[k] = v
		}
	}
	return cp
}

// View flattens the entry into a lookup map for `memory.<key>` reads. Keys
// under the learned namespace are also exposed without the prefix, so a
// scenario dimension can name the bare key while learners write the
// namespaced one. Expired keys are dropped.
func (e *Entry) View(now time.Time) map[string]interface{} {
	out := make(map[string]interface{})
	if e == nil {
		return out
	}
	for k, v := range e.Custom {
		if exp, ok := e.Expiry[k]; ok && now.After(exp) {
			continue
		}
		out[k] = v
		if bare := strings.TrimPrefix(k, "learned."); bare != k {
			out[bare] = v
		}
	}
	return out
}

// Update is one key write produced by a learner or an outcome handler.
type Update struct {
	Namespace  string      `json:"namespace"`
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	TTLSeconds int         `json:"ttl_seconds,omitempty"`
}

// Snapshot is the immutable per-decision capture of an entry, addressed by
// the content hash of its cloned state.
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	Platform   string    `json:"platform"`
	UserID     string    `json:"user_id"`
	TakenAt    time.Time `json:"taken_at"`
	Entry      *Entry    `json:"entry"`
}

// Store is the memory persistence contract. Per-key read-modify-write; no
// cross-key transactions.
type Store interface {
	Get(ctx context.Context, platform, userID string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Apply(ctx context.Context, platform, userID string, updates []Update) error
	RecordInteraction(ctx context.Context, platform, userID string, in Interaction) error
	Snapshot(ctx context.Context, platform, userID string) (*Snapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)
}

// historyLimit bounds the per-user interaction history.
const historyLimit = 50

// InMemoryStore is the process-local Store.
type InMemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*Entry    // platform|user -> entry
	snapshots map[string]*Snapshot // snapshot_id -> snapshot
	now       func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:   make(map[string]*Entry),
		snapshots: make(map[string]*Snapshot),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func entryKey(platform, userID string) string { return platform + "|" + userID }

// Get returns a clone of the entry, or ErrNotFound.
func (s *InMemoryStore) Get(ctx context.Context, platform, userID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey(platform, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Put replaces the entry wholesale.
func (s *InMemoryStore) Put(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.UserID == "" {
		return errors.New("memory: entry requires a user id")
	}
	cp := entry.Clone()
	cp.UpdatedAt = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey(cp.Platform, cp.UserID)] = cp
	return nil
}

// Apply performs the per-key read-modify-write for a batch of updates,
// creating the entry if absent. Namespace policy is enforced upstream by
// the learner guard; the store writes what it is given.
func (s *InMemoryStore) Apply(ctx context.Context, platform, userID string, updates []Update) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey(platform, userID)
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Platform: platform, UserID: userID}
		s.entries[key] = e
	}
	if e.Custom == nil {
		e.Custom = make(map[string]interface{})
	}
	for _, u := range updates {
		full := u.Namespace + "." + u.Key
		e.Custom[full] = u.Value
		if u.TTLSeconds > 0 {
			if e.Expiry == nil {
				e.Expiry = make(map[string]time.Time)
			}
			e.Expiry[full] = now.Add(time.Duration(u.TTLSeconds) * time.Second)
		}
	}
	e.UpdatedAt = now
	return nil
}

// RecordInteraction appends to the bounded history.
func (s *InMemoryStore) RecordInteraction(ctx context.Context, platform, userID string, in Interaction) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey(platform, userID)
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Platform: platform, UserID: userID}
		s.entries[key] = e
	}
	e.History = append(e.History, in)
	if len(e.History) > historyLimit {
		e.History = e.History[len(e.History)-historyLimit:]
	}
	e.UpdatedAt = now
	return nil
}

// Snapshot captures the current entry under its content hash. Snapshotting
// a user with no entry captures an empty entry, so learner input always has
// a pin to hand out.
func (s *InMemoryStore) Snapshot(ctx context.Context, platform, userID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryKey(platform, userID)]
	if !ok {
		e = &Entry{Platform: platform, UserID: userID}
	}
	cp := e.Clone()
	// hash the content only; UpdatedAt would make equal memories address
	// differently across time
	hash, err := canonical.Hash(map[string]interface{}{
		"platform": cp.Platform,
		"user_id":  cp.UserID,
		"history":  cp.History,
		"custom":   cp.Custom,
		"expiry":   cp.Expiry,
	})
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		SnapshotID: hash,
		Platform:   platform,
		UserID:     userID,
		TakenAt:    s.now(),
		Entry:      cp,
	}
	s.snapshots[snap.SnapshotID] = snap
	return snap, nil
}

// GetSnapshot returns the frozen capture by content hash.
func (s *InMemoryStore) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Snapshot{
		SnapshotID: snap.SnapshotID,
		Platform:   snap.Platform,
		UserID:     snap.UserID,
		TakenAt:    snap.TakenAt,
		Entry:      snap.Entry.Clone(),
	}, nil
}
