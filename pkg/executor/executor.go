// Package executor defines the skill execution contract and the registry
// that maps execution modes to implementations. The built-in deterministic
// executor renders templates; LLM-backed executors plug in behind the same
// interface.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

var (
	// ErrNoExecutor is returned when no executor serves a mode.
	ErrNoExecutor = errors.New("no executor registered for mode")
	// ErrUnavailable is returned when the resolved executor reports itself
	// unavailable at execution time.
	ErrUnavailable = errors.New("executor unavailable")
)

// Result is the outcome of one skill execution.
type Result struct {
	Success     bool                   `json:"success"`
	Output      *contracts.SkillOutput `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ExecutionMS int64                  `json:"execution_ms"`
	TokenCount  int                    `json:"token_count"`
}

// Executor runs a resolved skill against a SkillInputEnvelope.
type Executor interface {
	// Mode is the execution mode this executor serves.
	Mode() scenario.ExecutionMode
	// IsAvailable reports whether the executor can currently serve calls.
	IsAvailable() bool
	// LatencyEstimate is a rough per-call latency used for budgeting.
	LatencyEstimate() time.Duration
	// Execute runs the skill. Implementations must respect ctx cancellation
	// and the timeout; the pipeline enforces both.
	Execute(ctx context.Context, skillID, version string, input *contracts.SkillInputEnvelope, timeout time.Duration) (*Result, error)
}

// Registry maps execution modes to executors. Read-mostly after startup.
type Registry struct {
	mu        sync.RWMutex
	executors map[scenario.ExecutionMode]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[scenario.ExecutionMode]Executor)}
}

// Register installs an executor for its mode, replacing any previous one.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Mode()] = e
}

// Get returns the executor for a mode.
func (r *Registry) Get(mode scenario.ExecutionMode) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[mode]
	if !ok {
		return nil, ErrNoExecutor
	}
	return e, nil
}

// GetBestAvailable prefers skill_enhanced, then deterministic_only.
func (r *Registry) GetBestAvailable() (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, mode := range []scenario.ExecutionMode{scenario.ModeSkillEnhanced, scenario.ModeDeterministicOnly} {
		if e, ok := r.executors[mode]; ok && e.IsAvailable() {
			return e, nil
		}
	}
	return nil, ErrNoExecutor
}
