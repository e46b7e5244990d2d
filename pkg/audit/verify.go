package audit

import (
	"context"
	"fmt"

	"github.com/arbiterlabs/ade/pkg/contracts"
)

// Runner re-executes a stored request through the decision pipeline. The
// engine satisfies this; tests substitute canned responses.
type Runner interface {
	Replay(ctx context.Context, req *contracts.DecisionRequest) (*contracts.DecisionResponse, error)
}

// Verifier re-runs stored decisions and records the determinism verdict.
type Verifier struct {
	store  Store
	runner Runner
}

// NewVerifier wires a verifier to a store and a runner.
func NewVerifier(store Store, runner Runner) *Verifier {
	return &Verifier{store: store, runner: runner}
}

// Verify replays the decision and compares against the stored response.
// The verdict is persisted on the trace either way.
func (v *Verifier) Verify(ctx context.Context, decisionID string) (*ComparisonReport, error) {
	trace, err := v.store.Retrieve(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if trace.Request == nil {
		return nil, fmt.Errorf("audit: trace %s has no stored request", decisionID)
	}

	replayed, err := v.runner.Replay(ctx, trace.Request)
	if err != nil {
		if storeErr := v.store.StoreVerification(ctx, decisionID, false); storeErr != nil {
			return nil, storeErr
		}
		return nil, fmt.Errorf("audit: replay run failed: %w", err)
	}

	report := Compare(trace.Response, replayed)
	if err := v.store.StoreVerification(ctx, decisionID, report.Deterministic); err != nil {
		return nil, err
	}
	return report, nil
}
