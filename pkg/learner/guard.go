package learner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arbiterlabs/ade/pkg/memory"
)

var (
	// ErrIncompleteInput means the input lacks a required field; the
	// learner is never invoked.
	ErrIncompleteInput = errors.New("learner: input missing required field")
	// ErrNamespaceViolation rejects an entire result whose updates touch
	// anything outside the learned namespace.
	ErrNamespaceViolation = errors.New("learner: namespace violation")
	// ErrUpdateFlood rejects a result proposing more updates than the
	// per-dispatch budget.
	ErrUpdateFlood = errors.New("learner: update flood")
)

// allowedNamespace is the only tree learners may write.
const allowedNamespace = "learned"

// forbiddenPrefixes are decision-influencing trees; a namespace that even
// starts with one is rejected regardless of the allowed check.
var forbiddenPrefixes = []string{"scoring.", "guardrails.", "execution.", "scenario."}

// maxUpdatesPerResult bounds a single learner's proposal so one flooding
// learner cannot starve the store or the dispatch loop.
const maxUpdatesPerResult = 100

// ValidateInput is the hard invocation guard: missing any required field
// refuses the invocation, it does not soften to a warning.
func ValidateInput(in Input) error {
	switch {
	case in.DecisionID == "":
		return fmt.Errorf("%w: decision_id", ErrIncompleteInput)
	case in.FinalDecision == "":
		return fmt.Errorf("%w: final_decision", ErrIncompleteInput)
	case in.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp", ErrIncompleteInput)
	case in.MemorySnapshotID == "":
		return fmt.Errorf("%w: memory_snapshot_id", ErrIncompleteInput)
	default:
		return nil
	}
}

// CheckUpdates validates a result's memory updates atomically: the first
// violation rejects the whole batch.
func CheckUpdates(updates []memory.Update) error {
	if len(updates) > maxUpdatesPerResult {
		return fmt.Errorf("%w: %d updates, budget %d", ErrUpdateFlood, len(updates), maxUpdatesPerResult)
	}
	for _, u := range updates {
		if err := checkNamespace(u.Namespace); err != nil {
			return err
		}
		if u.Key == "" {
			return fmt.Errorf("%w: empty key in namespace %q", ErrNamespaceViolation, u.Namespace)
		}
	}
	return nil
}

func checkNamespace(ns string) error {
	for _, p := range forbiddenPrefixes {
		if strings.HasPrefix(ns+".", p) {
			return fmt.Errorf("%w: forbidden namespace %q", ErrNamespaceViolation, ns)
		}
	}
	if ns != allowedNamespace && !strings.HasPrefix(ns, allowedNamespace+".") {
		return fmt.Errorf("%w: namespace %q outside %s.*", ErrNamespaceViolation, ns, allowedNamespace)
	}
	return nil
}
