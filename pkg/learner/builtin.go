package learner

import (
	"context"

	"github.com/arbiterlabs/ade/pkg/memory"
)

// SelectionHistoryLearner records the final decision per scenario so later
// decisions can read a user's recent trajectory from memory. It is the
// reference learner shipped with the engine.
type SelectionHistoryLearner struct{}

func (SelectionHistoryLearner) LearnerID() string { return "selection-history" }

func (SelectionHistoryLearner) Version() string { return "1.0.0" }

func (SelectionHistoryLearner) Process(ctx context.Context, in Input) (*Result, error) {
	updates := []memory.Update{
		{
			Namespace: "learned.history",
			Key:       in.ScenarioID,
			Value:     in.FinalDecision,
		},
		{
			Namespace:  "learned.history",
			Key:        in.ScenarioID + ".decision_id",
			Value:      in.DecisionID,
			TTLSeconds: 30 * 24 * 3600,
		},
	}
	return &Result{
		MemoryUpdates: updates,
		Metadata: map[string]interface{}{
			"snapshot_id": in.MemorySnapshotID,
		},
	}, nil
}
