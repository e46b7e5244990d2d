package engine

import (
	"context"
	"errors"

	"github.com/arbiterlabs/ade/pkg/memory"
)

// errFrozen rejects writes against a pinned snapshot.
var errFrozen = errors.New("engine: memory snapshot is read-only")

// frozenMemory serves a single pinned snapshot as a memory.Store. Reads
// answer from the frozen entry regardless of the requested user; replays
// only ever ask for the snapshot's own (platform, user). Writes fail.
type frozenMemory struct {
	snap *memory.Snapshot
}

func (f *frozenMemory) Get(ctx context.Context, platform, userID string) (*memory.Entry, error) {
	if platform != f.snap.Platform || userID != f.snap.UserID {
		return nil, memory.ErrNotFound
	}
	return f.snap.Entry.Clone(), nil
}

func (f *frozenMemory) Put(ctx context.Context, entry *memory.Entry) error { return errFrozen }

func (f *frozenMemory) Apply(ctx context.Context, platform, userID string, updates []memory.Update) error {
	return errFrozen
}

func (f *frozenMemory) RecordInteraction(ctx context.Context, platform, userID string, in memory.Interaction) error {
	return errFrozen
}

func (f *frozenMemory) Snapshot(ctx context.Context, platform, userID string) (*memory.Snapshot, error) {
	return &memory.Snapshot{
		SnapshotID: f.snap.SnapshotID,
		Platform:   f.snap.Platform,
		UserID:     f.snap.UserID,
		TakenAt:    f.snap.TakenAt,
		Entry:      f.snap.Entry.Clone(),
	}, nil
}

func (f *frozenMemory) GetSnapshot(ctx context.Context, snapshotID string) (*memory.Snapshot, error) {
	if snapshotID != f.snap.SnapshotID {
		return nil, memory.ErrNotFound
	}
	return f.Snapshot(ctx, f.snap.Platform, f.snap.UserID)
}
