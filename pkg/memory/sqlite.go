package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arbiterlabs/ade/pkg/canonical"
)

// SQLiteStore persists entries and snapshots in SQLite. Entries are stored
// as JSON blobs keyed by (platform, user_id); the per-key read-modify-write
// happens inside a transaction on the single row, which satisfies the
// shared-resource discipline without cross-key transactions.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	platform   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (platform, user_id)
);

CREATE TABLE IF NOT EXISTS memory_snapshots (
	snapshot_id TEXT PRIMARY KEY,
	platform    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	data        TEXT NOT NULL,
	taken_at    TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize at the pool
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: ensure schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) getEntry(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, platform, userID string) (*Entry, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM memory_entries WHERE platform = ? AND user_id = ?`,
		platform, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: sqlite get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// corrupt rows are treated as absent; memory is non-authoritative
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *SQLiteStore) putEntry(ctx context.Context, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (platform, user_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (platform, user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		e.Platform, e.UserID, string(raw), e.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memory: sqlite put: %w", err)
	}
	return nil
}

// Get returns the stored entry.
func (s *SQLiteStore) Get(ctx context.Context, platform, userID string) (*Entry, error) {
	return s.getEntry(ctx, s.db, platform, userID)
}

// Put replaces the entry wholesale.
func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.UserID == "" {
		return errors.New("memory: entry requires a user id")
	}
	cp := entry.Clone()
	cp.UpdatedAt = s.now()
	return s.putEntry(ctx, cp)
}

// Apply reads, merges, and rewrites the row in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, platform, userID string, updates []Update) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	e, err := s.getEntry(ctx, tx, platform, userID)
	if errors.Is(err, ErrNotFound) {
		e = &Entry{Platform: platform, UserID: userID}
	} else if err != nil {
		return err
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

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_entries (platform, user_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (platform, user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		e.Platform, e.UserID, string(raw), e.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("memory: sqlite apply: %w", err)
	}
	return tx.Commit()
}

// RecordInteraction appends to the bounded history.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, platform, userID string, in Interaction) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback()

	e, err := s.getEntry(ctx, tx, platform, userID)
	if errors.Is(err, ErrNotFound) {
		e = &Entry{Platform: platform, UserID: userID}
	} else if err != nil {
		return err
	}
	e.History = append(e.History, in)
	if len(e.History) > historyLimit {
		e.History = e.History[len(e.History)-historyLimit:]
	}
	e.UpdatedAt = now

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_entries (platform, user_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (platform, user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		e.Platform, e.UserID, string(raw), e.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("memory: sqlite record: %w", err)
	}
	return tx.Commit()
}

// Snapshot captures the current entry under its content hash.
func (s *SQLiteStore) Snapshot(ctx context.Context, platform, userID string) (*Snapshot, error) {
	e, err := s.Get(ctx, platform, userID)
	if errors.Is(err, ErrNotFound) {
		e = &Entry{Platform: platform, UserID: userID}
	} else if err != nil {
		return nil, err
	}

	hash, err := canonical.Hash(map[string]interface{}{
		"platform": e.Platform,
		"user_id":  e.UserID,
		"history":  e.History,
		"custom":   e.Custom,
		"expiry":   e.Expiry,
	})
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		SnapshotID: hash,
		Platform:   platform,
		UserID:     userID,
		TakenAt:    s.now(),
		Entry:      e,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal snapshot: %w", err)
	}
	// content-addressed: an existing id already holds identical content
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_snapshots (snapshot_id, platform, user_id, data, taken_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (snapshot_id) DO NOTHING`,
		snap.SnapshotID, platform, userID, string(raw),
		snap.TakenAt.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("memory: sqlite snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot returns the frozen capture.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM memory_snapshots WHERE snapshot_id = ?`, snapshotID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: sqlite snapshot get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("memory: decode snapshot: %w", err)
	}
	return &snap, nil
}
