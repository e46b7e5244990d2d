package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists traces in Redis: one key per trace plus a token index
// key, both under a configurable TTL (zero keeps traces forever).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, prefix: "ade:audit", ttl: ttl}
}

// NewRedisStoreWithClient wraps an existing client, for tests with miniredis
// or a shared connection pool.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "ade:audit", ttl: ttl}
}

func (s *RedisStore) traceKey(decisionID string) string {
	return fmt.Sprintf("%s:trace:%s", s.prefix, decisionID)
}

func (s *RedisStore) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, token)
}

// Store serializes and writes the trace. SETNX on the trace key enforces
// write-once; the token index points back at the decision id.
func (s *RedisStore) Store(ctx context.Context, trace *Trace) error {
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
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("audit: marshal trace: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.traceKey(cp.DecisionID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("audit: redis store: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, cp.DecisionID)
	}
	if cp.ReplayToken != "" {
		if err := s.client.Set(ctx, s.tokenKey(cp.ReplayToken), cp.DecisionID, s.ttl).Err(); err != nil {
			return fmt.Errorf("audit: redis token index: %w", err)
		}
	}
	return nil
}

// Retrieve loads and decodes a trace. Decoding yields a fresh value, which
// satisfies the clone-on-read requirement for free.
func (s *RedisStore) Retrieve(ctx context.Context, decisionID string) (*Trace, error) {
	raw, err := s.client.Get(ctx, s.traceKey(decisionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: redis retrieve: %w", err)
	}
	var t Trace
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("audit: decode stored trace: %w", err)
	}
	return &t, nil
}

// RetrieveByToken resolves the token index, falling back to the token's own
// embedded decision id.
func (s *RedisStore) RetrieveByToken(ctx context.Context, token string) (*Trace, error) {
	id, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		decisionID, _, decErr := DecodeToken(token)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, token)
		}
		return s.Retrieve(ctx, decisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: redis token lookup: %w", err)
	}
	return s.Retrieve(ctx, id)
}

// Exists checks the trace key.
func (s *RedisStore) Exists(ctx context.Context, decisionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.traceKey(decisionID)).Result()
	if err != nil {
		return false, fmt.Errorf("audit: redis exists: %w", err)
	}
	return n > 0, nil
}

// StoreVerification rewrites the trace with the determinism field flipped.
// Read-modify-write on a single key; no cross-key transaction needed.
func (s *RedisStore) StoreVerification(ctx context.Context, decisionID string, verified bool) error {
	t, err := s.Retrieve(ctx, decisionID)
	if err != nil {
		return err
	}
	if verified {
		t.DeterminismVerified = DeterminismVerified
	} else {
		t.DeterminismVerified = DeterminismFailed
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("audit: marshal trace: %w", err)
	}
	if err := s.client.Set(ctx, s.traceKey(decisionID), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("audit: redis verification write: %w", err)
	}
	return nil
}
