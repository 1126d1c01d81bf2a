package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Replay is a stored HTTP response for a client-supplied idempotency key.
type Replay struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ReplayCache lets the transport answer a retried request with the response
// of the first attempt. The ledger itself never deduplicates.
type ReplayCache interface {
	// Reserve claims key for one in-flight request. It returns false when
	// another request already holds it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*Replay, bool, error)
	Set(ctx context.Context, key string, value *Replay, ttl time.Duration) error
}

type NoopReplayCache struct{}

func (NoopReplayCache) Reserve(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopReplayCache) Release(_ context.Context, _ string) error {
	return nil
}

func (NoopReplayCache) Get(_ context.Context, _ string) (*Replay, bool, error) {
	return nil, false, nil
}

func (NoopReplayCache) Set(_ context.Context, _ string, _ *Replay, _ time.Duration) error {
	return nil
}

func lockKey(key string) string {
	return "replay-lock:" + key
}

func valueKey(key string) string {
	return "replay:" + key
}
