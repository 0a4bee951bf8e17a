package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/identity-link-service/internal/core/port"
)

// StateReplayGuard marks external-link states as consumed with SET NX, keyed by the digest of the
// signed state nonce.
// Entries expire with the state so the keyspace stays bounded.
type StateReplayGuard struct {
	client redis.Cmdable
	prefix string
}

// NewStateReplayGuard constructs a guard storing markers under prefix.
func NewStateReplayGuard(client redis.Cmdable, prefix string) *StateReplayGuard {
	return &StateReplayGuard{client: client, prefix: prefix}
}

// Consume returns true the first time nonce is presented and false afterwards.
func (g *StateReplayGuard) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	ok, err := g.client.SetNX(ctx, g.key(nonce), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (g *StateReplayGuard) key(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	digest := hex.EncodeToString(sum[:])
	if g.prefix == "" {
		return digest
	}
	return g.prefix + ":" + digest
}

var _ port.StateReplayGuard = (*StateReplayGuard)(nil)
