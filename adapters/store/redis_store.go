package store

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis NonceLedger shared across bridge instances
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis nonce ledger
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "fundgate:nonce:",
	}
}

var _ ports.NonceLedger = (*RedisStore)(nil)

// Consume marks a nonce as used with SET NX so concurrent logins race safely
func (s *RedisStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	key := s.prefix + nonce

	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !ok {
		return core.ErrNonceUsed
	}

	return nil
}
