package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenDenylist tracks revoked JWT IDs until their natural expiry.
type TokenDenylist struct {
	client *redis.Client
}

// NewTokenDenylist returns redis-backed denylist.
func NewTokenDenylist(client *redis.Client) *TokenDenylist {
	return &TokenDenylist{client: client}
}

func (d *TokenDenylist) key(jti string) string {
	return fmt.Sprintf("auth:denylist:%s", jti)
}

// Revoke marks a token ID as unusable for ttl.
func (d *TokenDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.key(jti), 1, ttl).Err()
}

// IsRevoked reports whether a token ID was revoked.
func (d *TokenDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
