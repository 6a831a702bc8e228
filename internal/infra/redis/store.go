package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultUpdateTTL covers Telegram's redelivery horizon for a webhook update.
	DefaultUpdateTTL = 24 * time.Hour
	// DefaultConversionTTL outlives the UTC day a conversion key belongs to.
	DefaultConversionTTL = 48 * time.Hour
)

// setNXer is the subset of redis.Cmdable the store uses.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Store keeps short-lived idempotency markers.
type Store struct {
	client setNXer
}

func NewStore(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func (s *Store) claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// ClaimUpdate returns true the first time an update id is seen.
func (s *Store) ClaimUpdate(ctx context.Context, updateID int) (bool, error) {
	return s.claim(ctx, UpdateKey(updateID), DefaultUpdateTTL)
}

// Claim records a conversion for (user, UTC day) and returns false when one
// was already recorded.
func (s *Store) Claim(ctx context.Context, telegramUserID string, day time.Time) (bool, error) {
	return s.claim(ctx, ConversionKey(telegramUserID, day), DefaultConversionTTL)
}
