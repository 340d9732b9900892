package session

import (
	"context"
	"errors"
	"time"
)

// Record is the serialized session form exchanged with both tiers.
type Record struct {
	Token     string         `json:"token" bson:"token"`
	UserID    string         `json:"user_id" bson:"user_id"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time      `json:"expires_at" bson:"expires_at"`
	State     map[string]any `json:"state" bson:"state"`
}

// ErrMiss reports a key absent from a tier, as opposed to a tier
// failure. Tier failures degrade to the fallback map; a miss is an
// authoritative "not there".
var ErrMiss = errors.New("session: not found")

// FastTier is the low-latency store holding hot session data. It is
// expected to self-expire entries by TTL; lookups still re-check
// wall-clock expiry on the decoded record.
type FastTier interface {
	Set(ctx context.Context, token string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, token string) ([]byte, error)
	Del(ctx context.Context, token string) error
	// Scan walks every session key in the namespace. Return false from
	// fn to stop early. O(total sessions); administrative use only.
	Scan(ctx context.Context, fn func(token string, data []byte) bool) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// DurableTier is the eventually consistent store mirrored behind the
// fast tier. All writes into it are best-effort.
type DurableTier interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, token string) (*Record, error)
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, userID string) (int, error)
	Clear(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}
