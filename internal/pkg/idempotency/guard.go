package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderKey is the request header clients use to tag a submission.
const HeaderKey = "Idempotency-Key"

var (
	ErrDuplicateSubmission = errors.New("duplicate payment submission")
	ErrInvalidKey          = errors.New("invalid idempotency key")
)

// DefaultImplicitTTL bounds how long a submission without an explicit key
// blocks an identical one.
const DefaultImplicitTTL = 30 * time.Second

// Guard rejects a second submission of the same key while the first one is
// remembered.
type Guard struct {
	client      redis.Cmdable
	ttl         time.Duration
	implicitTTL time.Duration
	prefix      string
}

func NewGuard(client redis.Cmdable, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Guard{client: client, ttl: ttl, implicitTTL: DefaultImplicitTTL, prefix: "billing:idem:"}
}

// WithImplicitTTL changes how long derived request fingerprints are kept.
func (g *Guard) WithImplicitTTL(ttl time.Duration) *Guard {
	if ttl > 0 {
		g.implicitTTL = ttl
	}
	return g
}

func (g *Guard) key(scope, key string) string {
	return g.prefix + scope + ":" + strings.TrimSpace(key)
}

// Acquire claims key within scope. An empty key is not guarded.
func (g *Guard) Acquire(ctx context.Context, scope, key string) error {
	return g.acquire(ctx, scope, key, g.ttl)
}

// AcquireImplicit claims a fingerprint derived from the request itself for
// the shorter implicit TTL. It catches double clicks from clients that send
// no Idempotency-Key.
func (g *Guard) AcquireImplicit(ctx context.Context, scope, fingerprint string) error {
	return g.acquire(ctx, scope, fingerprint, g.implicitTTL)
}

func (g *Guard) acquire(ctx context.Context, scope, key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if len(key) > 128 {
		return fmt.Errorf("%w: longer than 128 characters", ErrInvalidKey)
	}
	ok, err := g.client.SetNX(ctx, g.key(scope, key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}
	if !ok {
		return ErrDuplicateSubmission
	}
	return nil
}

// Release forgets key so the client may resubmit, used when a request was
// rejected before anything was stored.
func (g *Guard) Release(ctx context.Context, scope, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return g.client.Del(ctx, g.key(scope, key)).Err()
}
