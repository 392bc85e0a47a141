package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const outcomesKey = "billing:counters:outcomes"

// Counter keeps per-outcome totals in a Redis hash so every instance
// contributes to the same numbers.
type Counter struct {
	client redis.Cmdable
	key    string
}

func New(client redis.Cmdable) *Counter {
	return &Counter{client: client, key: outcomesKey}
}

// Add increments the pending counter for an outcome
func (c *Counter) Add(ctx context.Context, outcome string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.HIncrBy(ctx, c.key, outcome, 1).Err()
}

// Snapshot reads the current totals without resetting them
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

// Drain returns the totals and resets them.
// Uses RENAME to a temporary key so increments arriving during the drain land in a fresh hash.
func (c *Counter) Drain(ctx context.Context) (map[string]int64, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", c.key, time.Now().UnixNano())
	if err := c.client.Rename(ctx, c.key, tmpKey).Err(); err != nil {
		if err == redis.Nil || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer c.client.Del(ctx, tmpKey)

	data, err := c.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

func parse(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
