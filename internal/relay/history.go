package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"log/slog"

	"chatrelay/internal/app"
)

const historyTTL = 24 * time.Hour

// HistoryCache keeps each room's message history in a redis list so
// replay on (re)join skips the store on the hot path. The store stays the
// source of truth; every method on a nil cache is a miss or a no-op.
type HistoryCache struct {
	rdb *redis.Client
	log *slog.Logger
}

var _ messageCache = (*HistoryCache)(nil)

// NewHistoryCache connects to redis and verifies connectivity
func NewHistoryCache(ctx context.Context, cfg app.Config, log *slog.Logger) (*HistoryCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &HistoryCache{rdb: rdb, log: log}, nil
}

// key namespacing for room history lists
func key(pin string) string { return "room:" + pin + ":history" }

// Append pushes one persisted message onto the room's list
func (c *HistoryCache) Append(ctx context.Context, pin string, m messagePayload) {
	if c == nil {
		return
	}
	raw, _ := json.Marshal(m)
	pipe := c.rdb.Pipeline()
	pipe.RPush(ctx, key(pin), raw)
	pipe.Expire(ctx, key(pin), historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("history.append", "pin", pin, "err", err)
	}
}

// Replay returns the cached history in insertion order; false on a miss
// or any redis error, the caller then reads the store.
func (c *HistoryCache) Replay(ctx context.Context, pin string) ([]messagePayload, bool) {
	if c == nil {
		return nil, false
	}
	raws, err := c.rdb.LRange(ctx, key(pin), 0, -1).Result()
	if err != nil || len(raws) == 0 {
		return nil, false
	}
	out := make([]messagePayload, 0, len(raws))
	for _, raw := range raws {
		var m messagePayload
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

// Fill replaces the room's list with the store's history after a miss
func (c *HistoryCache) Fill(ctx context.Context, pin string, msgs []messagePayload) {
	if c == nil || len(msgs) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key(pin))
	for _, m := range msgs {
		raw, _ := json.Marshal(m)
		pipe.RPush(ctx, key(pin), raw)
	}
	pipe.Expire(ctx, key(pin), historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("history.fill", "pin", pin, "err", err)
	}
}

// Drop discards a deleted room's list
func (c *HistoryCache) Drop(ctx context.Context, pin string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, key(pin)).Err(); err != nil {
		c.log.Warn("history.drop", "pin", pin, "err", err)
	}
}

// Close shuts down the redis connection
func (c *HistoryCache) Close() {
	if c != nil {
		_ = c.rdb.Close()
	}
}
