// Package ledger records provider message ids of delivered scheduled messages in Redis,
// so a retried dispatch can detect that the provider already accepted the message.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "scheduled:sent:"

// RedisLedger stores sent markers with a TTL.
type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLedger creates a ledger backed by rdb. Entries expire after ttl.
func NewRedisLedger(rdb *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	SID    string    `json:"sid"`
	SentAt time.Time `json:"sentAt"`
}

func key(itemID string) string {
	return keyPrefix + itemID
}

// Record stores the provider id for a delivered scheduled message.
func (l *RedisLedger) Record(ctx context.Context, itemID, sid string, sentAt time.Time) error {
	b, err := json.Marshal(sentValue{SID: sid, SentAt: sentAt.UTC()})
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	if err := l.rdb.Set(ctx, key(itemID), b, l.ttl).Err(); err != nil {
		return fmt.Errorf("store ledger entry: %w", err)
	}
	return nil
}

// Lookup returns the provider id recorded for itemID, if any.
func (l *RedisLedger) Lookup(ctx context.Context, itemID string) (string, bool, error) {
	raw, err := l.rdb.Get(ctx, key(itemID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get ledger entry: %w", err)
	}

	var v sentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false, fmt.Errorf("decode ledger entry: %w", err)
	}
	return v.SID, v.SID != "", nil
}
