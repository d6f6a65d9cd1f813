// Package cache provides an optional redis fast path in front of the
// database idempotency lookup. The database remains authoritative; a cache
// miss only costs one extra query.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// replayKeyPrefix namespaces deduction replay entries.
const replayKeyPrefix = "creditrail:deduct:"

// defaultReplayTTL bounds how long a replayed result stays cached.
const defaultReplayTTL = 24 * time.Hour

// ReplayCache caches committed deduction results keyed by request ID.
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplayCache constructs a ReplayCache. A nil client yields a nil cache,
// which every method tolerates.
func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &ReplayCache{client: client, ttl: ttl}
}

// Get returns the cached result payload for a request ID, or nil on miss.
func (c *ReplayCache) Get(ctx context.Context, requestID string) json.RawMessage {
	if c == nil || c.client == nil {
		return nil
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil
	}

	payload, errGet := c.client.Get(ctx, replayKeyPrefix+requestID).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Debug("replay cache: get failed")
		}
		return nil
	}
	if !json.Valid(payload) {
		return nil
	}
	return payload
}

// Set stores a committed result payload for a request ID. Failures are
// logged and swallowed: the cache is never load-bearing.
func (c *ReplayCache) Set(ctx context.Context, requestID string, payload json.RawMessage) {
	if c == nil || c.client == nil {
		return
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || len(payload) == 0 {
		return
	}

	if errSet := c.client.Set(ctx, replayKeyPrefix+requestID, []byte(payload), c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("replay cache: set failed")
	}
}
