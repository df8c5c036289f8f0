// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lease serialises work per shop using Redis. A Locker hands out
// short-lived per-shop leases so only one worker processes a shop's inbound
// mail at a time, and a Filter remembers which message IDs a shop has
// already consumed so webhook deliveries and poller overlap stay idempotent.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLeaseTTL bounds how long a crashed worker can hold a shop.
	DefaultLeaseTTL = 2 * time.Minute

	// DefaultSeenTTL is how long we remember a consumed message ID in
	// Redis. Postgres enforces uniqueness forever; this is the fast path.
	DefaultSeenTTL = 7 * 24 * time.Hour

	lockPrefix = "shop:lease:"
	seenPrefix = "shop:seen:"
)

// ErrHeld means another worker currently holds the shop's lease.
var ErrHeld = errors.New("shop lease held elsewhere")

// releaseScript deletes the lease only if it still carries our token, so a
// worker that stalled past its TTL cannot release a successor's lease.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Locker hands out per-shop processing leases.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLocker creates a locker backed by Redis.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, ttl: DefaultLeaseTTL}
}

// Acquire takes the lease for a shop. It returns a release func on success
// and ErrHeld when another worker holds it.
func (l *Locker) Acquire(ctx context.Context, shopID uuid.UUID) (func(context.Context) error, error) {
	key := lockPrefix + shopID.String()
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease SETNX: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}

// Filter tracks which message IDs a shop has already consumed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a seen-message filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultSeenTTL}
}

// Seen reports whether the message ID was already consumed for this shop.
// It never marks: a crashed turn must stay retryable on redelivery.
func (f *Filter) Seen(ctx context.Context, shopID uuid.UUID, messageID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, seenKey(shopID, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("seen EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records a consumed message ID. Called after the turn commits;
// the unique message constraint in Postgres remains authoritative.
func (f *Filter) MarkSeen(ctx context.Context, shopID uuid.UUID, messageID string) error {
	if err := f.rdb.Set(ctx, seenKey(shopID, messageID), 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("seen SET: %w", err)
	}
	return nil
}

func seenKey(shopID uuid.UUID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", seenPrefix, shopID, messageID)
}
