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

package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentshop/engine/internal/models"
)

// ErrStaleStatus means a guarded update found the shop in a different
// status than expected. The caller lost a race or is replaying old work.
var ErrStaleStatus = errors.New("shop status changed underneath update")

// Store provides CRUD operations for shops, their message history, and
// their accumulated community profiles in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a shop store backed by the given Postgres pool.
// It ensures the shop tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure shop schema: %w", err)
	}
	slog.Info("shop store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS shops (
			id                UUID PRIMARY KEY,
			target_id         UUID NOT NULL,
			persona_id        UUID NOT NULL,
			status            TEXT NOT NULL DEFAULT 'created',
			failure_reason    TEXT DEFAULT '',
			follow_up_count   INT NOT NULL DEFAULT 0,
			unparsable_count  INT NOT NULL DEFAULT 0,
			deadline_extended BOOLEAN NOT NULL DEFAULT FALSE,
			response_deadline TIMESTAMPTZ,
			thread_id         TEXT DEFAULT '',
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW(),
			completed_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_shops_status ON shops(status);
		CREATE INDEX IF NOT EXISTS idx_shops_deadline ON shops(response_deadline);
		CREATE INDEX IF NOT EXISTS idx_shops_thread ON shops(thread_id);

		CREATE TABLE IF NOT EXISTS shop_messages (
			id          BIGSERIAL PRIMARY KEY,
			shop_id     UUID NOT NULL REFERENCES shops(id),
			external_id TEXT NOT NULL,
			direction   TEXT NOT NULL,
			type        TEXT NOT NULL,
			subject     TEXT DEFAULT '',
			body        TEXT DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(shop_id, external_id)
		);
		CREATE INDEX IF NOT EXISTS idx_shop_messages_shop ON shop_messages(shop_id);

		CREATE TABLE IF NOT EXISTS community_profiles (
			shop_id    UUID PRIMARY KEY REFERENCES shops(id),
			profile    JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Create inserts a new shop in status 'created'.
func (s *Store) Create(ctx context.Context, sh Shop) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shops (id, target_id, persona_id, status)
		VALUES ($1, $2, $3, $4)
	`, sh.ID, sh.TargetID, sh.PersonaID, StatusCreated)
	return err
}

// Get retrieves a shop by ID. Returns (nil, nil) when no shop exists.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Shop, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, target_id, persona_id, status, failure_reason,
		       follow_up_count, unparsable_count, deadline_extended,
		       response_deadline, thread_id, created_at, updated_at, completed_at
		FROM shops
		WHERE id = $1
	`, id)
	return scanShop(row)
}

// GetByThread retrieves the shop owning a provider thread ID.
// Returns (nil, nil) when no shop claims the thread.
func (s *Store) GetByThread(ctx context.Context, threadID string) (*Shop, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, target_id, persona_id, status, failure_reason,
		       follow_up_count, unparsable_count, deadline_extended,
		       response_deadline, thread_id, created_at, updated_at, completed_at
		FROM shops
		WHERE thread_id = $1
	`, threadID)
	return scanShop(row)
}

// GetByMessageID resolves the shop that owns a message external ID, used
// when inbound mail carries In-Reply-To but no thread the store knows.
// Returns (nil, nil) when no shop recorded the message.
func (s *Store) GetByMessageID(ctx context.Context, externalID string) (*Shop, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT sh.id, sh.target_id, sh.persona_id, sh.status, sh.failure_reason,
		       sh.follow_up_count, sh.unparsable_count, sh.deadline_extended,
		       sh.response_deadline, sh.thread_id, sh.created_at, sh.updated_at, sh.completed_at
		FROM shops sh
		JOIN shop_messages m ON m.shop_id = sh.id
		WHERE m.external_id = $1
	`, externalID)
	return scanShop(row)
}

// ClaimThread stamps the provider conversation id on a shop that does not
// have one yet. The first resolved reply establishes the thread; later
// claims are no-ops.
func (s *Store) ClaimThread(ctx context.Context, id uuid.UUID, threadID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET thread_id = $1, updated_at = NOW()
		WHERE id = $2 AND thread_id = ''
	`, threadID, id)
	return err
}

// Transition moves a shop from one status to another. The move must be
// legal per the transition table and the shop must still be in the
// expected status; otherwise ErrStaleStatus is returned and nothing
// changes. Terminal moves stamp completed_at.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET status = $1,
		    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from, to.IsTerminal())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// Fail moves a shop to 'failed' from whatever non-terminal status it holds,
// recording the reason. Failing an already-terminal shop is a no-op.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET status = $1, failure_reason = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5, $6)
	`, StatusFailed, reason, id, StatusCompleted, StatusFailed, StatusTimedOut)
	return err
}

// TimeOut moves a shop to 'timed_out' if it is still waiting on the agent.
// Returns false when the shop moved on before the sweeper got to it.
func (s *Store) TimeOut(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET status = $1, failure_reason = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)
	`, StatusTimedOut, reason, id, StatusAwaitingResponse, StatusFollowUpNeeded)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetReason records a human-readable note on a shop, used for best-effort
// completions that still miss fields.
func (s *Store) SetReason(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET failure_reason = $1, updated_at = NOW()
		WHERE id = $2
	`, reason, id)
	return err
}

// MarkSent records a successful outbound delivery: thread ID on first send,
// a fresh response deadline, and the follow-up counter for follow-ups.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, threadID string, deadline time.Time, followUp bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET thread_id = CASE WHEN thread_id = '' THEN $1 ELSE thread_id END,
		    response_deadline = $2,
		    deadline_extended = FALSE,
		    follow_up_count = follow_up_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $4
	`, threadID, deadline, followUp, id)
	return err
}

// ExtendDeadline pushes the response deadline out once per awaited reply,
// used when the only reply so far is an auto-responder. Returns false when
// the extension was already spent.
func (s *Store) ExtendDeadline(ctx context.Context, id uuid.UUID, deadline time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET response_deadline = $1, deadline_extended = TRUE, updated_at = NOW()
		WHERE id = $2 AND deadline_extended = FALSE
	`, deadline, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementUnparsable bumps the consecutive-unparsable counter and returns
// the new value.
func (s *Store) IncrementUnparsable(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE shops
		SET unparsable_count = unparsable_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING unparsable_count
	`, id).Scan(&n)
	return n, err
}

// ResetUnparsable clears the consecutive-unparsable counter after a reply
// parses successfully.
func (s *Store) ResetUnparsable(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE shops
		SET unparsable_count = 0, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// RecordMessage appends a message to a shop's history. Duplicate external
// IDs are silently dropped; the return value reports whether the row was new.
func (s *Store) RecordMessage(ctx context.Context, m Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO shop_messages (shop_id, external_id, direction, type, subject, body, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (shop_id, external_id) DO NOTHING
	`, m.ShopID, m.ExternalID, m.Direction, m.Type, m.Subject, m.Body, m.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListMessages returns a shop's conversation oldest-first.
func (s *Store) ListMessages(ctx context.Context, shopID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, shop_id, external_id, direction, type, subject, body, received_at, created_at
		FROM shop_messages
		WHERE shop_id = $1
		ORDER BY received_at, id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ShopID, &m.ExternalID, &m.Direction, &m.Type,
			&m.Subject, &m.Body, &m.ReceivedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveProfile upserts the accumulated community profile for a shop.
func (s *Store) SaveProfile(ctx context.Context, shopID uuid.UUID, p *models.CommunityProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO community_profiles (shop_id, profile)
		VALUES ($1, $2)
		ON CONFLICT (shop_id) DO UPDATE SET
			profile    = EXCLUDED.profile,
			updated_at = NOW()
	`, shopID, data)
	return err
}

// GetProfile returns a shop's accumulated profile, or (nil, nil) when no
// data has been extracted yet.
func (s *Store) GetProfile(ctx context.Context, shopID uuid.UUID) (*models.CommunityProfile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT profile FROM community_profiles WHERE shop_id = $1
	`, shopID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.CommunityProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

// ListPastDeadline returns shops whose response deadline has lapsed while
// waiting on the agent.
func (s *Store) ListPastDeadline(ctx context.Context, now time.Time) ([]Shop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_id, persona_id, status, failure_reason,
		       follow_up_count, unparsable_count, deadline_extended,
		       response_deadline, thread_id, created_at, updated_at, completed_at
		FROM shops
		WHERE status IN ($1, $2)
		  AND response_deadline IS NOT NULL
		  AND response_deadline < $3
		ORDER BY response_deadline
	`, StatusAwaitingResponse, StatusFollowUpNeeded, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shop
	for rows.Next() {
		sh, err := scanShopRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

// ListByStatus returns shops currently in the given status.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Shop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_id, persona_id, status, failure_reason,
		       follow_up_count, unparsable_count, deadline_extended,
		       response_deadline, thread_id, created_at, updated_at, completed_at
		FROM shops
		WHERE status = $1
		ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shop
	for rows.Next() {
		sh, err := scanShopRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

func scanShop(row pgx.Row) (*Shop, error) {
	sh, err := scanShopRows(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return sh, err
}

func scanShopRows(row pgx.Row) (*Shop, error) {
	var sh Shop
	err := row.Scan(
		&sh.ID, &sh.TargetID, &sh.PersonaID, &sh.Status, &sh.FailureReason,
		&sh.FollowUpCount, &sh.UnparsableCount, &sh.DeadlineExtended,
		&sh.ResponseDeadline, &sh.ThreadID, &sh.CreatedAt, &sh.UpdatedAt, &sh.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}
