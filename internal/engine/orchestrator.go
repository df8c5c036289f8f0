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

// Package engine drives secret shops end to end: it opens the conversation
// with an AI-composed inquiry, consumes agent replies, accumulates the
// community profile, decides follow-ups, and settles every shop into a
// terminal status. All per-shop work happens under a Redis lease so
// concurrent deliveries of the same reply stay idempotent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rentshop/engine/internal/ai"
	"github.com/rentshop/engine/internal/lease"
	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/mailparse"
	"github.com/rentshop/engine/internal/models"
	"github.com/rentshop/engine/internal/profile"
	"github.com/rentshop/engine/internal/report"
	"github.com/rentshop/engine/internal/shop"
)

// ShopStore is the persistence surface the orchestrator needs.
// Implemented by shop.Store.
type ShopStore interface {
	Create(ctx context.Context, sh shop.Shop) error
	Get(ctx context.Context, id uuid.UUID) (*shop.Shop, error)
	GetByThread(ctx context.Context, threadID string) (*shop.Shop, error)
	GetByMessageID(ctx context.Context, externalID string) (*shop.Shop, error)
	ClaimThread(ctx context.Context, id uuid.UUID, threadID string) error
	Transition(ctx context.Context, id uuid.UUID, from, to shop.Status) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	TimeOut(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	SetReason(ctx context.Context, id uuid.UUID, reason string) error
	MarkSent(ctx context.Context, id uuid.UUID, threadID string, deadline time.Time, followUp bool) error
	ExtendDeadline(ctx context.Context, id uuid.UUID, deadline time.Time) (bool, error)
	IncrementUnparsable(ctx context.Context, id uuid.UUID) (int, error)
	ResetUnparsable(ctx context.Context, id uuid.UUID) error
	RecordMessage(ctx context.Context, m shop.Message) (bool, error)
	ListMessages(ctx context.Context, shopID uuid.UUID) ([]shop.Message, error)
	SaveProfile(ctx context.Context, shopID uuid.UUID, p *models.CommunityProfile) error
	GetProfile(ctx context.Context, shopID uuid.UUID) (*models.CommunityProfile, error)
	ListPastDeadline(ctx context.Context, now time.Time) ([]shop.Shop, error)
}

// Directory resolves the targets and personas shops are built from.
// Implemented by registry.Store.
type Directory interface {
	GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error)
	GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error)
}

// Composer writes persona email. Implemented by ai.Composer.
type Composer interface {
	ComposeInquiry(ctx context.Context, persona *models.Persona, target *models.Target) (*ai.Draft, error)
	ComposeFollowUp(ctx context.Context, persona *models.Persona, target *models.Target, history []ai.Turn, gaps []string) (*ai.Draft, error)
}

// Extractor pulls structured community data out of reply text.
// Implemented by ai.Extractor.
type Extractor interface {
	Extract(ctx context.Context, target models.Target, body string) (*models.CommunityProfile, error)
}

// Locker hands out per-shop processing leases. Implemented by lease.Locker.
type Locker interface {
	Acquire(ctx context.Context, shopID uuid.UUID) (func(context.Context) error, error)
}

// SeenFilter remembers consumed message IDs. Implemented by lease.Filter.
// Seen is a read-only check; MarkSeen records a message only after its
// turn has committed, so a failed turn stays retryable on redelivery.
type SeenFilter interface {
	Seen(ctx context.Context, shopID uuid.UUID, messageID string) (bool, error)
	MarkSeen(ctx context.Context, shopID uuid.UUID, messageID string) error
}

// Reporter publishes finished shops. Implemented by report.Publisher.
type Reporter interface {
	PublishResult(ctx context.Context, result *report.Result) error
}

// Policy holds the conversation limits for every shop.
type Policy struct {
	ResponseDeadline time.Duration
	MaxFollowUps     int
	UnparsableLimit  int
	RequiredFields   []string
}

// Orchestrator coordinates one shop lifecycle across the mail, AI, and
// storage collaborators.
type Orchestrator struct {
	Shops     ShopStore
	Directory Directory
	Composer  Composer
	Extractor Extractor
	Sender    mailer.Sender
	Locks     Locker
	Seen      SeenFilter
	Reporter  Reporter
	Policy    Policy

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// StartShop creates a shop for a target/persona pair, composes the opening
// inquiry, and delivers it. On return the shop is awaiting the agent's
// first reply, or already failed with a recorded reason.
func (o *Orchestrator) StartShop(ctx context.Context, targetID, personaID uuid.UUID) (*shop.Shop, error) {
	target, err := o.Directory.GetTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	if target == nil {
		return nil, &InvalidInputError{Entity: "target", ID: targetID}
	}
	persona, err := o.Directory.GetPersona(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	if persona == nil {
		return nil, &InvalidInputError{Entity: "persona", ID: personaID}
	}

	sh := shop.Shop{
		ID:        uuid.New(),
		TargetID:  targetID,
		PersonaID: personaID,
		Status:    shop.StatusCreated,
	}
	if err := o.Shops.Create(ctx, sh); err != nil {
		return nil, fmt.Errorf("create shop: %w", err)
	}

	slog.Info("shop started", "shop", sh.ID, "target", target.Name, "persona", persona.FullName())

	draft, err := o.Composer.ComposeInquiry(ctx, persona, target)
	if err != nil {
		o.fail(ctx, sh.ID, "inquiry composition failed: "+err.Error())
		return nil, err
	}

	sent, err := o.Sender.Send(ctx, mailer.Outbound{
		FromMailbox: persona.EmailAddress,
		To:          target.EmailAddress,
		Subject:     draft.Subject,
		Body:        draft.Body,
	})
	if err != nil {
		o.fail(ctx, sh.ID, "inquiry delivery failed: "+err.Error())
		return nil, err
	}

	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusCreated, shop.StatusInquirySent); err != nil {
		return nil, fmt.Errorf("record inquiry sent: %w", err)
	}
	deadline := o.now().Add(o.Policy.ResponseDeadline)
	if err := o.Shops.MarkSent(ctx, sh.ID, sent.ThreadID, deadline, false); err != nil {
		return nil, fmt.Errorf("record send: %w", err)
	}
	if _, err := o.Shops.RecordMessage(ctx, shop.Message{
		ShopID:     sh.ID,
		ExternalID: sent.ExternalID,
		Direction:  shop.DirectionOutbound,
		Type:       shop.TypeInquiry,
		Subject:    draft.Subject,
		Body:       draft.Body,
		ReceivedAt: o.now(),
	}); err != nil {
		return nil, fmt.Errorf("record inquiry message: %w", err)
	}
	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusInquirySent, shop.StatusAwaitingResponse); err != nil {
		return nil, fmt.Errorf("await response: %w", err)
	}

	return o.Shops.Get(ctx, sh.ID)
}

// IngestInbound consumes one inbound email for a shop. shopID may be
// uuid.Nil, in which case the owning shop is resolved from the thread and
// reply headers; mail that resolves to no shop is dropped. Re-deliveries
// of already-consumed messages are no-ops.
func (o *Orchestrator) IngestInbound(ctx context.Context, shopID uuid.UUID, email *models.InboundEmail) error {
	if email == nil || email.MessageID == "" {
		return &InvalidInputError{Entity: "inbound email"}
	}
	email.MessageID = models.TrimMessageID(email.MessageID)

	sh, err := o.resolveShop(ctx, shopID, email)
	if err != nil {
		return err
	}
	if sh == nil {
		slog.Debug("inbound email matches no shop", "message_id", email.MessageID)
		return nil
	}
	if sh.Status.IsTerminal() {
		slog.Debug("dropping mail for finished shop", "shop", sh.ID, "message_id", email.MessageID)
		return nil
	}

	release, err := o.Locks.Acquire(ctx, sh.ID)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			slog.Debug("shop lease held, deferring message", "shop", sh.ID, "message_id", email.MessageID)
			return nil
		}
		return fmt.Errorf("acquire shop lease: %w", err)
	}
	defer func() {
		if err := release(ctx); err != nil {
			slog.Warn("release shop lease failed", "shop", sh.ID, "error", err)
		}
	}()

	// Re-read under the lease; a racing worker may have finished the shop.
	sh, err = o.Shops.Get(ctx, sh.ID)
	if err != nil {
		return fmt.Errorf("reload shop: %w", err)
	}
	if sh == nil || sh.Status.IsTerminal() {
		return nil
	}

	seen, err := o.Seen.Seen(ctx, sh.ID, email.MessageID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		slog.Debug("duplicate message dropped", "shop", sh.ID, "message_id", email.MessageID)
		return nil
	}

	// Graph reports the conversation id only on inbound mail; adopt it the
	// first time a reply lands so later replies resolve by thread.
	if sh.ThreadID == "" && email.ThreadID != "" {
		if err := o.Shops.ClaimThread(ctx, sh.ID, email.ThreadID); err != nil {
			return fmt.Errorf("claim thread: %w", err)
		}
		sh.ThreadID = email.ThreadID
	}

	if err := o.consume(ctx, sh, email); err != nil {
		return err
	}

	// Marking happens only after the turn committed; a failure above leaves
	// the message retryable, and the unique message constraint in Postgres
	// stays the authoritative dedup.
	if err := o.Seen.MarkSeen(ctx, sh.ID, email.MessageID); err != nil {
		slog.Warn("mark message seen failed", "shop", sh.ID, "message_id", email.MessageID, "error", err)
	}
	return nil
}

// consume processes one deduplicated inbound message for a live shop held
// under its lease.
func (o *Orchestrator) consume(ctx context.Context, sh *shop.Shop, email *models.InboundEmail) error {
	persona, err := o.Directory.GetPersona(ctx, sh.PersonaID)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	if persona == nil {
		return &InvalidInputError{Entity: "persona", ID: sh.PersonaID}
	}
	target, err := o.Directory.GetTarget(ctx, sh.TargetID)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}
	if target == nil {
		return &InvalidInputError{Entity: "target", ID: sh.TargetID}
	}

	parsed, perr := mailparse.Parse(email, persona.EmailAddress)

	// Auto-responders are not conversation turns: extend the deadline once
	// and keep waiting for a human.
	if errors.Is(perr, mailparse.ErrAutoReply) {
		extended, err := o.Shops.ExtendDeadline(ctx, sh.ID, o.now().Add(o.Policy.ResponseDeadline))
		if err != nil {
			return fmt.Errorf("extend deadline: %w", err)
		}
		slog.Info("auto-reply received", "shop", sh.ID, "message_id", email.MessageID, "deadline_extended", extended)
		return nil
	}

	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusAwaitingResponse, shop.StatusParsing); err != nil {
		if errors.Is(err, shop.ErrStaleStatus) {
			slog.Debug("shop not awaiting a reply, dropping message", "shop", sh.ID, "status", sh.Status)
			return nil
		}
		return fmt.Errorf("enter parsing: %w", err)
	}

	if errors.Is(perr, mailparse.ErrUnparsable) {
		return o.handleUnusable(ctx, sh, email, email.Body.Content, "unparsable reply")
	}
	if perr != nil {
		return fmt.Errorf("parse inbound email: %w", perr)
	}

	// The persona's own mail shows up in shared-mailbox sweeps; outbound
	// turns were recorded at send time, so just stop waiting on them.
	if parsed.Classification != mailparse.ClassResponse {
		return o.backToWaiting(ctx, sh.ID)
	}

	recorded, err := o.Shops.RecordMessage(ctx, shop.Message{
		ShopID:     sh.ID,
		ExternalID: email.MessageID,
		Direction:  shop.DirectionInbound,
		Type:       shop.TypeResponse,
		Subject:    email.Subject,
		Body:       parsed.CleanBody,
		ReceivedAt: receivedAt(email, o.now()),
	})
	if err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	if !recorded {
		return o.backToWaiting(ctx, sh.ID)
	}

	partial, xerr := o.Extractor.Extract(ctx, *target, parsed.CleanBody)
	if xerr != nil {
		slog.Warn("extraction failed", "shop", sh.ID, "message_id", email.MessageID, "error", xerr)
		return o.countUnusable(ctx, sh, email.MessageID, "extraction failed repeatedly")
	}
	if err := o.Shops.ResetUnparsable(ctx, sh.ID); err != nil {
		return fmt.Errorf("reset unparsable count: %w", err)
	}

	merged, err := o.mergeProfile(ctx, sh.ID, partial)
	if err != nil {
		return err
	}
	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusParsing, shop.StatusDataMerged); err != nil {
		return fmt.Errorf("record merge: %w", err)
	}

	return o.decideNext(ctx, sh, persona, target, merged, email.MessageID)
}

// TickTimeouts settles every shop whose response deadline lapsed while
// waiting on the agent. Shops that progressed in the meantime are skipped.
func (o *Orchestrator) TickTimeouts(ctx context.Context) error {
	lapsed, err := o.Shops.ListPastDeadline(ctx, o.now())
	if err != nil {
		return fmt.Errorf("list lapsed shops: %w", err)
	}

	for _, sh := range lapsed {
		release, err := o.Locks.Acquire(ctx, sh.ID)
		if err != nil {
			if errors.Is(err, lease.ErrHeld) {
				continue
			}
			return fmt.Errorf("acquire shop lease: %w", err)
		}

		timedOut, err := o.Shops.TimeOut(ctx, sh.ID, "no agent response before deadline")
		if err != nil {
			release(ctx)
			return fmt.Errorf("time out shop %s: %w", sh.ID, err)
		}
		if timedOut {
			slog.Info("shop timed out", "shop", sh.ID, "deadline", sh.ResponseDeadline)
			o.publishTerminal(ctx, sh.ID)
		}
		if err := release(ctx); err != nil {
			slog.Warn("release shop lease failed", "shop", sh.ID, "error", err)
		}
	}
	return nil
}

// Profile returns the community profile accumulated so far for a shop.
func (o *Orchestrator) Profile(ctx context.Context, shopID uuid.UUID) (*models.CommunityProfile, error) {
	sh, err := o.Shops.Get(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, &InvalidInputError{Entity: "shop", ID: shopID}
	}
	return o.Shops.GetProfile(ctx, shopID)
}

// History returns a shop's full conversation oldest-first.
func (o *Orchestrator) History(ctx context.Context, shopID uuid.UUID) ([]shop.Message, error) {
	sh, err := o.Shops.Get(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, &InvalidInputError{Entity: "shop", ID: shopID}
	}
	return o.Shops.ListMessages(ctx, shopID)
}

func (o *Orchestrator) resolveShop(ctx context.Context, shopID uuid.UUID, email *models.InboundEmail) (*shop.Shop, error) {
	if shopID != uuid.Nil {
		sh, err := o.Shops.Get(ctx, shopID)
		if err != nil {
			return nil, fmt.Errorf("load shop: %w", err)
		}
		if sh == nil {
			return nil, &InvalidInputError{Entity: "shop", ID: shopID}
		}
		return sh, nil
	}
	if email.ThreadID != "" {
		sh, err := o.Shops.GetByThread(ctx, email.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("resolve shop by thread: %w", err)
		}
		if sh != nil {
			return sh, nil
		}
	}
	if parent := email.InReplyTo(); parent != "" {
		sh, err := o.Shops.GetByMessageID(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("resolve shop by reply header: %w", err)
		}
		if sh != nil {
			return sh, nil
		}
	}
	return nil, nil
}

// handleUnusable counts a reply that yielded nothing against the shop and
// fails the shop once the limit is hit. Called from the parsing status.
func (o *Orchestrator) handleUnusable(ctx context.Context, sh *shop.Shop, email *models.InboundEmail, body, reason string) error {
	recorded, err := o.Shops.RecordMessage(ctx, shop.Message{
		ShopID:     sh.ID,
		ExternalID: email.MessageID,
		Direction:  shop.DirectionInbound,
		Type:       shop.TypeResponse,
		Subject:    email.Subject,
		Body:       body,
		ReceivedAt: receivedAt(email, o.now()),
	})
	if err != nil {
		return fmt.Errorf("record unusable response: %w", err)
	}
	// A redelivered message was already counted.
	if !recorded {
		return o.backToWaiting(ctx, sh.ID)
	}
	return o.countUnusable(ctx, sh, email.MessageID, reason)
}

// countUnusable charges one unusable reply against the shop's consecutive
// limit, failing the shop at the cap.
func (o *Orchestrator) countUnusable(ctx context.Context, sh *shop.Shop, messageID, reason string) error {
	n, err := o.Shops.IncrementUnparsable(ctx, sh.ID)
	if err != nil {
		return fmt.Errorf("count unusable reply: %w", err)
	}
	if n >= o.Policy.UnparsableLimit {
		o.fail(ctx, sh.ID, fmt.Sprintf("%s (%d consecutive)", reason, n))
		return nil
	}
	slog.Info("reply yielded nothing usable", "shop", sh.ID, "message_id", messageID, "count", n)
	return o.backToWaiting(ctx, sh.ID)
}

func (o *Orchestrator) backToWaiting(ctx context.Context, id uuid.UUID) error {
	if err := o.Shops.Transition(ctx, id, shop.StatusParsing, shop.StatusAwaitingResponse); err != nil {
		return fmt.Errorf("resume waiting: %w", err)
	}
	return nil
}

// mergeProfile folds a partial into the stored profile. A nil partial is a
// reply that parsed but carried no community data; the stored profile is
// returned unchanged.
func (o *Orchestrator) mergeProfile(ctx context.Context, shopID uuid.UUID, partial *models.CommunityProfile) (models.CommunityProfile, error) {
	existing, err := o.Shops.GetProfile(ctx, shopID)
	if err != nil {
		return models.CommunityProfile{}, fmt.Errorf("load profile: %w", err)
	}
	var base models.CommunityProfile
	if existing != nil {
		base = *existing
	}
	if partial == nil {
		return base, nil
	}
	merged := profile.Merge(base, *partial)
	if err := o.Shops.SaveProfile(ctx, shopID, &merged); err != nil {
		return models.CommunityProfile{}, fmt.Errorf("save profile: %w", err)
	}
	return merged, nil
}

// decideNext runs the follow-up decision from the data_merged status:
// complete when the required fields are covered, follow up while the cap
// allows, otherwise complete best-effort with the gaps on record.
func (o *Orchestrator) decideNext(ctx context.Context, sh *shop.Shop, persona *models.Persona, target *models.Target, merged models.CommunityProfile, replyID string) error {
	eval := profile.Evaluate(merged, o.Policy.RequiredFields)

	if eval.Complete {
		if err := o.Shops.Transition(ctx, sh.ID, shop.StatusDataMerged, shop.StatusCompleted); err != nil {
			return fmt.Errorf("complete shop: %w", err)
		}
		slog.Info("shop completed", "shop", sh.ID, "follow_ups", sh.FollowUpCount)
		o.publishTerminal(ctx, sh.ID)
		return nil
	}

	if sh.FollowUpCount >= o.Policy.MaxFollowUps {
		reason := "completed with missing fields: " + strings.Join(eval.Missing, ", ")
		if err := o.Shops.SetReason(ctx, sh.ID, reason); err != nil {
			return fmt.Errorf("record completion note: %w", err)
		}
		if err := o.Shops.Transition(ctx, sh.ID, shop.StatusDataMerged, shop.StatusCompleted); err != nil {
			return fmt.Errorf("complete shop: %w", err)
		}
		slog.Info("shop completed at follow-up cap", "shop", sh.ID, "missing", eval.Missing)
		o.publishTerminal(ctx, sh.ID)
		return nil
	}

	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusDataMerged, shop.StatusFollowUpNeeded); err != nil {
		return fmt.Errorf("mark follow-up needed: %w", err)
	}

	history, err := o.turns(ctx, sh.ID, persona)
	if err != nil {
		return err
	}
	draft, err := o.Composer.ComposeFollowUp(ctx, persona, target, history, eval.Missing)
	if err != nil {
		o.fail(ctx, sh.ID, "follow-up composition failed: "+err.Error())
		return nil
	}

	sent, err := o.Sender.Send(ctx, mailer.Outbound{
		FromMailbox: persona.EmailAddress,
		To:          target.EmailAddress,
		Subject:     draft.Subject,
		Body:        draft.Body,
		InReplyTo:   replyID,
	})
	if err != nil {
		o.fail(ctx, sh.ID, "follow-up delivery failed: "+err.Error())
		return nil
	}

	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusFollowUpNeeded, shop.StatusFollowUpSent); err != nil {
		return fmt.Errorf("record follow-up sent: %w", err)
	}
	deadline := o.now().Add(o.Policy.ResponseDeadline)
	if err := o.Shops.MarkSent(ctx, sh.ID, sent.ThreadID, deadline, true); err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	if _, err := o.Shops.RecordMessage(ctx, shop.Message{
		ShopID:     sh.ID,
		ExternalID: sent.ExternalID,
		Direction:  shop.DirectionOutbound,
		Type:       shop.TypeFollowUp,
		Subject:    draft.Subject,
		Body:       draft.Body,
		ReceivedAt: o.now(),
	}); err != nil {
		return fmt.Errorf("record follow-up message: %w", err)
	}
	if err := o.Shops.Transition(ctx, sh.ID, shop.StatusFollowUpSent, shop.StatusAwaitingResponse); err != nil {
		return fmt.Errorf("await response: %w", err)
	}

	slog.Info("follow-up sent", "shop", sh.ID, "missing", eval.Missing)
	return nil
}

// turns converts stored history into conversation turns for the composer.
func (o *Orchestrator) turns(ctx context.Context, shopID uuid.UUID, persona *models.Persona) ([]ai.Turn, error) {
	msgs, err := o.Shops.ListMessages(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		author := "Leasing agent"
		if m.Direction == shop.DirectionOutbound {
			author = persona.FullName()
		}
		out = append(out, ai.Turn{Author: author, Body: m.Body})
	}
	return out, nil
}

// fail moves a shop to failed with a reason and publishes the result.
// Storage errors here are logged, not returned: the caller's error is the
// interesting one.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, reason string) {
	if err := o.Shops.Fail(ctx, id, reason); err != nil {
		slog.Error("mark shop failed", "shop", id, "error", err)
		return
	}
	slog.Warn("shop failed", "shop", id, "reason", reason)
	o.publishTerminal(ctx, id)
}

// publishTerminal hands a finished shop to the reporting queue. Publishing
// is best-effort: the terminal status is already durable in Postgres.
func (o *Orchestrator) publishTerminal(ctx context.Context, id uuid.UUID) {
	if o.Reporter == nil {
		return
	}
	sh, err := o.Shops.Get(ctx, id)
	if err != nil || sh == nil {
		slog.Error("load shop for result publish", "shop", id, "error", err)
		return
	}
	p, err := o.Shops.GetProfile(ctx, id)
	if err != nil {
		slog.Error("load profile for result publish", "shop", id, "error", err)
		return
	}

	var missing []string
	if p != nil {
		missing = profile.Evaluate(*p, o.Policy.RequiredFields).Missing
	} else {
		missing = profile.Evaluate(models.CommunityProfile{}, o.Policy.RequiredFields).Missing
	}

	result := &report.Result{
		ShopID:        sh.ID,
		TargetID:      sh.TargetID,
		PersonaID:     sh.PersonaID,
		Status:        sh.Status,
		FailureReason: sh.FailureReason,
		FollowUpCount: sh.FollowUpCount,
		MissingFields: missing,
		Profile:       p,
		FinishedAt:    o.now(),
	}
	if err := o.Reporter.PublishResult(ctx, result); err != nil {
		slog.Error("publish shop result", "shop", id, "error", err)
	}
}

func receivedAt(email *models.InboundEmail, fallback time.Time) time.Time {
	if !email.ReceivedAt.IsZero() {
		return email.ReceivedAt
	}
	return fallback
}
