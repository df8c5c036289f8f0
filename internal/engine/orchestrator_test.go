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

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rentshop/engine/internal/ai"
	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/models"
	"github.com/rentshop/engine/internal/report"
	"github.com/rentshop/engine/internal/shop"
)

// memStore is an in-memory ShopStore mirroring the Postgres store's
// guarded-update semantics.
type memStore struct {
	mu       sync.Mutex
	shops    map[uuid.UUID]*shop.Shop
	msgs     []shop.Message
	profiles map[uuid.UUID]*models.CommunityProfile
}

func newMemStore() *memStore {
	return &memStore{
		shops:    make(map[uuid.UUID]*shop.Shop),
		profiles: make(map[uuid.UUID]*models.CommunityProfile),
	}
}

func (m *memStore) Create(_ context.Context, sh shop.Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh.Status = shop.StatusCreated
	m.shops[sh.ID] = &sh
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*shop.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shops[id]
	if !ok {
		return nil, nil
	}
	cp := *sh
	return &cp, nil
}

func (m *memStore) GetByThread(_ context.Context, threadID string) (*shop.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shops {
		if sh.ThreadID == threadID && threadID != "" {
			cp := *sh
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByMessageID(_ context.Context, externalID string) (*shop.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ExternalID == externalID {
			cp := *m.shops[msg.ShopID]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ClaimThread(_ context.Context, id uuid.UUID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh.ThreadID == "" {
		sh.ThreadID = threadID
	}
	return nil
}

func (m *memStore) Transition(_ context.Context, id uuid.UUID, from, to shop.Status) error {
	if !shop.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh == nil || sh.Status != from {
		return shop.ErrStaleStatus
	}
	sh.Status = to
	return nil
}

func (m *memStore) Fail(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh == nil || sh.Status.IsTerminal() {
		return nil
	}
	sh.Status = shop.StatusFailed
	sh.FailureReason = reason
	return nil
}

func (m *memStore) TimeOut(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh == nil {
		return false, nil
	}
	if sh.Status != shop.StatusAwaitingResponse && sh.Status != shop.StatusFollowUpNeeded {
		return false, nil
	}
	sh.Status = shop.StatusTimedOut
	sh.FailureReason = reason
	return true, nil
}

func (m *memStore) SetReason(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[id].FailureReason = reason
	return nil
}

func (m *memStore) MarkSent(_ context.Context, id uuid.UUID, threadID string, deadline time.Time, followUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh.ThreadID == "" {
		sh.ThreadID = threadID
	}
	d := deadline
	sh.ResponseDeadline = &d
	sh.DeadlineExtended = false
	if followUp {
		sh.FollowUpCount++
	}
	return nil
}

func (m *memStore) ExtendDeadline(_ context.Context, id uuid.UUID, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shops[id]
	if sh.DeadlineExtended {
		return false, nil
	}
	d := deadline
	sh.ResponseDeadline = &d
	sh.DeadlineExtended = true
	return true, nil
}

func (m *memStore) IncrementUnparsable(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[id].UnparsableCount++
	return m.shops[id].UnparsableCount, nil
}

func (m *memStore) ResetUnparsable(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[id].UnparsableCount = 0
	return nil
}

func (m *memStore) RecordMessage(_ context.Context, msg shop.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.msgs {
		if existing.ShopID == msg.ShopID && existing.ExternalID == msg.ExternalID {
			return false, nil
		}
	}
	m.msgs = append(m.msgs, msg)
	return true, nil
}

func (m *memStore) ListMessages(_ context.Context, shopID uuid.UUID) ([]shop.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shop.Message
	for _, msg := range m.msgs {
		if msg.ShopID == shopID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) SaveProfile(_ context.Context, shopID uuid.UUID, p *models.CommunityProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[shopID] = &cp
	return nil
}

func (m *memStore) GetProfile(_ context.Context, shopID uuid.UUID) (*models.CommunityProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[shopID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPastDeadline(_ context.Context, now time.Time) ([]shop.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shop.Shop
	for _, sh := range m.shops {
		if sh.Status != shop.StatusAwaitingResponse && sh.Status != shop.StatusFollowUpNeeded {
			continue
		}
		if sh.ResponseDeadline != nil && sh.ResponseDeadline.Before(now) {
			out = append(out, *sh)
		}
	}
	return out, nil
}

// mockDirectory serves fixed targets and personas.
type mockDirectory struct {
	targets    map[uuid.UUID]*models.Target
	personas   map[uuid.UUID]*models.Persona
	personaErr error // next GetPersona fails once
}

func (d *mockDirectory) GetTarget(_ context.Context, id uuid.UUID) (*models.Target, error) {
	return d.targets[id], nil
}

func (d *mockDirectory) GetPersona(_ context.Context, id uuid.UUID) (*models.Persona, error) {
	if d.personaErr != nil {
		err := d.personaErr
		d.personaErr = nil
		return nil, err
	}
	return d.personas[id], nil
}

// mockSender records sends and stamps sequential external IDs the way the
// Graph mailer does: bare internet message ids, no conversation id.
type mockSender struct {
	mu    sync.Mutex
	sends []mailer.Outbound
	err   error
}

func (s *mockSender) Send(_ context.Context, msg mailer.Outbound) (*mailer.Sent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sends = append(s.sends, msg)
	id := fmt.Sprintf("out-%d@rentshop.local", len(s.sends))
	return &mailer.Sent{ExternalID: id}, nil
}

func (s *mockSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

// mockComposer returns canned drafts.
type mockComposer struct {
	err         error
	followUps   int
	lastGaps    []string
	lastHistory []ai.Turn
}

func (c *mockComposer) ComposeInquiry(_ context.Context, p *models.Persona, t *models.Target) (*ai.Draft, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &ai.Draft{Subject: "Apartment availability", Body: "Hi, I'm " + p.FirstName + "."}, nil
}

func (c *mockComposer) ComposeFollowUp(_ context.Context, p *models.Persona, t *models.Target, history []ai.Turn, gaps []string) (*ai.Draft, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.followUps++
	c.lastGaps = gaps
	c.lastHistory = history
	return &ai.Draft{Subject: "Re: Apartment availability", Body: "A few more questions."}, nil
}

// mockExtractor delegates to a per-test function.
type mockExtractor struct {
	fn func(body string) (*models.CommunityProfile, error)
}

func (x *mockExtractor) Extract(_ context.Context, _ models.Target, body string) (*models.CommunityProfile, error) {
	if x.fn == nil {
		return nil, nil
	}
	return x.fn(body)
}

// mockLocker grants every lease and counts acquisitions.
type mockLocker struct {
	mu       sync.Mutex
	acquired int
}

func (l *mockLocker) Acquire(_ context.Context, _ uuid.UUID) (func(context.Context) error, error) {
	l.mu.Lock()
	l.acquired++
	l.mu.Unlock()
	return func(context.Context) error { return nil }, nil
}

// mockSeen remembers message IDs per shop.
type mockSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *mockSeen) Seen(_ context.Context, shopID uuid.UUID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[shopID.String()+":"+messageID], nil
}

func (s *mockSeen) MarkSeen(_ context.Context, shopID uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[shopID.String()+":"+messageID] = true
	return nil
}

func (s *mockSeen) marked(shopID uuid.UUID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[shopID.String()+":"+messageID]
}

// mockReporter collects published results.
type mockReporter struct {
	mu      sync.Mutex
	results []*report.Result
}

func (r *mockReporter) PublishResult(_ context.Context, result *report.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *mockReporter) last() *report.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return nil
	}
	return r.results[len(r.results)-1]
}

// rig wires an orchestrator over in-memory fakes.
type rig struct {
	orch      *Orchestrator
	store     *memStore
	directory *mockDirectory
	sender    *mockSender
	composer  *mockComposer
	extractor *mockExtractor
	seen      *mockSeen
	reporter  *mockReporter
	targetID  uuid.UUID
	personaID uuid.UUID
	now       time.Time
}

func newRig() *rig {
	targetID := uuid.New()
	personaID := uuid.New()
	r := &rig{
		store:     newMemStore(),
		sender:    &mockSender{},
		composer:  &mockComposer{},
		extractor: &mockExtractor{},
		seen:      &mockSeen{},
		reporter:  &mockReporter{},
		targetID:  targetID,
		personaID: personaID,
		now:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	r.directory = &mockDirectory{
		targets: map[uuid.UUID]*models.Target{targetID: {
			ID: targetID, Name: "Maple Court", EmailAddress: "leasing@maplecourt.example.com",
		}},
		personas: map[uuid.UUID]*models.Persona{personaID: {
			ID: personaID, FirstName: "Jamie", LastName: "Reed",
			EmailAddress: "jamie.reed@shoppers.example.com",
		}},
	}
	r.orch = &Orchestrator{
		Shops:     r.store,
		Directory: r.directory,
		Composer:  r.composer,
		Extractor: r.extractor,
		Sender:    r.sender,
		Locks:     &mockLocker{},
		Seen:      r.seen,
		Reporter:  r.reporter,
		Policy: Policy{
			ResponseDeadline: 72 * time.Hour,
			MaxFollowUps:     2,
			UnparsableLimit:  3,
			RequiredFields:   []string{"name", "overview", "pet_policy", "floor_plans"},
		},
		Now: func() time.Time { return r.now },
	}
	return r
}

func (r *rig) start(t *testing.T) *shop.Shop {
	t.Helper()
	sh, err := r.orch.StartShop(context.Background(), r.targetID, r.personaID)
	if err != nil {
		t.Fatalf("StartShop() error = %v", err)
	}
	return sh
}

// reply builds an inbound agent email shaped like a fetched Graph message:
// a provider conversation id and an In-Reply-To header referencing the
// bracketed form of the last outbound internet message id.
func (r *rig) reply(messageID, body string) *models.InboundEmail {
	e := &models.InboundEmail{
		MessageID:  messageID,
		ThreadID:   "conv-1",
		ReceivedAt: r.now,
		From:       models.EmailAddress{Address: "agent@maplecourt.example.com"},
		Subject:    "Re: Apartment availability",
		Body:       models.EmailBody{ContentType: "text", Content: body},
	}
	if n := r.sender.count(); n > 0 {
		e.Headers = map[string]string{"In-Reply-To": fmt.Sprintf("<out-%d@rentshop.local>", n)}
	}
	return e
}

func (r *rig) mustGet(t *testing.T, id uuid.UUID) *shop.Shop {
	t.Helper()
	sh, err := r.store.Get(context.Background(), id)
	if err != nil || sh == nil {
		t.Fatalf("Get(%s) = %v, %v", id, sh, err)
	}
	return sh
}

func fullProfile() *models.CommunityProfile {
	return &models.CommunityProfile{
		Name:      "Maple Court",
		Overview:  "Garden-style community",
		PetPolicy: "cats and dogs, $300 deposit",
		FloorPlans: []models.FloorPlan{
			{Name: "The Aspen", Beds: 2, Baths: 2, MinRentalPrice: 1400},
		},
	}
}

// TestStartShop verifies the inquiry flow: compose, send, record, wait.
func TestStartShop(t *testing.T) {
	r := newRig()
	sh := r.start(t)

	if sh.Status != shop.StatusAwaitingResponse {
		t.Errorf("Status = %s, want %s", sh.Status, shop.StatusAwaitingResponse)
	}
	if sh.ResponseDeadline == nil || !sh.ResponseDeadline.Equal(r.now.Add(72*time.Hour)) {
		t.Errorf("ResponseDeadline = %v", sh.ResponseDeadline)
	}
	if sh.ThreadID != "" {
		t.Errorf("ThreadID = %q, want empty until the first reply lands", sh.ThreadID)
	}
	if r.sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", r.sender.count())
	}
	out := r.sender.sends[0]
	if out.FromMailbox != "jamie.reed@shoppers.example.com" || out.To != "leasing@maplecourt.example.com" {
		t.Errorf("send = %+v", out)
	}
	msgs, _ := r.store.ListMessages(context.Background(), sh.ID)
	if len(msgs) != 1 || msgs[0].Type != shop.TypeInquiry || msgs[0].Direction != shop.DirectionOutbound {
		t.Errorf("messages = %+v", msgs)
	}
}

// TestStartShop_UnknownTarget verifies unknown references surface as
// InvalidInputError.
func TestStartShop_UnknownTarget(t *testing.T) {
	r := newRig()
	_, err := r.orch.StartShop(context.Background(), uuid.New(), r.personaID)
	var ierr *InvalidInputError
	if !errors.As(err, &ierr) {
		t.Fatalf("error = %v, want *InvalidInputError", err)
	}
	if ierr.Entity != "target" {
		t.Errorf("Entity = %q, want target", ierr.Entity)
	}
}

// TestStartShop_CompositionFailure verifies the shop fails with a reason
// and the failure is published.
func TestStartShop_CompositionFailure(t *testing.T) {
	r := newRig()
	r.composer.err = &ai.CompositionError{Attempts: 3, Err: errors.New("model unavailable")}

	_, err := r.orch.StartShop(context.Background(), r.targetID, r.personaID)
	if err == nil {
		t.Fatal("StartShop() error = nil, want composition error")
	}
	result := r.reporter.last()
	if result == nil || result.Status != shop.StatusFailed {
		t.Fatalf("published result = %+v", result)
	}
	if !strings.Contains(result.FailureReason, "composition") {
		t.Errorf("FailureReason = %q", result.FailureReason)
	}
}

// TestIngest_CompletesWhenProfileFull verifies a reply covering every
// required field completes the shop and publishes the result.
func TestIngest_CompletesWhenProfileFull(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) { return fullProfile(), nil }

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "Everything you asked about...")); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if r.sender.count() != 1 {
		t.Errorf("sends = %d, want 1 (no follow-up)", r.sender.count())
	}
	result := r.reporter.last()
	if result == nil || result.Status != shop.StatusCompleted || result.Profile == nil {
		t.Fatalf("published result = %+v", result)
	}
	if len(result.MissingFields) != 0 {
		t.Errorf("MissingFields = %v", result.MissingFields)
	}
}

// TestIngest_PartialTriggersFollowUp verifies gaps produce a threaded
// follow-up and a fresh deadline.
func TestIngest_PartialTriggersFollowUp(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	firstDeadline := *r.mustGet(t, sh.ID).ResponseDeadline

	r.extractor.fn = func(string) (*models.CommunityProfile, error) {
		return &models.CommunityProfile{Name: "Maple Court", Overview: "Garden-style", ApplicationFee: 50}, nil
	}
	r.now = r.now.Add(24 * time.Hour)

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "Fees are $50.")); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusAwaitingResponse {
		t.Errorf("Status = %s, want awaiting_response", got.Status)
	}
	if got.FollowUpCount != 1 {
		t.Errorf("FollowUpCount = %d, want 1", got.FollowUpCount)
	}
	if !got.ResponseDeadline.After(firstDeadline) {
		t.Errorf("deadline did not advance: %v -> %v", firstDeadline, got.ResponseDeadline)
	}
	if r.sender.count() != 2 {
		t.Fatalf("sends = %d, want 2", r.sender.count())
	}
	if r.sender.sends[1].InReplyTo != "r1@agent" {
		t.Errorf("follow-up InReplyTo = %q", r.sender.sends[1].InReplyTo)
	}
	wantGaps := []string{"pet_policy", "floor_plans"}
	if strings.Join(r.composer.lastGaps, ",") != strings.Join(wantGaps, ",") {
		t.Errorf("gaps = %v, want %v", r.composer.lastGaps, wantGaps)
	}
}

// TestIngest_FollowUpCapCompletesBestEffort verifies the cap forces a
// completion that records what is still missing.
func TestIngest_FollowUpCapCompletesBestEffort(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) {
		return &models.CommunityProfile{Name: "Maple Court", Overview: "Garden-style", PetPolicy: "cats ok"}, nil
	}

	// Two partial replies spend the follow-up budget.
	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "partial one")); err != nil {
		t.Fatal(err)
	}
	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r2@agent>", "partial two")); err != nil {
		t.Fatal(err)
	}
	// Third reply still lacks priced floor plans; the cap is reached.
	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r3@agent>", "partial three")); err != nil {
		t.Fatal(err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if got.FollowUpCount != 2 {
		t.Errorf("FollowUpCount = %d, want 2", got.FollowUpCount)
	}
	if !strings.Contains(got.FailureReason, "floor_plans") {
		t.Errorf("reason = %q, want missing floor_plans noted", got.FailureReason)
	}
	result := r.reporter.last()
	if result == nil || len(result.MissingFields) == 0 {
		t.Fatalf("published result = %+v", result)
	}
}

// TestIngest_DuplicateRedelivery verifies the same message delivered twice
// changes nothing the second time, including after completion.
func TestIngest_DuplicateRedelivery(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) { return fullProfile(), nil }

	email := r.reply("<r1@agent>", "Everything you asked about...")
	if err := r.orch.IngestInbound(context.Background(), sh.ID, email); err != nil {
		t.Fatal(err)
	}
	published := len(r.reporter.results)
	msgsBefore, _ := r.store.ListMessages(context.Background(), sh.ID)

	if err := r.orch.IngestInbound(context.Background(), sh.ID, email); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusCompleted {
		t.Errorf("Status = %s after redelivery", got.Status)
	}
	if len(r.reporter.results) != published {
		t.Errorf("results republished: %d -> %d", published, len(r.reporter.results))
	}
	msgsAfter, _ := r.store.ListMessages(context.Background(), sh.ID)
	if len(msgsAfter) != len(msgsBefore) {
		t.Errorf("history grew on redelivery: %d -> %d", len(msgsBefore), len(msgsAfter))
	}
}

// TestIngest_AutoReplyExtendsDeadlineOnce verifies the auto-reply grace is
// granted at most once and is not a conversation turn.
func TestIngest_AutoReplyExtendsDeadlineOnce(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	firstDeadline := *r.mustGet(t, sh.ID).ResponseDeadline

	auto := r.reply("<a1@agent>", "I am out of the office.")
	auto.Headers = map[string]string{"Auto-Submitted": "auto-replied"}
	r.now = r.now.Add(12 * time.Hour)

	if err := r.orch.IngestInbound(context.Background(), sh.ID, auto); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusAwaitingResponse {
		t.Errorf("Status = %s, want awaiting_response", got.Status)
	}
	if !got.ResponseDeadline.After(firstDeadline) {
		t.Error("deadline not extended for auto-reply")
	}
	extendedDeadline := *got.ResponseDeadline
	msgs, _ := r.store.ListMessages(context.Background(), sh.ID)
	if len(msgs) != 1 {
		t.Errorf("auto-reply recorded as a turn: %d messages", len(msgs))
	}

	// Second auto-reply: grace already spent.
	auto2 := r.reply("<a2@agent>", "Still away.")
	auto2.Headers = map[string]string{"Auto-Submitted": "auto-replied"}
	r.now = r.now.Add(12 * time.Hour)
	if err := r.orch.IngestInbound(context.Background(), sh.ID, auto2); err != nil {
		t.Fatal(err)
	}
	got = r.mustGet(t, sh.ID)
	if !got.ResponseDeadline.Equal(extendedDeadline) {
		t.Errorf("deadline extended twice: %v", got.ResponseDeadline)
	}
}

// TestIngest_UnparsableRepliesFailShop verifies consecutive content-free
// replies fail the shop at the limit.
func TestIngest_UnparsableRepliesFailShop(t *testing.T) {
	r := newRig()
	sh := r.start(t)

	for i := 1; i <= 3; i++ {
		email := r.reply(fmt.Sprintf("<u%d@agent>", i), "> quoted text only")
		if err := r.orch.IngestInbound(context.Background(), sh.ID, email); err != nil {
			t.Fatalf("ingest %d error = %v", i, err)
		}
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.FailureReason, "unparsable") {
		t.Errorf("reason = %q", got.FailureReason)
	}
	result := r.reporter.last()
	if result == nil || result.Status != shop.StatusFailed {
		t.Fatalf("published result = %+v", result)
	}
}

// TestIngest_ExtractionErrorCountsAgainstLimit verifies hard extraction
// failures consume the unparsable budget instead of crashing the shop on
// the first occurrence.
func TestIngest_ExtractionErrorCountsAgainstLimit(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) {
		return nil, &ai.ExtractionError{Attempts: 2, Err: errors.New("schema violations")}
	}

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "some text")); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusAwaitingResponse {
		t.Errorf("Status = %s, want awaiting_response", got.Status)
	}
	if got.UnparsableCount != 1 {
		t.Errorf("UnparsableCount = %d, want 1", got.UnparsableCount)
	}
}

// TestIngest_NoDataReplyStillCountsAsTurn verifies a parsed but fact-free
// reply drives the follow-up decision rather than being dropped.
func TestIngest_NoDataReplyStillCountsAsTurn(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) { return nil, nil }

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "Happy to help! Call us anytime.")); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusAwaitingResponse {
		t.Errorf("Status = %s, want awaiting_response", got.Status)
	}
	if got.FollowUpCount != 1 {
		t.Errorf("FollowUpCount = %d, want 1 (fact-free reply still asks again)", got.FollowUpCount)
	}
}

// TestIngest_ResolvesShopFromReplyHeaders verifies header-based routing
// when no shop ID accompanies the mail: the first reply carries a
// conversation id the store has never seen, so it must resolve through
// In-Reply-To against the stamped outbound id, and the conversation id it
// carries becomes the shop's thread for the replies after it.
func TestIngest_ResolvesShopFromReplyHeaders(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(body string) (*models.CommunityProfile, error) {
		if strings.Contains(body, "pets") {
			return fullProfile(), nil
		}
		return &models.CommunityProfile{Name: "Maple Court", Overview: "Garden-style"}, nil
	}

	if err := r.orch.IngestInbound(context.Background(), uuid.Nil, r.reply("<r1@agent>", "some details")); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}
	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusAwaitingResponse || got.FollowUpCount != 1 {
		t.Fatalf("after reply 1: status = %s, follow_ups = %d", got.Status, got.FollowUpCount)
	}
	if got.ThreadID != "conv-1" {
		t.Fatalf("ThreadID = %q, want the reply's conversation id", got.ThreadID)
	}

	// A later reply in the same conversation resolves by thread alone.
	second := r.reply("<r2@agent>", "pets and plans")
	second.Headers = nil
	if err := r.orch.IngestInbound(context.Background(), uuid.Nil, second); err != nil {
		t.Fatalf("IngestInbound() error = %v", err)
	}
	if got := r.mustGet(t, sh.ID); got.Status != shop.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	// Mail that matches nothing is dropped without error.
	stray := r.reply("<stray@agent>", "wrong thread")
	stray.ThreadID = "unknown-thread"
	stray.Headers = nil
	if err := r.orch.IngestInbound(context.Background(), uuid.Nil, stray); err != nil {
		t.Errorf("stray mail error = %v, want nil", err)
	}
}

// TestIngest_RetryAfterTransientFailure verifies a reply whose turn dies
// mid-flight is not remembered as consumed, so the provider's redelivery
// still completes the shop.
func TestIngest_RetryAfterTransientFailure(t *testing.T) {
	r := newRig()
	sh := r.start(t)
	r.extractor.fn = func(string) (*models.CommunityProfile, error) { return fullProfile(), nil }
	r.directory.personaErr = errors.New("directory unavailable")

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "details")); err == nil {
		t.Fatal("IngestInbound() error = nil, want transient failure")
	}
	if r.seen.marked(sh.ID, "r1@agent") {
		t.Fatal("failed turn marked its message consumed")
	}
	if got := r.mustGet(t, sh.ID); got.Status != shop.StatusAwaitingResponse {
		t.Fatalf("Status after failure = %s, want awaiting_response", got.Status)
	}

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "details")); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if got := r.mustGet(t, sh.ID); got.Status != shop.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if !r.seen.marked(sh.ID, "r1@agent") {
		t.Error("committed turn not marked consumed")
	}
}

// TestTickTimeouts verifies lapsed shops time out and publish while
// fresh ones are untouched.
func TestTickTimeouts(t *testing.T) {
	r := newRig()
	sh := r.start(t)

	// Not yet lapsed.
	if err := r.orch.TickTimeouts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.mustGet(t, sh.ID); got.Status != shop.StatusAwaitingResponse {
		t.Fatalf("Status = %s before deadline", got.Status)
	}

	r.now = r.now.Add(73 * time.Hour)
	if err := r.orch.TickTimeouts(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusTimedOut {
		t.Fatalf("Status = %s, want timed_out", got.Status)
	}
	result := r.reporter.last()
	if result == nil || result.Status != shop.StatusTimedOut {
		t.Fatalf("published result = %+v", result)
	}
}

// TestEndToEnd_FeesThenFloorPlans runs the two-turn happy path: fees in
// the first reply, a priced floor plan in the second, then completion with
// both facts merged.
func TestEndToEnd_FeesThenFloorPlans(t *testing.T) {
	r := newRig()
	sh := r.start(t)

	r.extractor.fn = func(body string) (*models.CommunityProfile, error) {
		if strings.Contains(body, "application fee") {
			return &models.CommunityProfile{
				Name: "Maple Court", Overview: "Garden-style", PetPolicy: "cats ok",
				ApplicationFee: 50,
			}, nil
		}
		return &models.CommunityProfile{
			FloorPlans: []models.FloorPlan{{Name: "The Aspen", Beds: 2, Baths: 2, MinRentalPrice: 1400}},
		}, nil
	}

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r1@agent>", "The application fee is $50.")); err != nil {
		t.Fatal(err)
	}
	if got := r.mustGet(t, sh.ID); got.Status != shop.StatusAwaitingResponse || got.FollowUpCount != 1 {
		t.Fatalf("after reply 1: %+v", got)
	}

	if err := r.orch.IngestInbound(context.Background(), sh.ID, r.reply("<r2@agent>", "The Aspen is 2/2 from $1400.")); err != nil {
		t.Fatal(err)
	}

	got := r.mustGet(t, sh.ID)
	if got.Status != shop.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	p, _ := r.store.GetProfile(context.Background(), sh.ID)
	if p == nil || p.ApplicationFee != 50 || len(p.FloorPlans) != 1 {
		t.Fatalf("merged profile = %+v", p)
	}
	msgs, _ := r.store.ListMessages(context.Background(), sh.ID)
	// inquiry, reply 1, follow-up, reply 2
	if len(msgs) != 4 {
		t.Errorf("history length = %d, want 4", len(msgs))
	}
}
