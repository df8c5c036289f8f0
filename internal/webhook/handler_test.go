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

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rentshop/engine/internal/models"
)

// mockIngester records delivered emails and signals each ingest.
type mockIngester struct {
	mu       sync.Mutex
	shopIDs  []uuid.UUID
	emails   []*models.InboundEmail
	ingested chan struct{}
}

func newMockIngester() *mockIngester {
	return &mockIngester{ingested: make(chan struct{}, 8)}
}

func (m *mockIngester) IngestInbound(_ context.Context, shopID uuid.UUID, email *models.InboundEmail) error {
	m.mu.Lock()
	m.shopIDs = append(m.shopIDs, shopID)
	m.emails = append(m.emails, email)
	m.mu.Unlock()
	m.ingested <- struct{}{}
	return nil
}

func (m *mockIngester) waitForIngest(t *testing.T) {
	t.Helper()
	select {
	case <-m.ingested:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest never ran")
	}
}

func emailPayload(messageID string) string {
	email := models.InboundEmail{
		MessageID: messageID,
		ThreadID:  "thread-xyz",
		From:      models.EmailAddress{Address: "agent@community.example.com"},
		Subject:   "Re: Apartment availability",
		Body:      models.EmailBody{ContentType: "text", Content: "We allow cats."},
	}
	b, _ := json.Marshal(email)
	return string(b)
}

// TestShopIDFromPath verifies the optional shop id path segment.
func TestShopIDFromPath(t *testing.T) {
	known := uuid.New()
	tests := []struct {
		path   string
		wantID uuid.UUID
		wantOK bool
	}{
		{path: "/inbound", wantID: uuid.Nil, wantOK: true},
		{path: "/inbound/", wantID: uuid.Nil, wantOK: true},
		{path: "/inbound/" + known.String(), wantID: known, wantOK: true},
		{path: "/inbound/" + known.String() + "/", wantID: known, wantOK: true},
		{path: "/inbound/not-a-uuid", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := shopIDFromPath(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && id != tt.wantID {
				t.Errorf("id = %s, want %s", id, tt.wantID)
			}
		})
	}
}

// TestServeInbound_ValidationToken verifies the validation probe flow.
func TestServeInbound_ValidationToken(t *testing.T) {
	h := NewHandler(newMockIngester())

	req := httptest.NewRequest(http.MethodPost, "/inbound?validationToken=test-token-123", nil)
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := rr.Body.String(); body != "test-token-123" {
		t.Errorf("body = %q, want %q", body, "test-token-123")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

// TestServeInbound_AcceptsAndIngests verifies the 202-then-background flow
// with the shop id taken from the path.
func TestServeInbound_AcceptsAndIngests(t *testing.T) {
	ingester := newMockIngester()
	h := NewHandler(ingester)
	shopID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/inbound/"+shopID.String(), strings.NewReader(emailPayload("<m1@agent>")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	ingester.waitForIngest(t)

	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	if ingester.shopIDs[0] != shopID {
		t.Errorf("shop id = %s, want %s", ingester.shopIDs[0], shopID)
	}
	if ingester.emails[0].MessageID != "<m1@agent>" {
		t.Errorf("message id = %q", ingester.emails[0].MessageID)
	}
}

// TestServeInbound_BareInboundResolvesByHeaders verifies a path without a
// shop id hands uuid.Nil to the engine.
func TestServeInbound_BareInboundResolvesByHeaders(t *testing.T) {
	ingester := newMockIngester()
	h := NewHandler(ingester)

	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(emailPayload("<m2@agent>")))
	rr := httptest.NewRecorder()

	h.ServeInbound(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	ingester.waitForIngest(t)

	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	if ingester.shopIDs[0] != uuid.Nil {
		t.Errorf("shop id = %s, want uuid.Nil", ingester.shopIDs[0])
	}
}

// TestServeInbound_Rejections verifies malformed requests are refused
// before anything reaches the engine.
func TestServeInbound_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{
			name:     "non-POST",
			method:   http.MethodGet,
			path:     "/inbound",
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name:     "malformed shop id",
			method:   http.MethodPost,
			path:     "/inbound/not-a-uuid",
			body:     emailPayload("<m3@agent>"),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "invalid JSON",
			method:   http.MethodPost,
			path:     "/inbound",
			body:     "not json",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing message id",
			method:   http.MethodPost,
			path:     "/inbound",
			body:     `{"subject":"hi"}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := newMockIngester()
			h := NewHandler(ingester)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()

			h.ServeInbound(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			select {
			case <-ingester.ingested:
				t.Error("ingest ran for a rejected request")
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}
