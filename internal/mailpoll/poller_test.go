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

package mailpoll

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/models"
)

const testMailbox = "jamie.reed@shoppers.example.com"

func messageJSON(id, internetID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"conversationId": "conv-1",
		"subject": "Re: Apartment availability",
		"from": {"emailAddress": {"address": "agent@maplecourt.example.com"}},
		"body": {"contentType": "text", "content": "We allow cats."},
		"internetMessageId": %q,
		"receivedDateTime": "2026-08-01T15:04:05Z"
	}`, id, internetID)
}

// newGraphStub serves a paged message list and individual message fetches.
func newGraphStub(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages") && r.URL.Query().Get("page") == "2":
			fmt.Fprint(w, `{"value": [{"id": "m2"}]}`)
		case strings.HasSuffix(r.URL.Path, "/messages"):
			if filter := r.URL.Query().Get("$filter"); !strings.Contains(filter, "receivedDateTime ge ") {
				t.Errorf("$filter = %q", filter)
			}
			fmt.Fprintf(w, `{"value": [{"id": "m1"}], "@odata.nextLink": %q}`,
				server.URL+"/users/"+testMailbox+"/messages?page=2")
		case strings.HasSuffix(r.URL.Path, "/messages/m1"):
			fmt.Fprint(w, messageJSON("m1", "<m1@maplecourt.example.com>"))
		case strings.HasSuffix(r.URL.Path, "/messages/m2"):
			// Deleted between list and fetch.
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server
}

// TestSweepMailbox verifies the sweep walks every page, fetches each listed
// message, and skips ones deleted in the meantime.
func TestSweepMailbox(t *testing.T) {
	server := newGraphStub(t)
	defer server.Close()

	var ingested []*models.InboundEmail
	p := NewPoller(PollerConfig{
		HTTPClient:   server.Client(),
		GraphBaseURL: server.URL,
		Fetcher:      mailer.NewFetcher(server.Client(), server.URL),
		Mailboxes:    []string{testMailbox},
		Interval:     time.Minute,
		Lookback:     time.Hour,
		Ingest: func(_ context.Context, email *models.InboundEmail) error {
			ingested = append(ingested, email)
			return nil
		},
	})

	if err := p.SweepMailbox(context.Background(), testMailbox); err != nil {
		t.Fatalf("SweepMailbox() error = %v", err)
	}

	if len(ingested) != 1 {
		t.Fatalf("ingested %d messages, want 1", len(ingested))
	}
	if ingested[0].MessageID != "m1@maplecourt.example.com" {
		t.Errorf("MessageID = %q", ingested[0].MessageID)
	}
	if ingested[0].Mailbox != testMailbox {
		t.Errorf("Mailbox = %q", ingested[0].Mailbox)
	}
}

// TestSweepMailbox_IngestErrorsDoNotAbort verifies one bad message does not
// stop the sweep.
func TestSweepMailbox_IngestErrorsDoNotAbort(t *testing.T) {
	server := newGraphStub(t)
	defer server.Close()

	calls := 0
	p := NewPoller(PollerConfig{
		HTTPClient:   server.Client(),
		GraphBaseURL: server.URL,
		Fetcher:      mailer.NewFetcher(server.Client(), server.URL),
		Interval:     time.Minute,
		Lookback:     time.Hour,
		Ingest: func(context.Context, *models.InboundEmail) error {
			calls++
			return fmt.Errorf("engine unavailable")
		},
	})

	if err := p.SweepMailbox(context.Background(), testMailbox); err != nil {
		t.Fatalf("SweepMailbox() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("ingest calls = %d, want 1", calls)
	}
}
