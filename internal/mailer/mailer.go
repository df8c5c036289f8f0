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

// Package mailer delivers persona email through the Microsoft Graph API
// and fetches full message content back out of persona mailboxes.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/rentshop/engine/internal/models"
)

// DefaultGraphBaseURL is the production Graph endpoint; tests override it.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// DeliveryError wraps a failed outbound send so callers can distinguish
// transport failures from composition failures.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mail delivery failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("mail delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Outbound is one message to deliver from a persona mailbox.
type Outbound struct {
	FromMailbox string // persona's mailbox address
	To          string
	Subject     string
	Body        string
	InReplyTo   string // external id of the message being replied to, "" for a fresh thread
}

// Sent describes a delivered message.
type Sent struct {
	ExternalID string // internet message id we stamped on the send, without angle brackets
	ThreadID   string // provider conversation id when the provider reports one, else ""
}

// Sender delivers outbound persona mail.
type Sender interface {
	Send(ctx context.Context, msg Outbound) (*Sent, error)
}

// GraphMailer sends mail via Graph's sendMail action using an OAuth2
// client-credentials HTTP client.
type GraphMailer struct {
	httpClient   *http.Client
	graphBaseURL string
	senderDomain string
}

// NewGraphMailer creates a mailer. httpClient must already carry app
// credentials (oauth2 clientcredentials transport).
func NewGraphMailer(httpClient *http.Client, graphBaseURL, senderDomain string) *GraphMailer {
	if graphBaseURL == "" {
		graphBaseURL = DefaultGraphBaseURL
	}
	return &GraphMailer{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
		senderDomain: senderDomain,
	}
}

// Send delivers a message from the persona's mailbox. Graph's sendMail does
// not echo the message back, so we stamp our own internet message ID and
// return it, bare, as the external ID. Agent replies reference it in
// In-Reply-To; the conversation id only becomes known once a reply is
// fetched, so ThreadID is left empty here.
func (m *GraphMailer) Send(ctx context.Context, msg Outbound) (*Sent, error) {
	internetID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.senderDomain)

	payload := map[string]any{
		"message": map[string]any{
			"subject": msg.Subject,
			"body": map[string]any{
				"contentType": "Text",
				"content":     msg.Body,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]string{"address": msg.To}},
			},
			"internetMessageId": internetID,
		},
		"saveToSentItems": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sendMail payload: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", m.graphBaseURL, msg.FromMailbox)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sendMail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &DeliveryError{StatusCode: resp.StatusCode}
	}

	return &Sent{ExternalID: models.TrimMessageID(internetID)}, nil
}
