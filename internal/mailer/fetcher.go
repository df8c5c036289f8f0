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

package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rentshop/engine/internal/models"
)

// Fetcher retrieves full email messages from persona mailboxes.
type Fetcher struct {
	httpClient   *http.Client
	graphBaseURL string
}

// NewFetcher creates a Graph API message fetcher.
func NewFetcher(httpClient *http.Client, graphBaseURL string) *Fetcher {
	if graphBaseURL == "" {
		graphBaseURL = DefaultGraphBaseURL
	}
	return &Fetcher{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
	}
}

// FetchMessage retrieves the full content of one message in a persona's
// mailbox. Returns (nil, nil) when the message no longer exists.
func (f *Fetcher) FetchMessage(ctx context.Context, mailbox, messageID string) (*models.InboundEmail, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s?$select=id,conversationId,subject,from,toRecipients,body,internetMessageId,internetMessageHeaders,receivedDateTime",
		f.graphBaseURL, mailbox, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "outlook.body-content-type=\"text\"")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found (may have been deleted)",
			"mailbox", mailbox,
			"message_id", messageID,
		)
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	email, err := parseGraphMessage(resp.Body, mailbox)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return email, nil
}

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	From           struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageID      string `json:"internetMessageId"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

// parseGraphMessage converts a Graph API message response into an InboundEmail.
func parseGraphMessage(body io.Reader, mailbox string) (*models.InboundEmail, error) {
	var msg graphMessage
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode graph message: %w", err)
	}

	headers := make(map[string]string, len(msg.InternetMessageHeaders))
	for _, h := range msg.InternetMessageHeaders {
		headers[h.Name] = h.Value
	}

	to := make([]models.EmailAddress, 0, len(msg.ToRecipients))
	for _, r := range msg.ToRecipients {
		to = append(to, models.EmailAddress{
			Address: r.EmailAddress.Address,
			Name:    r.EmailAddress.Name,
		})
	}

	receivedAt := time.Now().UTC()
	if msg.ReceivedDateTime != "" {
		if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
			receivedAt = t
		}
	}

	messageID := models.TrimMessageID(msg.InternetMessageID)
	if messageID == "" {
		messageID = msg.ID
	}

	return &models.InboundEmail{
		MessageID:  messageID,
		ThreadID:   msg.ConversationID,
		Mailbox:    mailbox,
		ReceivedAt: receivedAt,
		From: models.EmailAddress{
			Address: msg.From.EmailAddress.Address,
			Name:    msg.From.EmailAddress.Name,
		},
		To:      to,
		Subject: msg.Subject,
		Body: models.EmailBody{
			ContentType: msg.Body.ContentType,
			Content:     msg.Body.Content,
		},
		Headers: headers,
	}, nil
}
