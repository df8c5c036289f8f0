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

// Package models defines the data structures shared across the shop engine.
package models

import (
	"strings"
	"time"
)

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// EmailBody represents the message body content.
type EmailBody struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// InboundEmail represents a raw inbound email as delivered by the mail
// collaborator, either pushed to the webhook or pulled by the poller.
//
// Headers carry at least Message-Id; In-Reply-To and References are used
// to resolve the owning shop when the webhook path does not name one.
type InboundEmail struct {
	MessageID  string            `json:"message_id"`
	ThreadID   string            `json:"thread_id,omitempty"`
	Mailbox    string            `json:"mailbox,omitempty"`
	ReceivedAt time.Time         `json:"received_at,omitempty"`
	From       EmailAddress      `json:"from"`
	To         []EmailAddress    `json:"to"`
	Subject    string            `json:"subject"`
	Body       EmailBody         `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Header returns a header value by case-insensitive name.
func (e *InboundEmail) Header(name string) string {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// InReplyTo returns the external message ID this email replies to, with
// angle brackets stripped. References is consulted as a fallback; its last
// entry is the immediate parent.
func (e *InboundEmail) InReplyTo() string {
	if v := TrimMessageID(e.Header("In-Reply-To")); v != "" {
		return v
	}
	refs := strings.Fields(e.Header("References"))
	if len(refs) > 0 {
		return TrimMessageID(refs[len(refs)-1])
	}
	return ""
}

// TrimMessageID strips the angle brackets RFC 5322 wraps around message
// IDs. External IDs are stored and compared in this bare form.
func TrimMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}
