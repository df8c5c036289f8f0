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

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rentshop/engine/internal/models"
)

// CompositionError means the model could not produce a usable outbound
// message within the retry budget.
type CompositionError struct {
	Attempts int
	Err      error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// Draft is a composed outbound email.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer writes persona correspondence: the opening inquiry and targeted
// follow-ups. Prompt context is held constant across retries; only model
// nondeterminism varies between attempts.
type Composer struct {
	Client  Client
	Retries int // attempts per composition, default 3
}

func (c *Composer) attempts() int {
	if c.Retries > 0 {
		return c.Retries
	}
	return 3
}

// ComposeInquiry writes the persona's first email to the leasing agent.
func (c *Composer) ComposeInquiry(ctx context.Context, persona *models.Persona, target *models.Target) (*Draft, error) {
	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE",
		"Write the first inquiry email from a prospective renter to a property's leasing office. "+
			"The renter has found the property online and wants to learn more before visiting.")
	writeSection(&buf, "PERSONA", personaSection(persona))
	writeSection(&buf, "PROPERTY", targetSection(target))
	writeSection(&buf, "RULES", formatList([]string{
		"Express genuine interest in the property and ask about availability",
		fmt.Sprintf("Ask about floor plans around %d bed / %d bath and their rental prices", persona.DesiredBedrooms, persona.DesiredBathrooms),
		"Ask about application and other move-in fees",
		"Ask about the pet policy" + petHint(persona),
		"Stay in character; never mention AI, evaluations, or secret shopping",
		"Sign with the persona's name",
	}))
	writeSection(&buf, "OUTPUT_FORMAT",
		`Respond with a JSON object: {"subject": "...", "body": "..."}. Both fields are required and must be non-empty plain text.`)

	return c.compose(ctx, buf.String())
}

// ComposeFollowUp writes a follow-up that asks specifically about the
// missing profile fields.
func (c *Composer) ComposeFollowUp(ctx context.Context, persona *models.Persona, target *models.Target, history []Turn, gaps []string) (*Draft, error) {
	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE",
		"Write a polite follow-up email from a prospective renter continuing an existing conversation "+
			"with a property's leasing agent.")
	writeSection(&buf, "PERSONA", personaSection(persona))
	writeSection(&buf, "PROPERTY", targetSection(target))
	writeSection(&buf, "CONVERSATION", historySection(history))
	writeSection(&buf, "STILL_NEEDED", gapSection(gaps))
	writeSection(&buf, "RULES", formatList([]string{
		"Thank the agent for their previous reply",
		"Ask specifically about each item under STILL_NEEDED and nothing else",
		"Reiterate interest in the property briefly",
		"Stay in character; never mention AI, evaluations, or secret shopping",
		"Sign with the persona's name",
	}))
	writeSection(&buf, "OUTPUT_FORMAT",
		`Respond with a JSON object: {"subject": "...", "body": "..."}. Both fields are required and must be non-empty plain text.`)

	return c.compose(ctx, buf.String())
}

// compose runs the bounded retry loop around one composition prompt.
// Correspondence uses the free-text capability; the model is asked for a
// JSON draft but plain-text mode does not enforce it, so fenced output is
// tolerated and a malformed draft burns one attempt.
func (c *Composer) compose(ctx context.Context, prompt string) (*Draft, error) {
	max := c.attempts()
	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		text, err := c.Client.GenerateText(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		var draft Draft
		if err := json.Unmarshal([]byte(stripFences(text)), &draft); err != nil {
			lastErr = fmt.Errorf("decode draft: %w", err)
			continue
		}
		draft.Subject = strings.TrimSpace(draft.Subject)
		draft.Body = strings.TrimSpace(draft.Body)
		if draft.Subject == "" || draft.Body == "" {
			lastErr = fmt.Errorf("draft missing subject or body")
			continue
		}
		return &draft, nil
	}
	return nil, &CompositionError{Attempts: max, Err: lastErr}
}

// stripFences removes the markdown code fence models sometimes wrap
// around output in plain-text mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func petHint(p *models.Persona) string {
	if strings.TrimSpace(p.Pets) == "" {
		return ""
	}
	return fmt.Sprintf(", mentioning: %s", p.Pets)
}
