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

// Package mailparse normalises inbound email into the agent's new reply
// text. It strips quoted history, signature blocks, and disclaimer
// boilerplate, and flags auto-replies and bounces so the engine can treat
// them as a missed turn instead of a conversation turn.
package mailparse

import (
	"errors"
	"regexp"
	"strings"

	"github.com/rentshop/engine/internal/models"
)

var (
	// ErrUnparsable means no new reply content could be isolated.
	ErrUnparsable = errors.New("mailparse: no reply content could be isolated")

	// ErrAutoReply means the message is an auto-responder or bounce.
	// It is a soft condition, not a conversation turn.
	ErrAutoReply = errors.New("mailparse: automatic reply or bounce")
)

// Classification tells which kind of correspondence a message is.
type Classification string

const (
	ClassInquiry  Classification = "inquiry"
	ClassFollowUp Classification = "followup"
	ClassResponse Classification = "response"
)

// Parsed is the result of normalising one inbound email.
type Parsed struct {
	CleanBody      string
	Classification Classification
}

// Parse cleans an inbound email down to the sender's new text.
// personaAddress identifies the shopper's own mailbox: mail authored by the
// persona is classified as inquiry or follow-up, everything else as a
// response from the agent.
func Parse(email *models.InboundEmail, personaAddress string) (*Parsed, error) {
	if email == nil {
		return nil, ErrUnparsable
	}

	if isAutoReply(email) {
		return nil, ErrAutoReply
	}

	body := email.Body.Content
	if strings.EqualFold(email.Body.ContentType, "html") ||
		strings.Contains(strings.ToLower(email.Body.ContentType), "text/html") {
		body = htmlToText(body)
	}

	clean := stripQuoted(body)
	clean = stripSignature(clean)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, ErrUnparsable
	}

	return &Parsed{
		CleanBody:      clean,
		Classification: classify(email, personaAddress),
	}, nil
}

// classify determines the message type from authorship and thread markers.
func classify(email *models.InboundEmail, personaAddress string) Classification {
	if !strings.EqualFold(email.From.Address, personaAddress) {
		return ClassResponse
	}
	// Outbound-authored: a threaded subject or reply header means follow-up.
	if email.InReplyTo() != "" || replySubject.MatchString(email.Subject) {
		return ClassFollowUp
	}
	return ClassInquiry
}

var replySubject = regexp.MustCompile(`(?i)^\s*(re|fwd?)\s*:`)

// autoSubjects match subjects of common auto-responders and NDRs.
var autoSubjects = regexp.MustCompile(`(?i)^\s*(automatic reply|auto[- ]?reply|out of office|undeliverable|delivery status notification|mail delivery failed)`)

// isAutoReply detects auto-responders and bounces from headers, sender, and subject.
func isAutoReply(email *models.InboundEmail) bool {
	if v := email.Header("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if email.Header("X-Autoreply") != "" || email.Header("X-Autorespond") != "" {
		return true
	}
	if strings.EqualFold(email.Header("Precedence"), "auto_reply") {
		return true
	}
	from := strings.ToLower(email.From.Address)
	if strings.HasPrefix(from, "mailer-daemon@") || strings.HasPrefix(from, "postmaster@") {
		return true
	}
	return autoSubjects.MatchString(email.Subject)
}

// quoteMarkers start the quoted-history section of a reply.
var quoteMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*on .{4,200} wrote:\s*$`),
	regexp.MustCompile(`(?i)^\s*-{2,}\s*original message\s*-{2,}\s*$`),
	regexp.MustCompile(`(?i)^\s*-{2,}\s*forwarded message\s*-{2,}\s*$`),
	regexp.MustCompile(`(?i)^\s*_{10,}\s*$`), // Outlook divider
}

var (
	fromLine        = regexp.MustCompile(`(?i)^\s*from:\s.+$`)
	forwardedHeader = regexp.MustCompile(`(?i)^\s*(sent|to|cc|date|subject):\s`)
)

// stripQuoted removes quoted prior messages: everything from the first
// quote marker down, plus any ">"-prefixed lines above it.
func stripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	var kept []string
	for i, line := range lines {
		if isQuoteMarker(line) || startsForwardedHeaders(lines, i) {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// startsForwardedHeaders reports whether the line at i opens an inline
// forwarded-header block: a "From:" line with another header line such as
// Sent: or Subject: within the next two lines. A lone "From:" in reply
// prose is kept.
func startsForwardedHeaders(lines []string, i int) bool {
	if !fromLine.MatchString(lines[i]) {
		return false
	}
	for j := i + 1; j < len(lines) && j <= i+2; j++ {
		if forwardedHeader.MatchString(lines[j]) {
			return true
		}
	}
	return false
}

func isQuoteMarker(line string) bool {
	for _, re := range quoteMarkers {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// disclaimerMarkers start legal boilerplate appended by mail gateways.
var disclaimerMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*confidentiality notice`),
	regexp.MustCompile(`(?i)^\s*this e?-?mail (and any attachments|message) (is|are|may)`),
	regexp.MustCompile(`(?i)^\s*the information contained in this`),
	regexp.MustCompile(`(?i)^\s*disclaimer\s*:`),
}

// stripSignature removes the signature delimiter block and trailing
// disclaimer boilerplate.
func stripSignature(body string) string {
	lines := strings.Split(body, "\n")
	end := len(lines)
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "--" || trimmed == "-- " {
			end = i
			break
		}
		if isDisclaimer(line) {
			end = i
			break
		}
	}
	return strings.Join(lines[:end], "\n")
}

func isDisclaimer(line string) bool {
	for _, re := range disclaimerMarkers {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var (
	htmlBreaks   = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/tr|/li)\s*>`)
	htmlTags     = regexp.MustCompile(`<[^>]*>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	styleBlocks  = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)
)

// htmlToText flattens an HTML body into plain text, preserving line breaks
// well enough for the quote and signature strippers to work.
func htmlToText(body string) string {
	body = htmlComments.ReplaceAllString(body, "")
	body = styleBlocks.ReplaceAllString(body, "")
	body = htmlBreaks.ReplaceAllString(body, "\n")
	body = htmlTags.ReplaceAllString(body, "")

	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	return replacer.Replace(body)
}
