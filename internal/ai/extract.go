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
	"fmt"
	"strings"

	"github.com/rentshop/engine/internal/models"
)

// ExtractionError means extraction failed permanently for one message:
// the model could not produce schema-conformant output within the retry
// budget, or the model call itself failed.
type ExtractionError struct {
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// extractAttempts is the total attempt budget per message. The second
// attempt carries a corrective instruction naming the first violation.
const extractAttempts = 2

// Extractor pulls structured community data out of agent reply text.
type Extractor struct {
	Client Client
}

// Extract returns the partial profile found in body, or (nil, nil) when the
// reply genuinely carries no community data. A hard failure after retries is
// an *ExtractionError.
func (x *Extractor) Extract(ctx context.Context, target models.Target, body string) (*models.CommunityProfile, error) {
	var lastErr error
	for attempt := 1; attempt <= extractAttempts; attempt++ {
		prompt := x.buildPrompt(target, body, lastErr)
		raw, err := x.Client.GenerateJSON(ctx, prompt)
		if err != nil {
			return nil, &ExtractionError{Attempts: attempt, Err: err}
		}
		profile, err := decodeCommunity(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if profile.IsEmpty() {
			return nil, nil
		}
		return profile, nil
	}
	return nil, &ExtractionError{Attempts: extractAttempts, Err: lastErr}
}

func (x *Extractor) buildPrompt(target models.Target, body string, prior error) string {
	var b bytes.Buffer
	writeSection(&b, "TASK", strings.Join([]string{
		"You are reading an email reply from a leasing agent at a rental community.",
		"Extract every factual detail about the community into the JSON schema below.",
		"Use the zero value (empty string, 0, empty array) for anything the email does not state.",
		"Do not guess or infer values the agent did not provide.",
	}, "\n"))
	writeSection(&b, "PROPERTY", fmt.Sprintf("Community: %s\nAddress: %s, %s, %s %s",
		target.Name, target.StreetAddress, target.City, target.State, target.ZipCode))
	writeSection(&b, "EMAIL", body)
	if prior != nil {
		writeSection(&b, "CORRECTION", strings.Join([]string{
			"Your previous answer was rejected: " + prior.Error() + ".",
			"Respond again with a JSON object containing exactly the schema's fields and no others.",
		}, "\n"))
	}
	writeSection(&b, "OUTPUT_FORMAT", strings.Join([]string{
		"Respond with a single JSON object matching this schema exactly.",
		"Every top-level key must be present. Do not add keys. Do not wrap the object in markdown.",
		schemaDescription,
	}, "\n"))
	return b.String()
}
