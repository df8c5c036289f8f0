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
	"fmt"
	"strings"

	"github.com/rentshop/engine/internal/models"
)

// writeSection appends a titled prompt section, skipping empty bodies.
func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// personaSection renders the persona's renter profile for composition prompts.
func personaSection(p *models.Persona) string {
	lines := []string{
		fmt.Sprintf("Name: %s", p.FullName()),
		fmt.Sprintf("Email: %s", p.EmailAddress),
		fmt.Sprintf("Monthly rental budget: $%.0f", p.RentalBudget),
		fmt.Sprintf("Looking for: %d bed / %d bath", p.DesiredBedrooms, p.DesiredBathrooms),
	}
	if p.Pets != "" {
		lines = append(lines, "Pets: "+p.Pets)
	}
	if p.AdditionalOccupants != "" {
		lines = append(lines, "Additional occupants: "+p.AdditionalOccupants)
	}
	if p.Preferences != "" {
		lines = append(lines, "Preferences: "+p.Preferences)
	}
	if p.RentalHistory != "" {
		lines = append(lines, "Rental history: "+p.RentalHistory)
	}
	return formatList(lines)
}

// targetSection renders the property the persona is inquiring about.
func targetSection(t *models.Target) string {
	lines := []string{
		fmt.Sprintf("Property: %s", t.Name),
		fmt.Sprintf("Address: %s, %s, %s %s", t.StreetAddress, t.City, t.State, t.ZipCode),
	}
	if t.Website != "" {
		lines = append(lines, "Website: "+t.Website)
	}
	if t.PropertyManager != "" {
		lines = append(lines, "Managed by: "+t.PropertyManager)
	}
	return formatList(lines)
}

// Turn is one entry of the conversation transcript passed to composition.
type Turn struct {
	Author string // persona name or "Agent"
	Body   string
}

func historySection(history []Turn) string {
	var buf strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&buf, "%s:\n%s\n\n", turn.Author, strings.TrimSpace(turn.Body))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// gapQuestions maps missing profile fields to what the persona should ask about.
var gapQuestions = map[string]string{
	"name":                "the official name of the community",
	"overview":            "a general description of the community",
	"url":                 "a link to the community website",
	"application_fee":     "the application fee",
	"administration_fee":  "the administration fee",
	"membership_fee":      "any membership or amenity fee",
	"pet_policy":          "the pet policy and any pet fees or deposits",
	"office_hours":        "the leasing office hours",
	"special_offers":      "any current specials or move-in offers",
	"floor_plans":         "available floor plans with their rental prices",
	"community_amenities": "the community amenities",
}

func gapSection(gaps []string) string {
	items := make([]string, 0, len(gaps))
	for _, g := range gaps {
		if q, ok := gapQuestions[g]; ok {
			items = append(items, q)
		} else {
			items = append(items, g)
		}
	}
	return formatList(items)
}
