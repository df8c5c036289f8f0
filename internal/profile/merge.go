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

// Package profile folds partial extractions into one community profile and
// decides whether the profile is complete enough to stop asking questions.
// Merge is pure and deterministic so it can be tested without any AI or
// storage dependency.
package profile

import (
	"strings"

	"github.com/rentshop/engine/internal/models"
)

// Merge combines an existing profile with a newly extracted partial.
//
// Scalars: the new value wins when non-zero, since later replies are assumed
// corrective. Collections: union by identity key — page by (name, url), floor
// plan by (name, beds, baths), amenity by name — with non-zero attributes of
// an existing entry refreshed in place rather than duplicated.
func Merge(existing, partial models.CommunityProfile) models.CommunityProfile {
	merged := existing

	merged.Name = pickString(existing.Name, partial.Name)
	merged.Overview = pickString(existing.Overview, partial.Overview)
	merged.URL = pickString(existing.URL, partial.URL)
	merged.ApplicationFee = pickFloat(existing.ApplicationFee, partial.ApplicationFee)
	merged.AdministrationFee = pickFloat(existing.AdministrationFee, partial.AdministrationFee)
	merged.MembershipFee = pickFloat(existing.MembershipFee, partial.MembershipFee)
	merged.PetPolicy = pickString(existing.PetPolicy, partial.PetPolicy)
	merged.OfficeHours = pickString(existing.OfficeHours, partial.OfficeHours)
	merged.SpecialOffers = pickString(existing.SpecialOffers, partial.SpecialOffers)

	merged.CommunityPages = mergePages(existing.CommunityPages, partial.CommunityPages)
	merged.FloorPlans = mergeFloorPlans(existing.FloorPlans, partial.FloorPlans)
	merged.CommunityAmenities = mergeAmenities(existing.CommunityAmenities, partial.CommunityAmenities)

	return merged
}

func pickString(old, new string) string {
	if strings.TrimSpace(new) != "" {
		return new
	}
	return old
}

func pickFloat(old, new float64) float64 {
	if new != 0 {
		return new
	}
	return old
}

func mergePages(existing, incoming []models.CommunityPage) []models.CommunityPage {
	merged := append([]models.CommunityPage(nil), existing...)
	for _, page := range incoming {
		if strings.TrimSpace(page.Name) == "" && strings.TrimSpace(page.URL) == "" {
			continue
		}
		idx := -1
		for i := range merged {
			if strings.EqualFold(merged[i].Name, page.Name) && strings.EqualFold(merged[i].URL, page.URL) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, page)
			continue
		}
		merged[idx].Overview = pickString(merged[idx].Overview, page.Overview)
	}
	return merged
}

func mergeFloorPlans(existing, incoming []models.FloorPlan) []models.FloorPlan {
	merged := append([]models.FloorPlan(nil), existing...)
	for _, plan := range incoming {
		if strings.TrimSpace(plan.Name) == "" {
			continue
		}
		idx := -1
		for i := range merged {
			if strings.EqualFold(merged[i].Name, plan.Name) &&
				merged[i].Beds == plan.Beds && merged[i].Baths == plan.Baths {
				idx = i
				break
			}
		}
		if idx < 0 {
			plan.Amenities = dedupeStrings(plan.Amenities)
			merged = append(merged, plan)
			continue
		}
		merged[idx].URL = pickString(merged[idx].URL, plan.URL)
		merged[idx].Type = pickString(merged[idx].Type, plan.Type)
		merged[idx].Sqft = pickFloat(merged[idx].Sqft, plan.Sqft)
		merged[idx].MinRentalPrice = pickFloat(merged[idx].MinRentalPrice, plan.MinRentalPrice)
		merged[idx].MaxRentalPrice = pickFloat(merged[idx].MaxRentalPrice, plan.MaxRentalPrice)
		merged[idx].SecurityDeposit = pickFloat(merged[idx].SecurityDeposit, plan.SecurityDeposit)
		merged[idx].Amenities = dedupeStrings(append(merged[idx].Amenities, plan.Amenities...))
	}
	return merged
}

func mergeAmenities(existing, incoming []models.Amenity) []models.Amenity {
	merged := append([]models.Amenity(nil), existing...)
	for _, amenity := range incoming {
		if strings.TrimSpace(amenity.Name) == "" {
			continue
		}
		idx := -1
		for i := range merged {
			if strings.EqualFold(merged[i].Name, amenity.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, amenity)
			continue
		}
		merged[idx].Description = pickString(merged[idx].Description, amenity.Description)
	}
	return merged
}

// dedupeStrings removes case-insensitive duplicates, keeping first occurrence order.
func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
