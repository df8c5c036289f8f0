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

package profile

import "github.com/rentshop/engine/internal/models"

// Field names accepted in the required-fields configuration.
const (
	FieldName              = "name"
	FieldOverview          = "overview"
	FieldURL               = "url"
	FieldApplicationFee    = "application_fee"
	FieldAdministrationFee = "administration_fee"
	FieldMembershipFee     = "membership_fee"
	FieldPetPolicy         = "pet_policy"
	FieldOfficeHours       = "office_hours"
	FieldSpecialOffers     = "special_offers"

	// FieldFloorPlans requires at least one floor plan carrying pricing.
	FieldFloorPlans = "floor_plans"

	// FieldCommunityAmenities requires at least one community amenity.
	FieldCommunityAmenities = "community_amenities"
)

// Evaluation is the outcome of a completeness check.
type Evaluation struct {
	Complete bool
	Missing  []string
}

// Evaluate checks the profile against the configured required fields.
// Unknown field names count as missing so a config typo surfaces as an
// endlessly-incomplete shop in tests rather than silent acceptance.
func Evaluate(p models.CommunityProfile, required []string) Evaluation {
	var missing []string
	for _, field := range required {
		if !present(p, field) {
			missing = append(missing, field)
		}
	}
	return Evaluation{Complete: len(missing) == 0, Missing: missing}
}

func present(p models.CommunityProfile, field string) bool {
	switch field {
	case FieldName:
		return p.Name != ""
	case FieldOverview:
		return p.Overview != ""
	case FieldURL:
		return p.URL != ""
	case FieldApplicationFee:
		return p.ApplicationFee > 0
	case FieldAdministrationFee:
		return p.AdministrationFee > 0
	case FieldMembershipFee:
		return p.MembershipFee > 0
	case FieldPetPolicy:
		return p.PetPolicy != ""
	case FieldOfficeHours:
		return p.OfficeHours != ""
	case FieldSpecialOffers:
		return p.SpecialOffers != ""
	case FieldFloorPlans:
		for i := range p.FloorPlans {
			if p.FloorPlans[i].HasPricing() {
				return true
			}
		}
		return false
	case FieldCommunityAmenities:
		return len(p.CommunityAmenities) > 0
	default:
		return false
	}
}
