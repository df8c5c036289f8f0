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

package models

// CommunityProfile is the accumulating extraction result for one shop.
// Zero values ("" and 0) mean "unknown"; the merge policy only lets a
// non-zero value replace an earlier one.
type CommunityProfile struct {
	Name              string  `json:"name"`
	Overview          string  `json:"overview"`
	URL               string  `json:"url"`
	ApplicationFee    float64 `json:"application_fee"`
	AdministrationFee float64 `json:"administration_fee"`
	MembershipFee     float64 `json:"membership_fee"`
	PetPolicy         string  `json:"pet_policy"`
	OfficeHours       string  `json:"office_hours,omitempty"`
	SpecialOffers     string  `json:"special_offers,omitempty"`

	CommunityPages     []CommunityPage `json:"community_pages"`
	FloorPlans         []FloorPlan     `json:"floor_plans"`
	CommunityAmenities []Amenity       `json:"community_amenities"`
}

// CommunityPage is a page associated with the community (pricing page,
// pet policy page, resident portal, ...).
type CommunityPage struct {
	Name     string `json:"name"`
	Overview string `json:"overview"`
	URL      string `json:"url"`
}

// FloorPlan describes one unit layout offered by the community.
// Beds and baths are floats because half-baths exist.
type FloorPlan struct {
	Name            string   `json:"name"`
	Beds            float64  `json:"beds"`
	Baths           float64  `json:"baths"`
	URL             string   `json:"url"`
	Sqft            float64  `json:"sqft"`
	Type            string   `json:"type"`
	MinRentalPrice  float64  `json:"min_rental_price"`
	MaxRentalPrice  float64  `json:"max_rental_price"`
	SecurityDeposit float64  `json:"security_deposit"`
	Amenities       []string `json:"amenities"`
}

// HasPricing reports whether the floor plan carries at least one rental price.
func (f *FloorPlan) HasPricing() bool {
	return f.MinRentalPrice > 0 || f.MaxRentalPrice > 0
}

// Amenity is a community-level amenity.
type Amenity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IsEmpty reports whether the profile carries no extracted facts at all.
func (p *CommunityProfile) IsEmpty() bool {
	return p.Name == "" && p.Overview == "" && p.URL == "" &&
		p.ApplicationFee == 0 && p.AdministrationFee == 0 && p.MembershipFee == 0 &&
		p.PetPolicy == "" && p.OfficeHours == "" && p.SpecialOffers == "" &&
		len(p.CommunityPages) == 0 && len(p.FloorPlans) == 0 && len(p.CommunityAmenities) == 0
}
