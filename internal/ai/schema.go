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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rentshop/engine/internal/models"
)

// SchemaViolation means the model's extraction output did not match the
// closed community schema: an unknown field, a missing required field, or
// a type mismatch.
type SchemaViolation struct {
	Reason string
}

func (e *SchemaViolation) Error() string {
	return "extraction schema violation: " + e.Reason
}

// communityKeys is the closed set of top-level extraction fields. Every key
// must be present in every extraction response; anything else is rejected.
var communityKeys = []string{
	"name",
	"overview",
	"url",
	"application_fee",
	"administration_fee",
	"membership_fee",
	"pet_policy",
	"office_hours",
	"special_offers",
	"community_pages",
	"floor_plans",
	"community_amenities",
}

// Wire types for the extraction response. Amenities arrive as {"amenity": ...}
// objects, matching the schema handed to the model.
type wireAmenity struct {
	Amenity string `json:"amenity"`
}

type wirePage struct {
	Name     string `json:"name"`
	Overview string `json:"overview"`
	URL      string `json:"url"`
}

type wireFloorPlan struct {
	Name               string        `json:"name"`
	Beds               float64       `json:"beds"`
	Baths              float64       `json:"baths"`
	URL                string        `json:"url"`
	Sqft               float64       `json:"sqft"`
	Type               string        `json:"type"`
	MinRentalPrice     float64       `json:"min_rental_price"`
	MaxRentalPrice     float64       `json:"max_rental_price"`
	SecurityDeposit    float64       `json:"security_deposit"`
	FloorPlanAmenities []wireAmenity `json:"floor_plan_amenities"`
}

type wireCommunity struct {
	Name               string          `json:"name"`
	Overview           string          `json:"overview"`
	URL                string          `json:"url"`
	ApplicationFee     float64         `json:"application_fee"`
	AdministrationFee  float64         `json:"administration_fee"`
	MembershipFee      float64         `json:"membership_fee"`
	PetPolicy          string          `json:"pet_policy"`
	OfficeHours        string          `json:"office_hours"`
	SpecialOffers      string          `json:"special_offers"`
	CommunityPages     []wirePage      `json:"community_pages"`
	FloorPlans         []wireFloorPlan `json:"floor_plans"`
	CommunityAmenities []wireAmenity   `json:"community_amenities"`
}

// decodeCommunity validates raw model output against the closed schema and
// converts it to a domain profile. Unknown values are zero placeholders, not
// absent keys: a missing key is a violation just like an extra one.
func decodeCommunity(raw json.RawMessage) (*models.CommunityProfile, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, &SchemaViolation{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	known := make(map[string]bool, len(communityKeys))
	for _, k := range communityKeys {
		known[k] = true
	}

	var extra, missing []string
	for k := range keys {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	for _, k := range communityKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(extra)
	sort.Strings(missing)
	if len(extra) > 0 {
		return nil, &SchemaViolation{Reason: "unexpected fields: " + strings.Join(extra, ", ")}
	}
	if len(missing) > 0 {
		return nil, &SchemaViolation{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var wire wireCommunity
	if err := dec.Decode(&wire); err != nil {
		return nil, &SchemaViolation{Reason: err.Error()}
	}

	return wire.toProfile(), nil
}

func (w *wireCommunity) toProfile() *models.CommunityProfile {
	p := &models.CommunityProfile{
		Name:              strings.TrimSpace(w.Name),
		Overview:          strings.TrimSpace(w.Overview),
		URL:               strings.TrimSpace(w.URL),
		ApplicationFee:    w.ApplicationFee,
		AdministrationFee: w.AdministrationFee,
		MembershipFee:     w.MembershipFee,
		PetPolicy:         strings.TrimSpace(w.PetPolicy),
		OfficeHours:       strings.TrimSpace(w.OfficeHours),
		SpecialOffers:     strings.TrimSpace(w.SpecialOffers),
	}
	for _, pg := range w.CommunityPages {
		if strings.TrimSpace(pg.Name) == "" && strings.TrimSpace(pg.URL) == "" {
			continue
		}
		p.CommunityPages = append(p.CommunityPages, models.CommunityPage(pg))
	}
	for _, fp := range w.FloorPlans {
		if strings.TrimSpace(fp.Name) == "" {
			continue
		}
		plan := models.FloorPlan{
			Name:            strings.TrimSpace(fp.Name),
			Beds:            fp.Beds,
			Baths:           fp.Baths,
			URL:             fp.URL,
			Sqft:            fp.Sqft,
			Type:            fp.Type,
			MinRentalPrice:  fp.MinRentalPrice,
			MaxRentalPrice:  fp.MaxRentalPrice,
			SecurityDeposit: fp.SecurityDeposit,
		}
		for _, a := range fp.FloorPlanAmenities {
			if strings.TrimSpace(a.Amenity) != "" {
				plan.Amenities = append(plan.Amenities, strings.TrimSpace(a.Amenity))
			}
		}
		p.FloorPlans = append(p.FloorPlans, plan)
	}
	for _, a := range w.CommunityAmenities {
		if strings.TrimSpace(a.Amenity) != "" {
			p.CommunityAmenities = append(p.CommunityAmenities, models.Amenity{Name: strings.TrimSpace(a.Amenity)})
		}
	}
	return p
}

// schemaDescription is the schema text embedded in extraction prompts.
const schemaDescription = `{
  "name": string,                     // community name, "" if unknown
  "overview": string,                 // community description, "" if unknown
  "url": string,                      // community website, "" if unknown
  "application_fee": number,          // dollars, 0 if unknown
  "administration_fee": number,       // dollars, 0 if unknown
  "membership_fee": number,           // dollars, 0 if unknown
  "pet_policy": string,               // policy and pet fees, "" if unknown
  "office_hours": string,             // "" if unknown
  "special_offers": string,           // "" if unknown
  "community_pages": [{"name": string, "overview": string, "url": string}],
  "floor_plans": [{"name": string, "beds": number, "baths": number, "url": string,
                   "sqft": number, "type": string, "min_rental_price": number,
                   "max_rental_price": number, "security_deposit": number,
                   "floor_plan_amenities": [{"amenity": string}]}],
  "community_amenities": [{"amenity": string}]
}`
