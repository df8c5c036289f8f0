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

import (
	"reflect"
	"testing"

	"github.com/rentshop/engine/internal/models"
)

// TestMerge_ScalarsLastKnownWins verifies non-zero new values replace old
// ones and zero values never erase known data.
func TestMerge_ScalarsLastKnownWins(t *testing.T) {
	existing := models.CommunityProfile{
		Name:           "Maple Court",
		ApplicationFee: 50,
		PetPolicy:      "cats only",
	}
	partial := models.CommunityProfile{
		ApplicationFee: 75,             // corrective value wins
		PetPolicy:      "",             // silence keeps the old answer
		Overview:       "Garden-style", // new fact lands
	}

	got := Merge(existing, partial)

	if got.Name != "Maple Court" {
		t.Errorf("Name = %q, want Maple Court", got.Name)
	}
	if got.ApplicationFee != 75 {
		t.Errorf("ApplicationFee = %v, want 75", got.ApplicationFee)
	}
	if got.PetPolicy != "cats only" {
		t.Errorf("PetPolicy = %q, want cats only", got.PetPolicy)
	}
	if got.Overview != "Garden-style" {
		t.Errorf("Overview = %q, want Garden-style", got.Overview)
	}
}

// TestMerge_FloorPlanIdentity verifies floor plans merge by (name, beds,
// baths) with in-place refresh of missing attributes.
func TestMerge_FloorPlanIdentity(t *testing.T) {
	existing := models.CommunityProfile{
		FloorPlans: []models.FloorPlan{
			{Name: "The Aspen", Beds: 2, Baths: 2, MinRentalPrice: 1400, Amenities: []string{"Balcony"}},
		},
	}
	partial := models.CommunityProfile{
		FloorPlans: []models.FloorPlan{
			// Same identity: fills sqft, unions amenities, keeps price.
			{Name: "the aspen", Beds: 2, Baths: 2, Sqft: 980, Amenities: []string{"balcony", "Washer/Dryer"}},
			// Different bath count is a different plan.
			{Name: "The Aspen", Beds: 2, Baths: 1, MinRentalPrice: 1250},
		},
	}

	got := Merge(existing, partial).FloorPlans
	if len(got) != 2 {
		t.Fatalf("len(FloorPlans) = %d, want 2", len(got))
	}
	if got[0].Sqft != 980 || got[0].MinRentalPrice != 1400 {
		t.Errorf("refreshed plan = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].Amenities, []string{"Balcony", "Washer/Dryer"}) {
		t.Errorf("Amenities = %v", got[0].Amenities)
	}
	if got[1].Baths != 1 || got[1].MinRentalPrice != 1250 {
		t.Errorf("new plan = %+v", got[1])
	}
}

// TestMerge_AmenityAndPageIdentity verifies amenity-by-name and
// page-by-(name,url) dedup.
func TestMerge_AmenityAndPageIdentity(t *testing.T) {
	existing := models.CommunityProfile{
		CommunityAmenities: []models.Amenity{{Name: "Pool"}},
		CommunityPages:     []models.CommunityPage{{Name: "Home", URL: "https://maple.example.com"}},
	}
	partial := models.CommunityProfile{
		CommunityAmenities: []models.Amenity{
			{Name: "pool", Description: "Heated, open year round"},
			{Name: "Gym"},
		},
		CommunityPages: []models.CommunityPage{
			{Name: "Home", URL: "https://maple.example.com", Overview: "Landing page"},
			{Name: "Home", URL: "https://maple.example.com/floorplans"},
		},
	}

	got := Merge(existing, partial)

	if len(got.CommunityAmenities) != 2 {
		t.Fatalf("len(CommunityAmenities) = %d, want 2", len(got.CommunityAmenities))
	}
	if got.CommunityAmenities[0].Description != "Heated, open year round" {
		t.Errorf("Description = %q", got.CommunityAmenities[0].Description)
	}
	if len(got.CommunityPages) != 2 {
		t.Fatalf("len(CommunityPages) = %d, want 2", len(got.CommunityPages))
	}
	if got.CommunityPages[0].Overview != "Landing page" {
		t.Errorf("Overview = %q", got.CommunityPages[0].Overview)
	}
}

// TestMerge_CollectionOrderInsensitive verifies two partials reach the same
// set of entries regardless of arrival order.
func TestMerge_CollectionOrderInsensitive(t *testing.T) {
	a := models.CommunityProfile{
		FloorPlans: []models.FloorPlan{{Name: "A1", Beds: 1, Baths: 1, MinRentalPrice: 1100}},
	}
	b := models.CommunityProfile{
		FloorPlans: []models.FloorPlan{{Name: "B2", Beds: 2, Baths: 2, MinRentalPrice: 1500}},
	}

	ab := Merge(Merge(models.CommunityProfile{}, a), b)
	ba := Merge(Merge(models.CommunityProfile{}, b), a)

	if len(ab.FloorPlans) != 2 || len(ba.FloorPlans) != 2 {
		t.Fatalf("plan counts = %d, %d, want 2, 2", len(ab.FloorPlans), len(ba.FloorPlans))
	}
	names := func(plans []models.FloorPlan) map[string]bool {
		out := make(map[string]bool)
		for _, p := range plans {
			out[p.Name] = true
		}
		return out
	}
	if !reflect.DeepEqual(names(ab.FloorPlans), names(ba.FloorPlans)) {
		t.Errorf("merge order changed the plan set: %v vs %v", ab.FloorPlans, ba.FloorPlans)
	}
}

// TestEvaluate verifies the completeness check against required fields.
func TestEvaluate(t *testing.T) {
	required := []string{FieldName, FieldOverview, FieldPetPolicy, FieldFloorPlans}

	tests := []struct {
		name        string
		profile     models.CommunityProfile
		wantOK      bool
		wantMissing []string
	}{
		{
			name:        "empty profile",
			profile:     models.CommunityProfile{},
			wantOK:      false,
			wantMissing: []string{FieldName, FieldOverview, FieldPetPolicy, FieldFloorPlans},
		},
		{
			name: "floor plan without pricing does not count",
			profile: models.CommunityProfile{
				Name:       "Maple Court",
				Overview:   "Garden-style",
				PetPolicy:  "cats and dogs, $300 deposit",
				FloorPlans: []models.FloorPlan{{Name: "A1", Beds: 1, Baths: 1}},
			},
			wantOK:      false,
			wantMissing: []string{FieldFloorPlans},
		},
		{
			name: "complete",
			profile: models.CommunityProfile{
				Name:       "Maple Court",
				Overview:   "Garden-style",
				PetPolicy:  "cats and dogs, $300 deposit",
				FloorPlans: []models.FloorPlan{{Name: "A1", Beds: 1, Baths: 1, MaxRentalPrice: 1300}},
			},
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := Evaluate(tt.profile, required)
			if eval.Complete != tt.wantOK {
				t.Errorf("Complete = %v, want %v", eval.Complete, tt.wantOK)
			}
			if !reflect.DeepEqual(eval.Missing, tt.wantMissing) {
				t.Errorf("Missing = %v, want %v", eval.Missing, tt.wantMissing)
			}
		})
	}
}

// TestEvaluate_UnknownField verifies a misconfigured field name reads as
// permanently missing.
func TestEvaluate_UnknownField(t *testing.T) {
	eval := Evaluate(models.CommunityProfile{Name: "Maple Court"}, []string{"name", "petz_policy"})
	if eval.Complete {
		t.Error("Complete = true, want false for unknown field")
	}
	if len(eval.Missing) != 1 || eval.Missing[0] != "petz_policy" {
		t.Errorf("Missing = %v", eval.Missing)
	}
}
