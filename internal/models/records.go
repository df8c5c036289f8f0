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

import (
	"fmt"

	"github.com/google/uuid"
)

// Target represents the rental property being shopped. Targets are created
// by the surrounding application; the engine holds a read-only reference.
type Target struct {
	ID              uuid.UUID
	Name            string
	StreetAddress   string
	City            string
	State           string
	ZipCode         string
	PhoneNumber     string
	EmailAddress    string
	Website         string
	PropertyManager string
}

// Persona is the fictitious prospective renter used to converse with the
// leasing agent. Read-only input to the engine.
type Persona struct {
	ID                  uuid.UUID
	FirstName           string
	LastName            string
	EmailAddress        string
	RentalBudget        float64
	DesiredBedrooms     int
	DesiredBathrooms    int
	Preferences         string
	Pets                string
	CreditScore         int
	MonthlyIncome       int
	AdditionalOccupants string
	RentalHistory       string
}

// FullName returns the persona's display name for email signatures.
func (p *Persona) FullName() string {
	return fmt.Sprintf("%s %s", p.FirstName, p.LastName)
}
