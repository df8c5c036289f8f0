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

// Package registry stores the targets (rental communities to shop) and
// personas (fictional renters) that shops are built from.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentshop/engine/internal/models"
)

// ValidateTarget checks that a target carries enough identity to shop it.
func ValidateTarget(t models.Target) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	if strings.TrimSpace(t.EmailAddress) == "" {
		return fmt.Errorf("target email address is required")
	}
	if _, err := mail.ParseAddress(t.EmailAddress); err != nil {
		return fmt.Errorf("target email address %q: %w", t.EmailAddress, err)
	}
	return nil
}

// ValidatePersona checks that a persona can plausibly write an inquiry.
func ValidatePersona(p models.Persona) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("persona first and last name are required")
	}
	if strings.TrimSpace(p.EmailAddress) == "" {
		return fmt.Errorf("persona email address is required")
	}
	if _, err := mail.ParseAddress(p.EmailAddress); err != nil {
		return fmt.Errorf("persona email address %q: %w", p.EmailAddress, err)
	}
	if p.DesiredBedrooms < 0 || p.DesiredBathrooms < 0 {
		return fmt.Errorf("persona bedroom/bathroom counts cannot be negative")
	}
	return nil
}

// Store provides CRUD operations for targets and personas in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a registry store backed by the given Postgres pool.
// It ensures the registry tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure registry schema: %w", err)
	}
	slog.Info("registry store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS targets (
			id               UUID PRIMARY KEY,
			name             TEXT NOT NULL,
			street_address   TEXT DEFAULT '',
			city             TEXT DEFAULT '',
			state            TEXT DEFAULT '',
			zip_code         TEXT DEFAULT '',
			phone_number     TEXT DEFAULT '',
			email_address    TEXT NOT NULL,
			website          TEXT DEFAULT '',
			property_manager TEXT DEFAULT '',
			created_at       TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS personas (
			id                   UUID PRIMARY KEY,
			first_name           TEXT NOT NULL,
			last_name            TEXT NOT NULL,
			email_address        TEXT NOT NULL UNIQUE,
			rental_budget        DOUBLE PRECISION DEFAULT 0,
			desired_bedrooms     INT DEFAULT 0,
			desired_bathrooms    INT DEFAULT 0,
			preferences          TEXT DEFAULT '',
			pets                 TEXT DEFAULT '',
			credit_score         INT DEFAULT 0,
			monthly_income       INT DEFAULT 0,
			additional_occupants TEXT DEFAULT '',
			rental_history       TEXT DEFAULT '',
			created_at           TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// UpsertTarget validates and inserts or updates a target keyed on ID.
func (s *Store) UpsertTarget(ctx context.Context, t models.Target) error {
	if err := ValidateTarget(t); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO targets
			(id, name, street_address, city, state, zip_code,
			 phone_number, email_address, website, property_manager)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			street_address   = EXCLUDED.street_address,
			city             = EXCLUDED.city,
			state            = EXCLUDED.state,
			zip_code         = EXCLUDED.zip_code,
			phone_number     = EXCLUDED.phone_number,
			email_address    = EXCLUDED.email_address,
			website          = EXCLUDED.website,
			property_manager = EXCLUDED.property_manager
	`, t.ID, t.Name, t.StreetAddress, t.City, t.State, t.ZipCode,
		t.PhoneNumber, t.EmailAddress, t.Website, t.PropertyManager)
	return err
}

// GetTarget retrieves a target by ID. Returns (nil, nil) when absent.
func (s *Store) GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, street_address, city, state, zip_code,
		       phone_number, email_address, website, property_manager
		FROM targets
		WHERE id = $1
	`, id)
	var t models.Target
	err := row.Scan(&t.ID, &t.Name, &t.StreetAddress, &t.City, &t.State, &t.ZipCode,
		&t.PhoneNumber, &t.EmailAddress, &t.Website, &t.PropertyManager)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertPersona validates and inserts or updates a persona keyed on ID.
func (s *Store) UpsertPersona(ctx context.Context, p models.Persona) error {
	if err := ValidatePersona(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO personas
			(id, first_name, last_name, email_address, rental_budget,
			 desired_bedrooms, desired_bathrooms, preferences, pets,
			 credit_score, monthly_income, additional_occupants, rental_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			first_name           = EXCLUDED.first_name,
			last_name            = EXCLUDED.last_name,
			email_address        = EXCLUDED.email_address,
			rental_budget        = EXCLUDED.rental_budget,
			desired_bedrooms     = EXCLUDED.desired_bedrooms,
			desired_bathrooms    = EXCLUDED.desired_bathrooms,
			preferences          = EXCLUDED.preferences,
			pets                 = EXCLUDED.pets,
			credit_score         = EXCLUDED.credit_score,
			monthly_income       = EXCLUDED.monthly_income,
			additional_occupants = EXCLUDED.additional_occupants,
			rental_history       = EXCLUDED.rental_history
	`, p.ID, p.FirstName, p.LastName, p.EmailAddress, p.RentalBudget,
		p.DesiredBedrooms, p.DesiredBathrooms, p.Preferences, p.Pets,
		p.CreditScore, p.MonthlyIncome, p.AdditionalOccupants, p.RentalHistory)
	return err
}

// GetPersona retrieves a persona by ID. Returns (nil, nil) when absent.
func (s *Store) GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email_address, rental_budget,
		       desired_bedrooms, desired_bathrooms, preferences, pets,
		       credit_score, monthly_income, additional_occupants, rental_history
		FROM personas
		WHERE id = $1
	`, id)
	var p models.Persona
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.EmailAddress, &p.RentalBudget,
		&p.DesiredBedrooms, &p.DesiredBathrooms, &p.Preferences, &p.Pets,
		&p.CreditScore, &p.MonthlyIncome, &p.AdditionalOccupants, &p.RentalHistory)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPersonaByEmail resolves a persona from its mailbox address, used when
// routing inbound mail without a shop hint.
func (s *Store) GetPersonaByEmail(ctx context.Context, address string) (*models.Persona, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email_address, rental_budget,
		       desired_bedrooms, desired_bathrooms, preferences, pets,
		       credit_score, monthly_income, additional_occupants, rental_history
		FROM personas
		WHERE LOWER(email_address) = LOWER($1)
	`, address)
	var p models.Persona
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.EmailAddress, &p.RentalBudget,
		&p.DesiredBedrooms, &p.DesiredBathrooms, &p.Preferences, &p.Pets,
		&p.CreditScore, &p.MonthlyIncome, &p.AdditionalOccupants, &p.RentalHistory)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
