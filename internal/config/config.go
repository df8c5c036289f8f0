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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailTenant holds credentials for the mailbox provider used to send
// persona email and fetch replies.
type MailTenant struct {
	Provider      string `yaml:"provider"` // "m365" (Graph) or "fake" for local runs
	TenantID      string `yaml:"tenant_id"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	SenderDomain  string `yaml:"sender_domain"`  // domain for generated Message-Ids
	SharedMailbox string `yaml:"shared_mailbox"` // mailbox polled for replies, if polling is enabled
}

// Config holds all configuration for the shop engine.
type Config struct {
	Mail MailTenant

	// Conversation policy
	ResponseDeadline time.Duration // how long to wait for an agent reply
	MaxFollowUps     int           // hard cap on follow-up messages per shop
	ComposeRetries   int           // attempts before a composition failure is terminal
	UnparsableLimit  int           // consecutive unparsable replies before the shop fails
	RequiredFields   []string      // profile fields that define "complete"

	// AI
	GeminiModel string

	// Inbound polling (fallback when no public webhook exists)
	PollInterval time.Duration
	PollLookback time.Duration

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL      string
	FinishedQueue string

	// Servers
	WebhookPort int
	Port        int // health check
}

// DefaultRequiredFields is the minimum profile considered complete: the
// community identity, its pet policy, and at least one priced floor plan.
var DefaultRequiredFields = []string{"name", "overview", "pet_policy", "floor_plans"}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mail  MailTenant `yaml:"mail"`
	Shops struct {
		ResponseDeadline string   `yaml:"response_deadline"`
		MaxFollowUps     *int     `yaml:"max_follow_ups"`
		ComposeRetries   *int     `yaml:"compose_retries"`
		UnparsableLimit  *int     `yaml:"unparsable_limit"`
		RequiredFields   []string `yaml:"required_fields"`
	} `yaml:"shops"`
	AI struct {
		GeminiModel string `yaml:"gemini_model"`
	} `yaml:"ai"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Finished string `yaml:"finished"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mail:             raw.Mail,
		ResponseDeadline: envOrDefaultDuration("RESPONSE_DEADLINE", 72*time.Hour),
		MaxFollowUps:     2,
		ComposeRetries:   3,
		UnparsableLimit:  3,
		RequiredFields:   DefaultRequiredFields,
		GeminiModel:      firstNonEmpty(raw.AI.GeminiModel, envOrDefault("GEMINI_MODEL", "gemini-2.5-flash")),
		PollInterval:     envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		PollLookback:     envOrDefaultDuration("POLL_LOOKBACK", 3*time.Hour),
		DatabaseURL:      firstNonEmpty(raw.Postgres.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/rentshop")),
		RedisURL:         firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		FinishedQueue:    firstNonEmpty(raw.Redis.Queues.Finished, envOrDefault("FINISHED_QUEUE", "shops.finished")),
		WebhookPort:      envOrDefaultInt("WEBHOOK_PORT", 8081),
		Port:             envOrDefaultInt("PORT", 8080),
	}

	if raw.Shops.ResponseDeadline != "" {
		d, err := time.ParseDuration(raw.Shops.ResponseDeadline)
		if err != nil {
			return nil, fmt.Errorf("invalid shops.response_deadline %q: %w", raw.Shops.ResponseDeadline, err)
		}
		cfg.ResponseDeadline = d
	}
	if raw.Shops.MaxFollowUps != nil {
		cfg.MaxFollowUps = *raw.Shops.MaxFollowUps
	}
	if raw.Shops.ComposeRetries != nil {
		cfg.ComposeRetries = *raw.Shops.ComposeRetries
	}
	if raw.Shops.UnparsableLimit != nil {
		cfg.UnparsableLimit = *raw.Shops.UnparsableLimit
	}
	if len(raw.Shops.RequiredFields) > 0 {
		cfg.RequiredFields = raw.Shops.RequiredFields
	}

	if cfg.MaxFollowUps < 0 {
		return nil, fmt.Errorf("shops.max_follow_ups must not be negative")
	}
	if cfg.ResponseDeadline <= 0 {
		return nil, fmt.Errorf("shops.response_deadline must be positive")
	}

	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "m365"
	}
	if cfg.Mail.SenderDomain == "" {
		cfg.Mail.SenderDomain = "rentshop.local"
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
