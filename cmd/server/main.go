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

// RentShop — Shop Orchestration Engine
//
// Entry point for the shop engine service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the mail, AI, and reporting collaborators
//  4. Serves the inbound email webhook
//  5. Runs the timeout sweeper and the mailbox polling fallback
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rentshop/engine/internal/ai"
	"github.com/rentshop/engine/internal/config"
	"github.com/rentshop/engine/internal/engine"
	"github.com/rentshop/engine/internal/lease"
	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/mailpoll"
	"github.com/rentshop/engine/internal/models"
	"github.com/rentshop/engine/internal/registry"
	"github.com/rentshop/engine/internal/report"
	"github.com/rentshop/engine/internal/shop"
	"github.com/rentshop/engine/internal/webhook"
)

const sweepInterval = time.Minute

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting rentshop engine")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"response_deadline", cfg.ResponseDeadline,
		"max_follow_ups", cfg.MaxFollowUps,
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := report.NewPublisher(rdb, cfg.FinishedQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	shops, err := shop.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise shop store", "error", err)
		os.Exit(1)
	}
	directory, err := registry.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise registry store", "error", err)
		os.Exit(1)
	}

	// --- Mail client (OAuth2 client credentials) ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Mail.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	mailClient := creds.Client(ctx)

	sender := mailer.NewGraphMailer(mailClient, mailer.DefaultGraphBaseURL, cfg.Mail.SenderDomain)
	fetcher := mailer.NewFetcher(mailClient, mailer.DefaultGraphBaseURL)

	// --- AI client ---
	gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiModel)
	if err != nil {
		slog.Error("failed to initialise Gemini client", "error", err)
		os.Exit(1)
	}

	// --- Orchestrator ---
	orch := &engine.Orchestrator{
		Shops:     shops,
		Directory: directory,
		Composer:  &ai.Composer{Client: gemini, Retries: cfg.ComposeRetries},
		Extractor: &ai.Extractor{Client: gemini},
		Sender:    sender,
		Locks:     lease.NewLocker(rdb),
		Seen:      lease.NewFilter(rdb),
		Reporter:  publisher,
		Policy: engine.Policy{
			ResponseDeadline: cfg.ResponseDeadline,
			MaxFollowUps:     cfg.MaxFollowUps,
			UnparsableLimit:  cfg.UnparsableLimit,
			RequiredFields:   cfg.RequiredFields,
		},
	}

	// --- Inbound webhook server ---
	handler := webhook.NewHandler(orch)
	ready, err := webhook.Serve(ctx, cfg.WebhookPort, handler)
	if err != nil {
		slog.Error("failed to start inbound server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Timeout sweeper ---
	sweeper := engine.NewSweeper(orch, sweepInterval)
	sweeper.Start(ctx)

	// --- Polling fallback for inbound mail ---
	var poller *mailpoll.Poller
	if cfg.Mail.SharedMailbox != "" {
		poller = mailpoll.NewPoller(mailpoll.PollerConfig{
			HTTPClient: mailClient,
			Fetcher:    fetcher,
			Mailboxes:  []string{cfg.Mail.SharedMailbox},
			Interval:   cfg.PollInterval,
			Lookback:   cfg.PollLookback,
			Ingest: func(ctx context.Context, email *models.InboundEmail) error {
				return orch.IngestInbound(ctx, uuid.Nil, email)
			},
		})
		poller.Start(ctx)
	}

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop all background goroutines

		sweeper.Stop()
		if poller != nil {
			poller.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("shop engine listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("shop engine stopped")
}
