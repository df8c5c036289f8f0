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

// RentShop — Operator Command
//
// Standalone CLI for running shops by hand and inspecting their state.
//
// Usage:
//
//	shopctl start   --target <uuid> --persona <uuid|mailbox>
//	shopctl list    --status <status>
//	shopctl profile --shop <uuid>
//	shopctl history --shop <uuid>
//	shopctl catchup --mailbox a@x.com[,b@y.com] [--since 168h]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rentshop/engine/internal/ai"
	"github.com/rentshop/engine/internal/backfill"
	"github.com/rentshop/engine/internal/config"
	"github.com/rentshop/engine/internal/engine"
	"github.com/rentshop/engine/internal/lease"
	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/mailpoll"
	"github.com/rentshop/engine/internal/models"
	"github.com/rentshop/engine/internal/registry"
	"github.com/rentshop/engine/internal/report"
	"github.com/rentshop/engine/internal/shop"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, deps, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer deps.close()

	switch cmd {
	case "start":
		err = runStart(ctx, orch, deps, args)
	case "list":
		err = runList(ctx, deps, args)
	case "profile":
		err = runProfile(ctx, orch, args)
	case "history":
		err = runHistory(ctx, orch, args)
	case "catchup":
		err = runCatchup(ctx, cfg, deps, orch, args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: shopctl <start|list|profile|history|catchup> [flags]")
}

// deps holds the connections the commands share.
type deps struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	mailClient *clientcredentials.Config
	fetcher    *mailer.Fetcher
	shops      *shop.Store
	directory  *registry.Store
	ctx        context.Context
}

func (d *deps) close() {
	d.rdb.Close()
	d.pool.Close()
}

func buildOrchestrator(ctx context.Context, cfg *config.Config) (*engine.Orchestrator, *deps, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	shops, err := shop.NewStore(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	directory, err := registry.NewStore(ctx, pool)
	if err != nil {
		return nil, nil, err
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Mail.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	mailClient := creds.Client(ctx)

	gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiModel)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise Gemini client: %w", err)
	}

	orch := &engine.Orchestrator{
		Shops:     shops,
		Directory: directory,
		Composer:  &ai.Composer{Client: gemini, Retries: cfg.ComposeRetries},
		Extractor: &ai.Extractor{Client: gemini},
		Sender:    mailer.NewGraphMailer(mailClient, mailer.DefaultGraphBaseURL, cfg.Mail.SenderDomain),
		Locks:     lease.NewLocker(rdb),
		Seen:      lease.NewFilter(rdb),
		Reporter:  report.NewPublisher(rdb, cfg.FinishedQueue),
		Policy: engine.Policy{
			ResponseDeadline: cfg.ResponseDeadline,
			MaxFollowUps:     cfg.MaxFollowUps,
			UnparsableLimit:  cfg.UnparsableLimit,
			RequiredFields:   cfg.RequiredFields,
		},
	}

	return orch, &deps{
		pool:       pool,
		rdb:        rdb,
		mailClient: creds,
		fetcher:    mailer.NewFetcher(mailClient, mailer.DefaultGraphBaseURL),
		shops:      shops,
		directory:  directory,
		ctx:        ctx,
	}, nil
}

func runStart(ctx context.Context, orch *engine.Orchestrator, d *deps, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	targetFlag := fs.String("target", "", "Target ID (required)")
	personaFlag := fs.String("persona", "", "Persona ID or mailbox address (required)")
	fs.Parse(args)

	targetID, err := uuid.Parse(*targetFlag)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}
	personaID, err := resolvePersona(ctx, d.directory, *personaFlag)
	if err != nil {
		return err
	}

	sh, err := orch.StartShop(ctx, targetID, personaID)
	if err != nil {
		return err
	}
	slog.Info("shop running", "shop", sh.ID, "status", sh.Status, "deadline", sh.ResponseDeadline)
	return nil
}

// resolvePersona accepts either a persona UUID or a persona mailbox address.
func resolvePersona(ctx context.Context, directory *registry.Store, v string) (uuid.UUID, error) {
	if id, err := uuid.Parse(v); err == nil {
		return id, nil
	}
	if !strings.Contains(v, "@") {
		return uuid.Nil, fmt.Errorf("invalid --persona %q: want a UUID or mailbox address", v)
	}
	p, err := directory.GetPersonaByEmail(ctx, v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve persona by address: %w", err)
	}
	if p == nil {
		return uuid.Nil, fmt.Errorf("no persona with address %q", v)
	}
	return p.ID, nil
}

func runList(ctx context.Context, d *deps, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	statusFlag := fs.String("status", "", "Shop status (required)")
	fs.Parse(args)

	status := shop.Status(*statusFlag)
	if !status.Valid() {
		return fmt.Errorf("invalid --status %q", *statusFlag)
	}

	shops, err := d.shops.ListByStatus(ctx, status)
	if err != nil {
		return err
	}
	for _, sh := range shops {
		fmt.Printf("%s  %s  follow_ups=%d  deadline=%s\n",
			sh.ID, sh.Status, sh.FollowUpCount, sh.ResponseDeadline.Format(time.RFC3339))
	}
	return nil
}

func runProfile(ctx context.Context, orch *engine.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	shopFlag := fs.String("shop", "", "Shop ID (required)")
	fs.Parse(args)

	shopID, err := uuid.Parse(*shopFlag)
	if err != nil {
		return fmt.Errorf("invalid --shop: %w", err)
	}

	p, err := orch.Profile(ctx, shopID)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Println("no profile data yet")
		return nil
	}
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runHistory(ctx context.Context, orch *engine.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	shopFlag := fs.String("shop", "", "Shop ID (required)")
	fs.Parse(args)

	shopID, err := uuid.Parse(*shopFlag)
	if err != nil {
		return fmt.Errorf("invalid --shop: %w", err)
	}

	msgs, err := orch.History(ctx, shopID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s %s: %s\n", m.ReceivedAt.Format(time.RFC3339), m.Direction, m.Type, m.Subject)
	}
	return nil
}

func runCatchup(ctx context.Context, cfg *config.Config, d *deps, orch *engine.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("catchup", flag.ExitOnError)
	mailboxFlag := fs.String("mailbox", "", "Comma-separated persona mailboxes (default: shared mailbox)")
	sinceFlag := fs.String("since", "168h", "Lookback duration (e.g. 168h for 1 week)")
	fs.Parse(args)

	since, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		return fmt.Errorf("invalid --since duration %q: %w", *sinceFlag, err)
	}

	mailboxes := strings.Split(*mailboxFlag, ",")
	if *mailboxFlag == "" {
		if cfg.Mail.SharedMailbox == "" {
			return fmt.Errorf("--mailbox is required when no shared mailbox is configured")
		}
		mailboxes = []string{cfg.Mail.SharedMailbox}
	}

	poller := mailpoll.NewPoller(mailpoll.PollerConfig{
		HTTPClient: d.mailClient.Client(d.ctx),
		Fetcher:    d.fetcher,
		Mailboxes:  mailboxes,
		Interval:   cfg.PollInterval,
		Lookback:   cfg.PollLookback,
		Ingest: func(ctx context.Context, email *models.InboundEmail) error {
			return orch.IngestInbound(ctx, uuid.Nil, email)
		},
	})

	runner := backfill.NewRunner(poller)
	result, err := runner.Run(ctx, backfill.Request{Mailboxes: mailboxes, Since: since})
	if err != nil {
		return err
	}
	if result.Errors > 0 {
		return fmt.Errorf("%d mailbox sweep(s) failed", result.Errors)
	}
	return nil
}
