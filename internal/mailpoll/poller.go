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

// Package mailpoll periodically lists recent messages in persona mailboxes
// and hands new ones to the shop engine. It backstops the webhook path:
// overlapping lookback windows mean a missed notification is picked up on
// the next sweep, and the engine's dedup makes the overlap harmless.
package mailpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rentshop/engine/internal/mailer"
	"github.com/rentshop/engine/internal/models"
)

// IngestFunc consumes one inbound email. Dedup of already-seen messages is
// the consumer's responsibility.
type IngestFunc func(ctx context.Context, email *models.InboundEmail) error

// listResponse is a page of /users/{mailbox}/messages.
type listResponse struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Poller sweeps persona mailboxes for recent inbound mail.
type Poller struct {
	httpClient   *http.Client
	graphBaseURL string
	fetcher      *mailer.Fetcher
	mailboxes    []string
	interval     time.Duration
	lookback     time.Duration
	ingest       IngestFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerConfig holds the configuration for the mailbox poller.
type PollerConfig struct {
	HTTPClient   *http.Client
	GraphBaseURL string
	Fetcher      *mailer.Fetcher
	Mailboxes    []string
	Interval     time.Duration
	Lookback     time.Duration
	Ingest       IngestFunc
}

// NewPoller creates a mailbox poller.
func NewPoller(cfg PollerConfig) *Poller {
	base := cfg.GraphBaseURL
	if base == "" {
		base = mailer.DefaultGraphBaseURL
	}
	return &Poller{
		httpClient:   cfg.HTTPClient,
		graphBaseURL: base,
		fetcher:      cfg.Fetcher,
		mailboxes:    cfg.Mailboxes,
		interval:     cfg.Interval,
		lookback:     cfg.Lookback,
		ingest:       cfg.Ingest,
	}
}

// SweepMailbox lists messages received within the configured lookback
// window and ingests each one.
func (p *Poller) SweepMailbox(ctx context.Context, mailbox string) error {
	return p.SweepMailboxSince(ctx, mailbox, p.lookback)
}

// SweepMailboxSince sweeps a mailbox over an explicit lookback window,
// used by catch-up runs that reach further back than routine polling.
func (p *Poller) SweepMailboxSince(ctx context.Context, mailbox string, lookback time.Duration) error {
	since := time.Now().UTC().Add(-lookback).Format(time.RFC3339)
	query := url.Values{}
	query.Set("$select", "id")
	query.Set("$filter", "receivedDateTime ge "+since)
	query.Set("$orderby", "receivedDateTime")
	next := fmt.Sprintf("%s/users/%s/messages?%s", p.graphBaseURL, url.PathEscape(mailbox), query.Encode())

	for next != "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := p.listPage(ctx, next)
		if err != nil {
			return err
		}
		for _, m := range page.Value {
			email, err := p.fetcher.FetchMessage(ctx, mailbox, m.ID)
			if err != nil {
				slog.Error("fetch polled message failed",
					"mailbox", mailbox,
					"message_id", m.ID,
					"error", err,
				)
				continue
			}
			if email == nil {
				continue
			}
			if err := p.ingest(ctx, email); err != nil {
				slog.Error("ingest polled message failed",
					"mailbox", mailbox,
					"message_id", email.MessageID,
					"error", err,
				)
			}
		}
		next = page.NextLink
	}
	return nil
}

func (p *Poller) listPage(ctx context.Context, pageURL string) (*listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d listing messages", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	return &page, nil
}

// Start launches the periodic sweep loop.
func (p *Poller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				for _, mailbox := range p.mailboxes {
					if err := p.SweepMailbox(loopCtx, mailbox); err != nil {
						slog.Error("mailbox sweep failed",
							"mailbox", mailbox,
							"error", err,
						)
					}
				}
			}
		}
	}()

	slog.Info("mailbox poller started", "interval", p.interval, "lookback", p.lookback)
}

// Stop shuts down the sweep loop.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
