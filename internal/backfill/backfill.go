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

// Package backfill re-ingests replies missed during downtime by sweeping
// persona mailboxes over a historical window and feeding each message
// through the engine. Already-consumed messages are dropped by the
// engine's dedup, so re-running a backfill is safe.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/rentshop/engine/internal/mailpoll"
)

// Request defines the scope of a catch-up run.
type Request struct {
	Mailboxes []string      // persona mailboxes to sweep
	Since     time.Duration // lookback window (e.g. 168h = 1 week)
}

// Result summarises a completed catch-up run.
type Result struct {
	Mailboxes int
	Errors    int
	Elapsed   time.Duration
}

// Runner performs historical reply catch-up.
type Runner struct {
	poller *mailpoll.Poller
}

// NewRunner creates a catch-up runner over an existing poller.
func NewRunner(poller *mailpoll.Poller) *Runner {
	return &Runner{poller: poller}
}

// Run sweeps every requested mailbox once over the lookback window.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	slog.Info("starting reply catch-up",
		"mailboxes", len(req.Mailboxes),
		"since", req.Since,
	)

	result := &Result{Mailboxes: len(req.Mailboxes)}
	for _, mailbox := range req.Mailboxes {
		if err := r.poller.SweepMailboxSince(ctx, mailbox, req.Since); err != nil {
			slog.Error("catch-up sweep failed", "mailbox", mailbox, "error", err)
			result.Errors++
		}
	}

	result.Elapsed = time.Since(start)
	slog.Info("reply catch-up finished",
		"mailboxes", result.Mailboxes,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
