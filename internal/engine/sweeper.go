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

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically settles shops whose response deadline lapsed.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a timeout sweeper over the orchestrator.
func NewSweeper(orch *Orchestrator, interval time.Duration) *Sweeper {
	return &Sweeper{orch: orch, interval: interval}
}

// Start launches the periodic timeout sweep.
func (s *Sweeper) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := s.orch.TickTimeouts(loopCtx); err != nil {
					slog.Error("timeout sweep failed", "error", err)
				}
			}
		}
	}()

	slog.Info("timeout sweeper started", "interval", s.interval)
}

// Stop shuts down the sweep loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
