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

// Package webhook receives pushed inbound email for shops. The mail
// collaborator POSTs the raw email envelope to /inbound/{shop_id}; the
// handler answers fast and hands the message to the engine in the
// background. A validation probe (?validationToken=...) is echoed back so
// provider-side subscription setup succeeds.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rentshop/engine/internal/models"
)

// Ingester consumes one inbound email for a shop. uuid.Nil means the
// handler could not name the shop and the engine resolves it from headers.
type Ingester interface {
	IngestInbound(ctx context.Context, shopID uuid.UUID, email *models.InboundEmail) error
}

// Handler processes pushed inbound email.
type Handler struct {
	ingester Ingester
}

// NewHandler creates an inbound email handler.
func NewHandler(ingester Ingester) *Handler {
	return &Handler{ingester: ingester}
}

// ServeInbound handles POST /inbound and POST /inbound/{shop_id}.
//
// Validation flow:
//   - Subscription setup sends a POST with ?validationToken=<token>
//   - We must respond 200 OK with the token in plain text
//
// Normal flow:
//   - The body is one InboundEmail JSON envelope
//   - We respond 202 Accepted immediately
//   - The engine processes the message in the background
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	// Handle validation probe
	if token := r.URL.Query().Get("validationToken"); token != "" {
		slog.Info("inbound validation probe received")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(token))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID, ok := shopIDFromPath(r.URL.Path)
	if !ok {
		slog.Warn("inbound request with malformed shop id", "path", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read inbound body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var email models.InboundEmail
	if err := json.Unmarshal(body, &email); err != nil {
		slog.Warn("inbound body not a valid email envelope", "error", err, "body_len", len(body))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if email.MessageID == "" {
		slog.Warn("inbound email missing message id", "shop", shopID)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Respond immediately — the sender expects a fast response.
	w.WriteHeader(http.StatusAccepted)

	// Process in background; dedup makes redelivery after a crash safe.
	go func() {
		if err := h.ingester.IngestInbound(context.Background(), shopID, &email); err != nil {
			slog.Error("inbound ingest failed",
				"shop", shopID,
				"message_id", email.MessageID,
				"error", err,
			)
		}
	}()
}

// shopIDFromPath extracts the optional shop id from /inbound/{shop_id}.
// A bare /inbound returns uuid.Nil: the engine resolves the shop from
// thread headers instead.
func shopIDFromPath(path string) (uuid.UUID, bool) {
	rest := strings.TrimPrefix(path, "/inbound")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Serve starts the inbound HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	// Inbound email endpoints — catch-all pattern for /inbound/{shop_id}
	mux.HandleFunc("/inbound", handler.ServeInbound)
	mux.HandleFunc("/inbound/", handler.ServeInbound)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind inbound port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("inbound server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("inbound server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("inbound server error", "error", err)
		}
	}()

	return ready, nil
}
