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

// Package ai is the boundary to the language model. The engine talks to the
// Client interface only; GeminiClient is the production implementation and
// tests substitute a deterministic stub.
package ai

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON means the model produced an empty or non-JSON response.
var ErrInvalidJSON = errors.New("ai: invalid json from model")

// Client generates free text (persona correspondence) and schema-constrained
// JSON (extraction).
type Client interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}
