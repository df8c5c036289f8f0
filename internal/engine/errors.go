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
	"fmt"

	"github.com/google/uuid"
)

// InvalidInputError means a caller referenced an entity the engine does
// not know: an unknown target, persona, or shop.
type InvalidInputError struct {
	Entity string
	ID     uuid.UUID
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("unknown %s %s", e.Entity, e.ID)
}
