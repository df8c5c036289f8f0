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

package shop

import (
	"time"

	"github.com/google/uuid"
)

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MessageType classifies a shop message.
type MessageType string

const (
	TypeInquiry  MessageType = "inquiry"
	TypeFollowUp MessageType = "follow_up"
	TypeResponse MessageType = "response"
)

// Shop is one secret-shopping engagement: a persona working a target
// property over email until the community profile is complete or the
// engagement fails or times out.
type Shop struct {
	ID               uuid.UUID
	TargetID         uuid.UUID
	PersonaID        uuid.UUID
	Status           Status
	FailureReason    string
	FollowUpCount    int
	UnparsableCount  int
	DeadlineExtended bool
	ResponseDeadline *time.Time
	ThreadID         string // provider conversation id, "" until the first resolved reply
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Message is one email in a shop's conversation, inbound or outbound.
type Message struct {
	ID         int64
	ShopID     uuid.UUID
	ExternalID string // provider message id, unique per shop
	Direction  Direction
	Type       MessageType
	Subject    string
	Body       string // cleaned text for inbound, sent text for outbound
	ReceivedAt time.Time
	CreatedAt  time.Time
}
