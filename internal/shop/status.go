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

// Package shop defines the shop lifecycle and its Postgres-backed store.
// A shop moves through a fixed set of statuses; every transition goes
// through the table below so illegal jumps are impossible to persist.
package shop

// Status is the lifecycle state of a shop.
type Status string

const (
	StatusCreated          Status = "created"
	StatusInquirySent      Status = "inquiry_sent"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusParsing          Status = "parsing"
	StatusDataMerged       Status = "data_merged"
	StatusFollowUpNeeded   Status = "follow_up_needed"
	StatusFollowUpSent     Status = "follow_up_sent"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusTimedOut         Status = "timed_out"
)

// transitions is the full set of legal status moves. Terminal statuses have
// no outgoing edges.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusInquirySent, StatusFailed},
	StatusInquirySent:      {StatusAwaitingResponse, StatusFailed},
	StatusAwaitingResponse: {StatusParsing, StatusFailed, StatusTimedOut},
	StatusParsing:          {StatusDataMerged, StatusAwaitingResponse, StatusFailed},
	StatusDataMerged:       {StatusFollowUpNeeded, StatusCompleted, StatusFailed},
	StatusFollowUpNeeded:   {StatusFollowUpSent, StatusFailed, StatusTimedOut},
	StatusFollowUpSent:     {StatusAwaitingResponse, StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a shop in this status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}
