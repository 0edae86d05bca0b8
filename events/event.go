// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package events is a queue-backed event bus with at-least-once delivery,
// per-correlation-key ordering, exponential retry and a dead-letter queue.
//
// The backing queue is a Redis list per queue name plus a sorted set for
// delayed and retried events. Events are popped destructively, so delivery
// is at-least-once while the process lives; an event popped by a process
// that dies mid-dispatch is lost.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the queue envelope. Payloads are UTF-8 JSON.
type Event struct {
	Name          string         `json:"name"`
	Data          map[string]any `json:"data,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Attempt       int            `json:"attempt"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
	ScheduledFor  time.Time      `json:"scheduled_for,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New builds an event with a fresh correlation id.
func New(name string, data map[string]any) Event {
	return Event{
		Name:          name,
		Data:          data,
		CorrelationID: uuid.NewString(),
	}
}

func (e Event) encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func decodeEvent(raw string) (Event, error) {
	var e Event

	err := json.Unmarshal([]byte(raw), &e)

	return e, err
}
