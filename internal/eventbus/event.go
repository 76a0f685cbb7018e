// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package eventbus implements the in-process publish/subscribe bus.
// Publishing is non-blocking against a bounded intake buffer; a single
// dispatcher fans events out to per-subscription FIFO queues whose
// workers run callbacks off the publisher's goroutine. Patterns are an
// exact event type, the total wildcard "*", or a segment prefix glob
// such as "security/*".
package eventbus

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the immutable record delivered to subscribers. The payload
// is shallow-copied at publish time; subscribers must not mutate it.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   maps.Clone(payload),
	}
}

// Callback receives matched events. Callbacks run on worker tasks, never
// on the publisher's goroutine, and panics are contained per delivery.
type Callback func(Event)

// SubscriptionHandle identifies one live subscription.
type SubscriptionHandle struct {
	SubscriberID string    `json:"subscriber_id"`
	Pattern      string    `json:"pattern"`
	CreatedAt    time.Time `json:"created_at"`
}

type subscribeOptions struct {
	subscriberID string
	noSelf       bool
}

// SubscribeOption customizes one Subscribe call.
type SubscribeOption func(*subscribeOptions)

// WithSubscriberID names the subscription owner. All subscriptions
// sharing an id are removed together by Unsubscribe. Without this option
// a random id is assigned.
func WithSubscriberID(id string) SubscribeOption {
	return func(o *subscribeOptions) { o.subscriberID = id }
}

// WithoutSelfDelivery suppresses events whose Source equals the
// subscriber id. The default is to deliver them.
func WithoutSelfDelivery() SubscribeOption {
	return func(o *subscribeOptions) { o.noSelf = true }
}

// validPattern reports whether p is an accepted subscription pattern:
// "*", an exact type, or a trailing segment glob like "monitoring/*".
// Mid-pattern wildcards are rejected.
func validPattern(p string) bool {
	if p == "" {
		return false
	}
	if p == "*" {
		return true
	}
	if strings.HasSuffix(p, "/*") {
		prefix := strings.TrimSuffix(p, "/*")
		return prefix != "" && !strings.Contains(prefix, "*")
	}
	return !strings.Contains(p, "*")
}

// matches reports whether eventType is covered by pattern. A trailing
// "/*" matches one or more remaining segments.
func matches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(eventType, prefix+"/")
	}
	return false
}
