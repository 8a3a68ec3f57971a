// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events defines the canonical wire types that flow through the
// relay: the webhook envelope, the pending/DLQ records that wrap it for the
// embedded persistence store, and the DLQ envelope published to the broker
// topology.
package events

import "time"

// Source identifies which upstream webhook provider an envelope came from.
type Source string

const (
	SourceGitHub Source = "github"
	SourceLinear Source = "linear"
	SourceGmail  Source = "gmail"
)

// QueryToken is the "source" query-string value used when forwarding to the
// downstream agent gateway.
func (s Source) QueryToken() string {
	switch s {
	case SourceGitHub:
		return "github-pr"
	case SourceLinear:
		return "linear"
	case SourceGmail:
		return "gmail"
	default:
		return string(s)
	}
}

// Topic is the broker topic name for this source (variant B).
func (s Source) Topic() string {
	return "webhooks." + string(s)
}

// Valid reports whether s is one of the closed set of known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceGitHub, SourceLinear, SourceGmail:
		return true
	default:
		return false
	}
}

// ParseSource maps a path segment or route token to a Source.
func ParseSource(s string) (Source, bool) {
	src := Source(s)
	if !src.Valid() {
		return "", false
	}
	return src, true
}

// WebhookEnvelope is the canonical record carrying one webhook delivery
// through the pipeline, from ingress to the downstream agent gateway.
type WebhookEnvelope struct {
	ID         string                 `json:"id"`
	Source     Source                 `json:"source"`
	EventType  string                 `json:"event_type"`
	ReceivedAt string                 `json:"received_at"`
	Payload    map[string]interface{} `json:"payload"`

	// Sanitized and RiskScore are stamped by ingress once the sanitizer has
	// run, and carried through so the forward worker never needs to
	// re-sanitize or re-derive the X-OpenClaw-* headers from the payload.
	Sanitized bool `json:"sanitized"`
	RiskScore int  `json:"risk_score"`
}

const receivedAtLayout = "2006-01-02T15:04:05Z"

// FormatReceivedAt renders t as the RFC 3339 UTC-seconds form the envelope
// requires.
func FormatReceivedAt(t time.Time) string {
	return t.UTC().Format(receivedAtLayout)
}

// Metadata carries the source-specific propagation fields a PendingEvent
// needs in order to rebuild outbound forwarding headers later, without
// re-parsing the payload.
type Metadata struct {
	DeliveryID     string `json:"delivery_id,omitempty"`
	EventName      string `json:"event_name,omitempty"`
	InstallationID string `json:"installation_id,omitempty"`
	TeamKey        string `json:"team_key,omitempty"`
}

// PendingEvent is an envelope plus the routing/retry state the forward
// worker needs (variant A, embedded queue).
type PendingEvent struct {
	Envelope         WebhookEnvelope `json:"envelope"`
	DedupKey         string          `json:"dedup_key,omitempty"`
	CooldownKey      string          `json:"cooldown_key,omitempty"`
	Action           string          `json:"action,omitempty"`
	EntityID         string          `json:"entity_id,omitempty"`
	Metadata         Metadata        `json:"metadata"`
	Attempts         int             `json:"attempts"`
	NextRetryAtEpoch int64           `json:"next_retry_at_epoch"`
	CreatedAtEpoch   int64           `json:"created_at_epoch"`
}

// DlqEvent is a PendingEvent that failed permanently or exhausted its
// transient retries.
type DlqEvent struct {
	PendingEvent  PendingEvent `json:"pending_event"`
	FailureReason string       `json:"failure_reason"`
	FailedAtEpoch int64        `json:"failed_at_epoch"`
	ReplayCount   int          `json:"replay_count"`
}

// Failure reasons used both as DLQ reasons and as the "reason" metric label.
const (
	ReasonInvalidSignature  = "invalid_signature"
	ReasonInvalidPayload    = "invalid_payload"
	ReasonInvalidTimestamp  = "invalid_timestamp"
	ReasonFiltered          = "filtered"
	ReasonBotSender         = "bot_sender"
	ReasonAgentUser         = "agent_user"
	ReasonDuplicateDelivery = "duplicate_delivery"
	ReasonCooldown          = "cooldown"
	ReasonSanitizationFail  = "sanitization_failed"
	ReasonForwardFailed     = "forward_failed"
)

// DlqEnvelope is the record published to the broker DLQ topic (variant B).
type DlqEnvelope struct {
	FailedAt string          `json:"failed_at"`
	Error    string          `json:"error"`
	Envelope WebhookEnvelope `json:"envelope"`
}
