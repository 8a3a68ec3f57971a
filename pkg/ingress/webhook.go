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

package ingress

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/uuid"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/idempotency"
	"github.com/abcxyz/webhook-relay/pkg/keys"
	"github.com/abcxyz/webhook-relay/pkg/policy"
	"github.com/abcxyz/webhook-relay/pkg/sources"
	"github.com/abcxyz/webhook-relay/pkg/timestamp"
)

// handleWebhook builds the ingestion handler for one upstream source. The
// pipeline runs in a fixed order: rate limit, authenticate, parse, filter
// (event type, bot sender, timestamp, agent user), dedup/cooldown, sanitize,
// enqueue.
func (s *Server) handleWebhook(src events.Source) http.Handler {
	srcStr := string(src)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		if !s.ipLimit.Allow(r) {
			tooManyRequests(w)
			return
		}
		if !s.srcLimit.Allow(src) {
			tooManyRequests(w)
			return
		}

		adapter, err := s.registry.Lookup(srcStr)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			badRequest(w, "failed to read request body")
			return
		}
		if len(body) == 0 {
			badRequest(w, "empty request body")
			return
		}

		if err := adapter.Validate(s.cfg.secretFor(srcStr), r.Header, body); err != nil {
			s.metrics.IncDropped(srcStr, events.ReasonInvalidSignature)
			unauthorized(w, err.Error())
			return
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			s.metrics.IncDropped(srcStr, events.ReasonInvalidPayload)
			badRequest(w, "invalid JSON payload")
			return
		}

		s.metrics.IncReceived(srcStr)

		rawEvent, rawAction := rawEventAndAction(src, r.Header, payload)
		if src != events.SourceGmail && !policy.EventTypeFilter(rawEvent, rawAction) {
			s.metrics.IncDropped(srcStr, events.ReasonFiltered)
			accepted(w, events.ReasonFiltered)
			return
		}

		if src == events.SourceGitHub && policy.IsBotSender(senderLogin(payload)) {
			s.metrics.IncDropped(srcStr, events.ReasonBotSender)
			accepted(w, events.ReasonBotSender)
			return
		}

		if src == events.SourceLinear {
			if !timestamp.Check(payload, time.Now(), s.cfg.LinearTimestampWindow, s.cfg.LinearEnforceTimestamp) {
				s.metrics.IncDropped(srcStr, events.ReasonInvalidTimestamp)
				unauthorized(w, "invalid or stale webhookTimestamp")
				return
			}
			if policy.IsAgentUser(linearActorID(payload), s.cfg.LinearAgentUserID) {
				s.metrics.IncDropped(srcStr, events.ReasonAgentUser)
				accepted(w, events.ReasonAgentUser)
				return
			}
		}

		k := adapter.ExtractKeys(r.Header, payload)
		dedupKey, cooldownKey := buildKeys(src, k)

		// In-memory fast path: cheap, and authoritative for the broker
		// topology (which has no durable index of its own). For the
		// embedded-store topology this is wiped by a restart, so the
		// queue's own transactional check below is what actually decides
		// admission for a delivery retried after a crash.
		switch s.idempo.Check(dedupKey, cooldownKey, time.Now()) {
		case idempotency.Duplicate:
			s.metrics.IncDropped(srcStr, events.ReasonDuplicateDelivery)
			accepted(w, events.ReasonDuplicateDelivery)
			return
		case idempotency.Cooldown:
			s.metrics.IncDropped(srcStr, events.ReasonCooldown)
			accepted(w, events.ReasonCooldown)
			return
		}

		sanitized, flags, err := s.sanitizer.Sanitize(src, payload)
		if err != nil {
			s.metrics.IncDropped(srcStr, events.ReasonSanitizationFail)
			badRequest(w, "failed to sanitize payload")
			return
		}

		now := time.Now()
		pe := events.PendingEvent{
			Envelope: events.WebhookEnvelope{
				ID:         uuid.NewString(),
				Source:     src,
				EventType:  adapter.EventType(r.Header, payload),
				ReceivedAt: events.FormatReceivedAt(now),
				Payload:    sanitized,
				Sanitized:  true,
				RiskScore:  flags.RiskScore(),
			},
			DedupKey:         dedupKey,
			CooldownKey:      cooldownKey,
			Action:           k.Action,
			EntityID:         k.CoolEntity,
			Metadata:         adapter.Metadata(r.Header, payload),
			CreatedAtEpoch:   now.Unix(),
			NextRetryAtEpoch: now.Unix(),
		}

		decision, err := s.queue.Enqueue(pe, s.cfg.DedupWindow, s.cfg.CooldownWindow, now)
		if err != nil {
			logger.Errorw("failed to enqueue webhook event", "error", err, "source", srcStr)
			internalError(w, "failed to enqueue event")
			return
		}

		switch decision {
		case idempotency.Duplicate:
			s.metrics.IncDropped(srcStr, events.ReasonDuplicateDelivery)
			accepted(w, events.ReasonDuplicateDelivery)
			return
		case idempotency.Cooldown:
			s.metrics.IncDropped(srcStr, events.ReasonCooldown)
			accepted(w, events.ReasonCooldown)
			return
		}

		accepted(w, "enqueued")
	})
}

func buildKeys(src events.Source, k sources.Keys) (dedupKey, cooldownKey string) {
	switch src {
	case events.SourceGitHub:
		return keys.GitHubDedupKey(k.DeliveryID, k.Action, k.DedupEntity), keys.GitHubCooldownKey(k.Repo, k.CoolEntity)
	case events.SourceLinear:
		return keys.LinearDedupKey(k.DeliveryID, k.Action, k.DedupEntity), keys.LinearCooldownKey(k.TeamKey, k.CoolEntity)
	default:
		return "", ""
	}
}

// rawEventAndAction extracts the (event, action) pair policy.EventTypeFilter
// expects: for GitHub this is the X-Github-Event header and the payload's
// "action" field; for Linear it's the payload's "type" field with an empty
// action (see policy.EventTypeFilter's Linear branch).
func rawEventAndAction(src events.Source, header http.Header, payload map[string]interface{}) (event, action string) {
	switch src {
	case events.SourceGitHub:
		event = header.Get(sources.GitHubEventHeader)
		action, _ = payload["action"].(string)
		return event, action
	case events.SourceLinear:
		if t, ok := payload["type"].(string); ok {
			return t, ""
		}
		return header.Get(sources.LinearEventHeader), ""
	default:
		return "", ""
	}
}

func senderLogin(payload map[string]interface{}) string {
	sender, ok := payload["sender"].(map[string]interface{})
	if !ok {
		return ""
	}
	login, _ := sender["login"].(string)
	return login
}

func linearActorID(payload map[string]interface{}) string {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return ""
	}
	userID, _ := data["userId"].(string)
	return userID
}
