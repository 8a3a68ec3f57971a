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

package forwarder

import (
	"encoding/json"
	"fmt"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// PayloadBuilder renders the outbound request body a forwarded envelope is
// posted to the agent gateway with. Which implementation runs is a config
// choice (FORWARD_PAYLOAD), not a source-specific one.
type PayloadBuilder interface {
	Build(env events.WebhookEnvelope) ([]byte, error)
}

// AgentPayload posts the full envelope, unmodified, as the gateway's native
// wire format.
type AgentPayload struct{}

func (AgentPayload) Build(env events.WebhookEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent payload: %w", err)
	}
	return b, nil
}

// MappedPayload posts a flattened projection for gateways that don't want
// the envelope's own field names, only the sanitized data underneath.
type MappedPayload struct{}

func (MappedPayload) Build(env events.WebhookEnvelope) ([]byte, error) {
	b, err := json.Marshal(map[string]interface{}{
		"id":          env.ID,
		"source":      string(env.Source),
		"event_type":  env.EventType,
		"received_at": env.ReceivedAt,
		"data":        env.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapped payload: %w", err)
	}
	return b, nil
}

// ResolvePayloadBuilder maps a FORWARD_PAYLOAD config value to a
// PayloadBuilder.
func ResolvePayloadBuilder(name string) (PayloadBuilder, error) {
	switch name {
	case "agent", "":
		return AgentPayload{}, nil
	case "mapped":
		return MappedPayload{}, nil
	default:
		return nil, fmt.Errorf("forwarder: unknown payload shape %q", name)
	}
}
