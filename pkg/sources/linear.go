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

package sources

import (
	"net/http"
	"strings"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/signature"
)

const (
	// LinearSignatureHeader carries the HMAC-SHA256 hexdigest of the body.
	LinearSignatureHeader = "Linear-Signature"
	// LinearDeliveryHeader carries the unique delivery id.
	LinearDeliveryHeader = "Linear-Delivery"
	// LinearEventHeader is the fallback event-type header when the payload
	// omits "type".
	LinearEventHeader = "Linear-Event"
)

type linearAdapter struct{}

// NewLinearAdapter returns the Linear source adapter.
func NewLinearAdapter() Adapter {
	return &linearAdapter{}
}

func (a *linearAdapter) Source() events.Source {
	return events.SourceLinear
}

func (a *linearAdapter) Validate(secret string, header http.Header, body []byte) error {
	sig := header.Get(LinearSignatureHeader)
	if sig == "" {
		return Unauthorized("missing " + LinearSignatureHeader)
	}
	if !signature.VerifySignature([]byte(secret), body, sig) {
		return Unauthorized("invalid signature")
	}
	return nil
}

func (a *linearAdapter) eventName(header http.Header, payload map[string]interface{}) string {
	if t := stringField(payload, "type"); t != "" {
		return t
	}
	return header.Get(LinearEventHeader)
}

func (a *linearAdapter) EventType(header http.Header, payload map[string]interface{}) string {
	typeName := strings.ToLower(a.eventName(header, payload))
	action := strings.ToLower(stringField(payload, "action"))
	if action == "" {
		return typeName
	}
	return typeName + "." + action
}

// linearCooldownEntity implements data.id, data.identifier priority.
func linearCooldownEntity(payload map[string]interface{}) string {
	data := nestedMap(payload, "data")
	if data == nil {
		return ""
	}
	if id := stringField(data, "id"); id != "" {
		return id
	}
	if identifier := stringField(data, "identifier"); identifier != "" {
		return identifier
	}
	return ""
}

// linearDedupEntity extends the cooldown priority with webhookId, falling
// back to "unknown".
func linearDedupEntity(payload map[string]interface{}) string {
	if e := linearCooldownEntity(payload); e != "" {
		return e
	}
	if id := stringField(payload, "webhookId"); id != "" {
		return id
	}
	return "unknown"
}

func (a *linearAdapter) ExtractKeys(header http.Header, payload map[string]interface{}) Keys {
	cooldownEntity := linearCooldownEntity(payload)
	if cooldownEntity == "" {
		cooldownEntity = "unknown"
	}

	teamKey := ""
	if data := nestedMap(payload, "data"); data != nil {
		if team := nestedMap(data, "team"); team != nil {
			teamKey = stringField(team, "key")
		}
	}

	return Keys{
		DeliveryID:  header.Get(LinearDeliveryHeader),
		Action:      strings.ToLower(stringField(payload, "action")),
		DedupEntity: linearDedupEntity(payload),
		CoolEntity:  cooldownEntity,
		TeamKey:     teamKey,
	}
}

func (a *linearAdapter) Metadata(header http.Header, payload map[string]interface{}) events.Metadata {
	md := events.Metadata{
		DeliveryID: header.Get(LinearDeliveryHeader),
		EventName:  a.eventName(header, payload),
	}
	if data := nestedMap(payload, "data"); data != nil {
		if team := nestedMap(data, "team"); team != nil {
			md.TeamKey = stringField(team, "key")
		}
	}
	return md
}
