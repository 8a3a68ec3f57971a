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

// Package sources implements the per-provider webhook adapters: signature
// verification, event-type derivation, and entity-id extraction for GitHub,
// Linear, and Gmail.
package sources

import (
	"net/http"
	"strconv"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// Keys is the dedup/cooldown key material an adapter derives from a
// request, used by pkg/keys to build the final string keys.
type Keys struct {
	DeliveryID  string
	Action      string
	DedupEntity string // entity id used for the dedup key fallback chain
	CoolEntity  string // entity id used for the cooldown key (narrower priority list)
	Repo        string // GitHub only: "owner/repo", used in the cooldown key
	TeamKey     string // Linear only: used in the cooldown key
}

// Adapter is the per-source validation and parsing surface. Every method is
// pure given its inputs; adapters hold no request-scoped state.
type Adapter interface {
	// Source returns the adapter's stable Source identifier.
	Source() events.Source

	// Validate checks the request's authentication headers against secret.
	// header is whatever this adapter needs from the request (signature,
	// token, ...); body is the raw request body that may be required for
	// HMAC computation.
	Validate(secret string, header http.Header, body []byte) error

	// EventType derives the canonical event_type string from headers and the
	// parsed JSON payload.
	EventType(header http.Header, payload map[string]interface{}) string

	// ExtractKeys pulls delivery id, action, and entity ids out of headers
	// and payload for dedup/cooldown key construction.
	ExtractKeys(header http.Header, payload map[string]interface{}) Keys

	// Metadata builds the propagation metadata stored alongside the pending
	// event (installation id, team key, ...).
	Metadata(header http.Header, payload map[string]interface{}) events.Metadata
}

// Registry maps a Source to its Adapter.
type Registry map[events.Source]Adapter

// NewRegistry builds the standard GitHub/Linear/Gmail registry.
func NewRegistry() Registry {
	return Registry{
		events.SourceGitHub: NewGitHubAdapter(),
		events.SourceLinear: NewLinearAdapter(),
		events.SourceGmail:  NewGmailAdapter(),
	}
}

// Lookup returns the Adapter for name, or a BadRequestError if name is not a
// known source.
func (r Registry) Lookup(name string) (Adapter, error) {
	src, ok := events.ParseSource(name)
	if !ok {
		return nil, BadRequest("unknown source: " + name)
	}
	a, ok := r[src]
	if !ok {
		return nil, BadRequest("unknown source: " + name)
	}
	return a, nil
}

// stringField reads a string field out of a JSON-decoded map, tolerating a
// missing or wrongly-typed value by returning "".
func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// nestedMap reads a nested object field, tolerating absence.
func nestedMap(m map[string]interface{}, key string) map[string]interface{} {
	v, ok := m[key]
	if !ok {
		return nil
	}
	nested, _ := v.(map[string]interface{})
	return nested
}

// numericField reads a numeric field (JSON numbers decode as float64) and
// renders it as a base-10 integer string, tolerating absence.
func numericField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10), true
	case string:
		return n, n != ""
	default:
		return "", false
	}
}
