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
	// GmailTokenHeader must match the shared secret exactly.
	GmailTokenHeader = "X-Goog-Token"
	// GmailResourceStateHeader, when present, feeds the event_type fallback.
	GmailResourceStateHeader = "X-Goog-Resource-State"
)

type gmailAdapter struct{}

// NewGmailAdapter returns the Gmail source adapter. Gmail has no body HMAC;
// authentication is a shared-token header compare.
func NewGmailAdapter() Adapter {
	return &gmailAdapter{}
}

func (a *gmailAdapter) Source() events.Source {
	return events.SourceGmail
}

func (a *gmailAdapter) Validate(secret string, header http.Header, body []byte) error {
	token := header.Get(GmailTokenHeader)
	if token == "" {
		return Unauthorized("missing " + GmailTokenHeader)
	}
	if !signature.VerifySharedToken(secret, token) {
		return Unauthorized("invalid token")
	}
	return nil
}

func (a *gmailAdapter) EventType(header http.Header, payload map[string]interface{}) string {
	if et := stringField(payload, "event_type"); et != "" {
		return et
	}
	if state := header.Get(GmailResourceStateHeader); state != "" {
		return "gmail." + strings.ToLower(state)
	}
	return "gmail.event"
}

// ExtractKeys is a no-op for Gmail: the spec defines no dedup/cooldown
// scheme for this source, so DedupEntity/CoolEntity are left empty and the
// caller does not build dedup/cooldown keys for it.
func (a *gmailAdapter) ExtractKeys(header http.Header, payload map[string]interface{}) Keys {
	return Keys{}
}

func (a *gmailAdapter) Metadata(header http.Header, payload map[string]interface{}) events.Metadata {
	return events.Metadata{}
}
