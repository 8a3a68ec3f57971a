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
	"net/http"
	"strconv"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/sources"
)

// buildHeaders assembles the outbound request headers per §4.10: the shared
// bearer/content-type/tracking headers, plus whichever source-specific
// propagation headers this delivery's metadata carries.
func buildHeaders(token string, env events.WebhookEnvelope, md events.Metadata) http.Header {
	h := make(http.Header, 8)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("X-Webhook-Source", env.Source.QueryToken())
	h.Set("X-OpenClaw-Event-ID", env.ID)
	h.Set("X-OpenClaw-Sanitized", strconv.FormatBool(env.Sanitized))
	h.Set("X-OpenClaw-Risk-Score", strconv.Itoa(env.RiskScore))

	switch env.Source {
	case events.SourceGitHub:
		if md.EventName != "" {
			h.Set(sources.GitHubEventHeader, md.EventName)
		}
		if md.DeliveryID != "" {
			h.Set(sources.GitHubDeliveryHeader, md.DeliveryID)
		}
		if md.InstallationID != "" {
			h.Set(sources.GitHubInstallationHeader, md.InstallationID)
		}
	case events.SourceLinear:
		if md.EventName != "" {
			h.Set(sources.LinearEventHeader, md.EventName)
		}
		if md.DeliveryID != "" {
			h.Set(sources.LinearDeliveryHeader, md.DeliveryID)
		}
	}

	return h
}
