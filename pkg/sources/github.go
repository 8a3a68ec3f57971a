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

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/signature"
)

const (
	// GitHubSignatureHeader is the GitHub header carrying the HMAC-SHA256
	// hexdigest of the request body.
	GitHubSignatureHeader = "X-Hub-Signature-256"
	// GitHubEventHeader carries the event name, e.g. "pull_request".
	GitHubEventHeader = "X-GitHub-Event"
	// GitHubDeliveryHeader carries the unique delivery id for this webhook.
	GitHubDeliveryHeader = "X-GitHub-Delivery"
	// GitHubInstallationHeader, when present, carries the GitHub App
	// installation id, propagated downstream as a forwarding header.
	GitHubInstallationHeader = "X-GitHub-Hook-Installation-Target-ID"
)

type githubAdapter struct{}

// NewGitHubAdapter returns the GitHub source adapter.
func NewGitHubAdapter() Adapter {
	return &githubAdapter{}
}

func (a *githubAdapter) Source() events.Source {
	return events.SourceGitHub
}

func (a *githubAdapter) Validate(secret string, header http.Header, body []byte) error {
	sig := header.Get(GitHubSignatureHeader)
	if sig == "" {
		return Unauthorized("missing " + GitHubSignatureHeader)
	}
	if !signature.VerifySignature([]byte(secret), body, sig) {
		return Unauthorized("invalid signature")
	}
	return nil
}

func (a *githubAdapter) EventType(header http.Header, payload map[string]interface{}) string {
	eventName := header.Get(GitHubEventHeader)
	action := stringField(payload, "action")
	if action == "" {
		return eventName
	}
	return eventName + "." + action
}

// githubCooldownEntity implements the spec's narrower cooldown priority:
// pull_request.number, issue.number, number.
func githubCooldownEntity(payload map[string]interface{}) string {
	if pr := nestedMap(payload, "pull_request"); pr != nil {
		if n, ok := numericField(pr, "number"); ok {
			return n
		}
	}
	if issue := nestedMap(payload, "issue"); issue != nil {
		if n, ok := numericField(issue, "number"); ok {
			return n
		}
	}
	if n, ok := numericField(payload, "number"); ok {
		return n
	}
	return ""
}

// githubDedupEntity extends the cooldown priority list with comment.id,
// review.id, repository.id, falling back to "unknown".
func githubDedupEntity(payload map[string]interface{}) string {
	if e := githubCooldownEntity(payload); e != "" {
		return e
	}
	if comment := nestedMap(payload, "comment"); comment != nil {
		if n, ok := numericField(comment, "id"); ok {
			return n
		}
	}
	if review := nestedMap(payload, "review"); review != nil {
		if n, ok := numericField(review, "id"); ok {
			return n
		}
	}
	if repo := nestedMap(payload, "repository"); repo != nil {
		if n, ok := numericField(repo, "id"); ok {
			return n
		}
	}
	return "unknown"
}

func (a *githubAdapter) ExtractKeys(header http.Header, payload map[string]interface{}) Keys {
	cooldownEntity := githubCooldownEntity(payload)
	if cooldownEntity == "" {
		cooldownEntity = "unknown"
	}

	repo := ""
	if r := nestedMap(payload, "repository"); r != nil {
		repo = stringField(r, "full_name")
	}

	return Keys{
		DeliveryID:  header.Get(GitHubDeliveryHeader),
		Action:      stringField(payload, "action"),
		DedupEntity: githubDedupEntity(payload),
		CoolEntity:  cooldownEntity,
		Repo:        repo,
	}
}

func (a *githubAdapter) Metadata(header http.Header, payload map[string]interface{}) events.Metadata {
	return events.Metadata{
		DeliveryID:     header.Get(GitHubDeliveryHeader),
		EventName:      header.Get(GitHubEventHeader),
		InstallationID: header.Get(GitHubInstallationHeader),
	}
}
