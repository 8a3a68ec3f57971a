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
	"testing"

	"github.com/abcxyz/webhook-relay/pkg/keys"
	"github.com/abcxyz/webhook-relay/pkg/signature"
)

func TestGitHubHappyPath(t *testing.T) {
	t.Parallel()

	secret := "github-secret"
	body := []byte(`{"action":"opened"}`)
	sig := "sha256=" + signature.HMACSHA256Hex([]byte(secret), body)

	header := http.Header{}
	header.Set(GitHubSignatureHeader, sig)
	header.Set(GitHubEventHeader, "pull_request")
	header.Set(GitHubDeliveryHeader, "d1")

	a := NewGitHubAdapter()
	if err := a.Validate(secret, header, body); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	payload := map[string]interface{}{"action": "opened"}
	if got, want := a.EventType(header, payload), "pull_request.opened"; got != want {
		t.Errorf("EventType() = %q, want %q", got, want)
	}

	k := a.ExtractKeys(header, payload)
	dedup := keys.GitHubDedupKey(k.DeliveryID, k.Action, k.DedupEntity)
	if want := "github:d1:opened:unknown"; dedup != want {
		t.Errorf("dedup key = %q, want %q", dedup, want)
	}
}

func TestGitHubInvalidSignature(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set(GitHubSignatureHeader, "sha256=deadbeef")

	a := NewGitHubAdapter()
	if err := a.Validate("secret", header, []byte(`{}`)); err == nil {
		t.Fatal("expected error for invalid signature")
	}
}

func TestGitHubMissingSignature(t *testing.T) {
	t.Parallel()

	a := NewGitHubAdapter()
	if err := a.Validate("secret", http.Header{}, []byte(`{}`)); err == nil {
		t.Fatal("expected error for missing signature header")
	}
}

func TestGitHubCooldownEntityPriority(t *testing.T) {
	t.Parallel()

	a := NewGitHubAdapter()
	header := http.Header{}

	payload := map[string]interface{}{
		"pull_request": map[string]interface{}{"number": float64(42)},
		"number":       float64(99),
	}
	k := a.ExtractKeys(header, payload)
	if k.CoolEntity != "42" {
		t.Errorf("CoolEntity = %q, want pull_request.number priority (42)", k.CoolEntity)
	}

	repoPayload := map[string]interface{}{
		"pull_request": map[string]interface{}{"number": float64(42)},
		"repository":   map[string]interface{}{"full_name": "org/repo"},
	}
	k2 := a.ExtractKeys(header, repoPayload)
	cooldown := keys.GitHubCooldownKey(k2.Repo, k2.CoolEntity)
	if want := "cooldown-github-org-repo-42"; cooldown != want {
		t.Errorf("cooldown key = %q, want %q", cooldown, want)
	}
}

func TestLinearEventTypeAndTimestampFields(t *testing.T) {
	t.Parallel()

	a := NewLinearAdapter()
	header := http.Header{}
	header.Set(LinearDeliveryHeader, "d1")

	payload := map[string]interface{}{
		"type":   "Issue",
		"action": "create",
		"data": map[string]interface{}{
			"id":   "i-1",
			"team": map[string]interface{}{"key": "ENG"},
		},
	}

	if got, want := a.EventType(header, payload), "issue.create"; got != want {
		t.Errorf("EventType() = %q, want %q", got, want)
	}

	k := a.ExtractKeys(header, payload)
	if k.TeamKey != "ENG" {
		t.Errorf("TeamKey = %q, want ENG", k.TeamKey)
	}
	if k.CoolEntity != "i-1" {
		t.Errorf("CoolEntity = %q, want i-1", k.CoolEntity)
	}
}

func TestGmailEventTypeFallbacks(t *testing.T) {
	t.Parallel()

	a := NewGmailAdapter()
	header := http.Header{}
	header.Set(GmailResourceStateHeader, "Exists")

	if got, want := a.EventType(header, map[string]interface{}{}), "gmail.exists"; got != want {
		t.Errorf("EventType() fallback = %q, want %q", got, want)
	}

	if got, want := a.EventType(http.Header{}, map[string]interface{}{}), "gmail.event"; got != want {
		t.Errorf("EventType() default = %q, want %q", got, want)
	}

	payload := map[string]interface{}{"event_type": "gmail.custom"}
	if got, want := a.EventType(header, payload), "gmail.custom"; got != want {
		t.Errorf("EventType() explicit = %q, want %q", got, want)
	}
}

func TestGmailValidate(t *testing.T) {
	t.Parallel()

	a := NewGmailAdapter()
	header := http.Header{}
	header.Set(GmailTokenHeader, "shared-secret")

	if err := a.Validate("shared-secret", header, nil); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	header.Set(GmailTokenHeader, "wrong")
	if err := a.Validate("shared-secret", header, nil); err == nil {
		t.Fatal("expected error for mismatched token")
	}
}

func TestRegistryLookupUnknownSource(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Lookup("bitbucket"); err == nil {
		t.Fatal("expected BadRequestError for unknown source")
	}
}
