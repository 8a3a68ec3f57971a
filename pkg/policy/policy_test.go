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

package policy

import "testing"

func TestEventTypeFilterGitHub(t *testing.T) {
	t.Parallel()

	cases := []struct {
		event, action string
		want           bool
	}{
		{"pull_request", "opened", true},
		{"pull_request_review", "submitted", true},
		{"pull_request_review_comment", "created", true},
		{"issue_comment", "created", true},
		{"push", "opened", false},
		{"pull_request", "closed", false},
	}
	for _, tc := range cases {
		if got := EventTypeFilter(tc.event, tc.action); got != tc.want {
			t.Errorf("EventTypeFilter(%q, %q) = %v, want %v", tc.event, tc.action, got, tc.want)
		}
	}
}

func TestEventTypeFilterLinear(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ  string
		want bool
	}{
		{"Issue", true},
		{"Comment", true},
		{"Project", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := EventTypeFilter(tc.typ, ""); got != tc.want {
			t.Errorf("EventTypeFilter(%q, \"\") = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestIsBotSender(t *testing.T) {
	t.Parallel()

	if !IsBotSender("dependabot[bot]") {
		t.Error("IsBotSender(\"dependabot[bot]\") = false, want true")
	}
	if IsBotSender("octocat") {
		t.Error("IsBotSender(\"octocat\") = true, want false")
	}
}

func TestIsAgentUser(t *testing.T) {
	t.Parallel()

	if !IsAgentUser("agent-123", "agent-123") {
		t.Error("IsAgentUser() = false, want true for matching actor")
	}
	if IsAgentUser("human-456", "agent-123") {
		t.Error("IsAgentUser() = true, want false for non-matching actor")
	}
	if IsAgentUser("agent-123", "") {
		t.Error("IsAgentUser() = true, want false when no agent user is configured")
	}
}
