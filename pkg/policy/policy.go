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

// Package policy applies the drop-before-enqueue filters ingress runs ahead
// of the dedup/cooldown/sanitize pipeline: event-type allowlisting, bot
// sender suppression, and agent-loop suppression.
package policy

import "strings"

// githubAllowedEvents lists the GitHub event names ingress forwards at all;
// anything else is reported as "filtered" regardless of action.
var githubAllowedEvents = map[string]bool{
	"pull_request":                true,
	"pull_request_review":         true,
	"pull_request_review_comment": true,
	"issue_comment":               true,
}

// githubAllowedActions lists the actions ingress forwards, shared across
// every allowed event above.
var githubAllowedActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
	"submitted":   true,
	"created":     true,
}

// linearAllowedTypes lists the Linear webhook "type" values ingress
// forwards; anything else is reported as "filtered".
var linearAllowedTypes = map[string]bool{
	"Issue":   true,
	"Comment": true,
}

// EventTypeFilter reports whether a GitHub (event, action) pair or a Linear
// type is in the allowlist. For GitHub pass the raw event name and action;
// for Linear pass the raw "type" field as event and leave action empty.
func EventTypeFilter(event, action string) bool {
	if action == "" {
		return linearAllowedTypes[event]
	}
	return githubAllowedEvents[event] && githubAllowedActions[action]
}

// IsBotSender reports whether a GitHub sender login is a bot account, per
// GitHub's own "[bot]" suffix convention for bot-authored senders.
func IsBotSender(senderLogin string) bool {
	return strings.HasSuffix(senderLogin, "[bot]")
}

// IsAgentUser reports whether a Linear actor ID matches the configured
// agent-user ID, i.e. the event was produced by the relay's own downstream
// agent rather than a human, and forwarding it would create a feedback
// loop. An empty configuredAgentUserID disables the check.
func IsAgentUser(actorID, configuredAgentUserID string) bool {
	if configuredAgentUserID == "" || actorID == "" {
		return false
	}
	return actorID == configuredAgentUserID
}
