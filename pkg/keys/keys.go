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

// Package keys builds the canonical dedup and cooldown keys used by the
// idempotency store. Key shape is part of the wire contract with the store,
// so these are pure, stable string compositions with no hidden state.
package keys

import "strings"

// GitHubDedupKey identifies an exact re-delivery of the same GitHub event.
func GitHubDedupKey(deliveryID, action, entityID string) string {
	return "github:" + deliveryID + ":" + action + ":" + entityID
}

// LinearDedupKey identifies an exact re-delivery of the same Linear event.
func LinearDedupKey(deliveryID, action, entityID string) string {
	return "linear:" + deliveryID + ":" + action + ":" + entityID
}

// GitHubCooldownKey identifies a GitHub entity for cooldown purposes. repo
// slashes are replaced with dashes so the key stays a single path-safe
// token.
func GitHubCooldownKey(repo, entityID string) string {
	return "cooldown-github-" + strings.ReplaceAll(repo, "/", "-") + "-" + entityID
}

// LinearCooldownKey identifies a Linear entity for cooldown purposes.
func LinearCooldownKey(teamKey, entityID string) string {
	return "cooldown-linear-" + teamKey + "-" + entityID
}
