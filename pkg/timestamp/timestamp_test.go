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

package timestamp

import (
	"testing"
	"time"
)

func TestCheckDisabled(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000500, 0)
	if !Check(map[string]interface{}{}, now, 60*time.Second, false) {
		t.Fatal("expected disabled enforcement to always accept")
	}
}

func TestCheckMissingFieldEnforced(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000500, 0)
	if Check(map[string]interface{}{}, now, 60*time.Second, true) {
		t.Fatal("expected missing field to be rejected when enforced")
	}
}

func TestCheckStaleMillis(t *testing.T) {
	t.Parallel()
	payload := map[string]interface{}{"webhookTimestamp": float64(1700000000000)}
	now := time.Unix(1700000500, 0)
	if Check(payload, now, 60*time.Second, true) {
		t.Fatal("expected stale timestamp (delta 500s > window 60s) to be rejected")
	}
}

func TestCheckFreshMillis(t *testing.T) {
	t.Parallel()
	payload := map[string]interface{}{"webhookTimestamp": float64(1700000000000)}
	now := time.Unix(1700000030, 0)
	if !Check(payload, now, 60*time.Second, true) {
		t.Fatal("expected fresh timestamp (delta 30s <= window 60s) to be accepted")
	}
}

func TestCheckStringSeconds(t *testing.T) {
	t.Parallel()
	payload := map[string]interface{}{"webhookTimestamp": "1700000000"}
	now := time.Unix(1700000010, 0)
	if !Check(payload, now, 60*time.Second, true) {
		t.Fatal("expected numeric-string seconds to be parsed and accepted")
	}
}

func TestCheckUnparseable(t *testing.T) {
	t.Parallel()
	payload := map[string]interface{}{"webhookTimestamp": "not-a-number"}
	now := time.Unix(1700000010, 0)
	if Check(payload, now, 60*time.Second, true) {
		t.Fatal("expected unparseable timestamp to be rejected when enforced")
	}
}
