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

package idempotency

import (
	"testing"
	"time"
)

func TestCheckAcceptsFirstSeen(t *testing.T) {
	t.Parallel()

	s := New(5*time.Minute, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if got := s.Check("d1", "e1", now); got != Accept {
		t.Fatalf("Check() = %v, want Accept", got)
	}
}

func TestCheckRejectsDuplicateDeliveryWithinWindow(t *testing.T) {
	t.Parallel()

	s := New(5*time.Minute, 0)
	now := time.Unix(1_700_000_000, 0)

	if got := s.Check("d1", "", now); got != Accept {
		t.Fatalf("first Check() = %v, want Accept", got)
	}
	later := now.Add(time.Minute)
	if got := s.Check("d1", "", later); got != Duplicate {
		t.Fatalf("second Check() = %v, want Duplicate", got)
	}
}

func TestCheckAllowsDeliveryAfterDedupWindowExpires(t *testing.T) {
	t.Parallel()

	s := New(time.Minute, 0)
	now := time.Unix(1_700_000_000, 0)

	if got := s.Check("d1", "", now); got != Accept {
		t.Fatalf("first Check() = %v, want Accept", got)
	}
	after := now.Add(2 * time.Minute)
	if got := s.Check("d1", "", after); got != Accept {
		t.Fatalf("Check() after window expiry = %v, want Accept", got)
	}
}

func TestCheckRejectsCooldownEntityWithinWindow(t *testing.T) {
	t.Parallel()

	s := New(0, 10*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if got := s.Check("d1", "cooldown-github-org-repo-42", now); got != Accept {
		t.Fatalf("first Check() = %v, want Accept", got)
	}
	// A different delivery ID against the same entity, within the cooldown
	// window, must be rejected even though its dedup key is novel.
	later := now.Add(time.Minute)
	if got := s.Check("d2", "cooldown-github-org-repo-42", later); got != Cooldown {
		t.Fatalf("second Check() = %v, want Cooldown", got)
	}
}

func TestCheckDedupTakesPriorityOverCooldown(t *testing.T) {
	t.Parallel()

	s := New(5*time.Minute, 10*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	s.Check("d1", "e1", now)
	later := now.Add(time.Minute)
	if got := s.Check("d1", "e1", later); got != Duplicate {
		t.Fatalf("Check() = %v, want Duplicate (dedup checked first)", got)
	}
}

func TestCheckEmptyKeysNeverMatch(t *testing.T) {
	t.Parallel()

	s := New(5*time.Minute, 5*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if got := s.Check("", "", now); got != Accept {
		t.Fatalf("Check() = %v, want Accept", got)
	}
	if got := s.Check("", "", now); got != Accept {
		t.Fatalf("second Check() with empty keys = %v, want Accept", got)
	}
}

func TestPruneRemovesExpiredEntries(t *testing.T) {
	t.Parallel()

	s := New(time.Minute, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.Check("d1", "e1", now)

	dedupLen, cooldownLen := s.Len()
	if dedupLen != 1 || cooldownLen != 1 {
		t.Fatalf("Len() = (%d, %d), want (1, 1)", dedupLen, cooldownLen)
	}

	s.Prune(now.Add(5 * time.Minute))
	dedupLen, cooldownLen = s.Len()
	if dedupLen != 0 || cooldownLen != 0 {
		t.Fatalf("Len() after Prune() = (%d, %d), want (0, 0)", dedupLen, cooldownLen)
	}
}
