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

// Package idempotency tracks two independent TTL windows in front of the
// forward pipeline: a dedup window keyed on delivery identity, and a
// cooldown window keyed on entity identity, so that a retried delivery or a
// burst of events against the same issue/PR doesn't all get forwarded.
package idempotency

import (
	"sync"
	"time"
)

// Decision is the outcome of checking one event against both windows.
type Decision int

const (
	// Accept means neither window rejected the event; it may proceed.
	Accept Decision = iota
	// Duplicate means the dedup key was already seen within its window.
	Duplicate
	// Cooldown means the cooldown key was already seen within its window.
	Cooldown
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Store holds the dedup and cooldown windows in memory, each as a map from
// key to the epoch second it expires.
type Store struct {
	mu sync.Mutex

	dedupWindow    time.Duration
	cooldownWindow time.Duration

	dedup    map[string]int64
	cooldown map[string]int64
}

// New constructs a Store with the given dedup and cooldown TTLs.
func New(dedupWindow, cooldownWindow time.Duration) *Store {
	return &Store{
		dedupWindow:    dedupWindow,
		cooldownWindow: cooldownWindow,
		dedup:          make(map[string]int64),
		cooldown:       make(map[string]int64),
	}
}

// Check evaluates dedupKey and cooldownKey against now. An empty dedupKey
// accepts the event without consulting either window (the Gmail adapter
// extracts no dedup/cooldown keys at all). Otherwise expired dedup entries
// are pruned, a live dedupKey is a Duplicate, and dedupKey is recorded
// before the cooldown stage. An empty cooldownKey then accepts; otherwise
// expired cooldown entries are pruned, a live cooldownKey is a Cooldown, and
// cooldownKey is recorded before accepting.
//
// Dedup is checked before cooldown: a retried delivery of an event that's
// also within its entity's cooldown window is reported as a duplicate, not
// a cooldown hit, since that's the more specific signal.
func (s *Store) Check(dedupKey, cooldownKey string, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowEpoch := now.Unix()

	if dedupKey == "" {
		return Accept
	}
	pruneExpired(s.dedup, nowEpoch)
	if exp, ok := s.dedup[dedupKey]; ok && exp > nowEpoch {
		return Duplicate
	}
	s.dedup[dedupKey] = nowEpoch + int64(s.dedupWindow/time.Second)

	if cooldownKey == "" {
		return Accept
	}
	pruneExpired(s.cooldown, nowEpoch)
	if exp, ok := s.cooldown[cooldownKey]; ok && exp > nowEpoch {
		return Cooldown
	}
	s.cooldown[cooldownKey] = nowEpoch + int64(s.cooldownWindow/time.Second)
	return Accept
}

// pruneExpired deletes every entry of m whose expiry is at or before nowEpoch.
func pruneExpired(m map[string]int64, nowEpoch int64) {
	for k, exp := range m {
		if exp <= nowEpoch {
			delete(m, k)
		}
	}
}

// Prune drops expired entries from both windows; Check already prunes each
// map it consults.
func (s *Store) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowEpoch := now.Unix()
	for k, exp := range s.dedup {
		if exp <= nowEpoch {
			delete(s.dedup, k)
		}
	}
	for k, exp := range s.cooldown {
		if exp <= nowEpoch {
			delete(s.cooldown, k)
		}
	}
}

// Len reports the current size of both windows, for metrics/diagnostics.
func (s *Store) Len() (dedup, cooldown int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dedup), len(s.cooldown)
}
