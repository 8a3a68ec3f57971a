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

// Package ratelimit bounds how fast ingress accepts webhooks, both per
// upstream source and per client IP, on top of golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// periodMs implements the spec's "period_ms = max(1, 60000/limit)" formula,
// retained for callers that want the nominal spacing a limit implies even
// though the window itself is fixed rather than spaced-token.
func periodMs(limitPerMinute int) int64 {
	if limitPerMinute <= 0 {
		return 60000
	}
	period := int64(60000 / limitPerMinute)
	if period < 1 {
		period = 1
	}
	return period
}

// windowBucket is the §4.7 fixed-window key: floor(now/60s).
func windowBucket(now time.Time) int64 {
	return now.Unix() / 60
}

// sourceWindow tracks one source's admitted-count within its current bucket.
type sourceWindow struct {
	bucket int64
	count  int
}

// SourceLimiter enforces a fixed-window counter per upstream source
// (github/linear/gmail): up to limit events may be admitted within each
// 60-second bucket, per §4.7; the counter resets the instant the bucket
// changes rather than sliding or refilling mid-window.
type SourceLimiter struct {
	mu      sync.Mutex
	windows map[events.Source]*sourceWindow
	limits  map[events.Source]int

	// Now is overridable in tests to control which bucket Allow falls in.
	Now func() time.Time
}

// NewSourceLimiter builds a SourceLimiter from a per-source requests-per-
// minute map. A source absent from limits is unlimited.
func NewSourceLimiter(limitsPerMinute map[events.Source]int) *SourceLimiter {
	sl := &SourceLimiter{
		windows: make(map[events.Source]*sourceWindow, len(limitsPerMinute)),
		limits:  make(map[events.Source]int, len(limitsPerMinute)),
		Now:     time.Now,
	}
	for src, limit := range limitsPerMinute {
		sl.limits[src] = limit
	}
	return sl
}

// Allow reports whether a delivery from src may proceed right now.
func (sl *SourceLimiter) Allow(src events.Source) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	limit, ok := sl.limits[src]
	if !ok {
		return true
	}

	bucket := windowBucket(sl.Now())
	w, ok := sl.windows[src]
	if !ok || w.bucket != bucket {
		w = &sourceWindow{bucket: bucket}
		sl.windows[src] = w
	}

	if w.count >= limit {
		return false
	}
	w.count++
	return true
}
