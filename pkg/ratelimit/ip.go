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

package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterEntry pairs a per-IP bucket with its last-seen time so Sweep can
// evict idle entries.
type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPLimiter is a per-client-IP token bucket, keyed on the /24 (v4) or /64
// (v6) CIDR block a request's source address falls in rather than the bare
// address, so a single misbehaving host can't evade the limit by cycling
// through addresses in the same block.
type IPLimiter struct {
	mu       sync.Mutex
	entries  map[string]*ipLimiterEntry
	rps      float64
	burst    int
	maxIdle  time.Duration
	trustXFF bool
}

// Option configures an IPLimiter.
type Option func(*IPLimiter)

// WithTrustedProxy enables trusting the first X-Forwarded-For entry as the
// client address. Only enable this behind a proxy that overwrites the
// header rather than appending to client-supplied values.
func WithTrustedProxy() Option {
	return func(l *IPLimiter) { l.trustXFF = true }
}

// NewIPLimiter builds an IPLimiter allowing rps requests per second per
// block, with the given burst, evicting entries idle longer than maxIdle.
func NewIPLimiter(rps float64, burst int, maxIdle time.Duration, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     rps,
		burst:   burst,
		maxIdle: maxIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// KeyForRequest extracts the CIDR-block key for r's client address.
func (l *IPLimiter) KeyForRequest(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if l.trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				addr = first
			}
		}
	}
	return blockKey(addr)
}

// blockKey collapses an IP address to its containing /24 (v4) or /64 (v6)
// block, falling back to the raw address if it doesn't parse.
func blockKey(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String() + "/24"
	}
	mask := net.CIDRMask(64, 128)
	return ip.Mask(mask).String() + "/64"
}

// Allow reports whether a request from r's client may proceed right now.
func (l *IPLimiter) Allow(r *http.Request) bool {
	key := l.KeyForRequest(r)

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.entries[key] = entry
	}
	entry.lastAccess = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Sweep evicts blocks that haven't been seen since before the maxIdle
// cutoff measured from now.
func (l *IPLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.entries {
		if now.Sub(entry.lastAccess) > l.maxIdle {
			delete(l.entries, key)
		}
	}
}

// Len reports the number of tracked blocks, for metrics/diagnostics.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
