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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

func TestPeriodMsFormula(t *testing.T) {
	t.Parallel()

	cases := []struct {
		limit int
		want  int64
	}{
		{limit: 60, want: 1000},
		{limit: 600, want: 100},
		{limit: 0, want: 60000},
		{limit: 100000, want: 1},
	}
	for _, tc := range cases {
		if got := periodMs(tc.limit); got != tc.want {
			t.Errorf("periodMs(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestSourceLimiterAllowsThenBlocksBurst(t *testing.T) {
	t.Parallel()

	sl := NewSourceLimiter(map[events.Source]int{events.SourceGitHub: 60})
	now := time.Unix(1_700_000_000, 0)
	sl.Now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		if !sl.Allow(events.SourceGitHub) {
			t.Fatalf("Allow() on call %d = false, want true (limit not yet reached)", i+1)
		}
	}
	if sl.Allow(events.SourceGitHub) {
		t.Fatal("Allow() call 61 = true, want false (limit reached within window)")
	}
}

func TestSourceLimiterResetsOnNextWindow(t *testing.T) {
	t.Parallel()

	sl := NewSourceLimiter(map[events.Source]int{events.SourceGitHub: 1})
	now := time.Unix(1_700_000_000, 0)
	sl.Now = func() time.Time { return now }

	if !sl.Allow(events.SourceGitHub) {
		t.Fatal("first Allow() = false, want true")
	}
	if sl.Allow(events.SourceGitHub) {
		t.Fatal("second Allow() in same window = true, want false")
	}

	now = now.Add(60 * time.Second)
	if !sl.Allow(events.SourceGitHub) {
		t.Fatal("Allow() in next window = false, want true (counter should reset)")
	}
}

func TestSourceLimiterUnconfiguredSourceUnlimited(t *testing.T) {
	t.Parallel()

	sl := NewSourceLimiter(map[events.Source]int{events.SourceGitHub: 60})
	for i := 0; i < 5; i++ {
		if !sl.Allow(events.SourceLinear) {
			t.Fatalf("Allow() for unconfigured source = false on iteration %d, want true", i)
		}
	}
}

func TestIPLimiterBlockKeyGroupsSameSubnet(t *testing.T) {
	t.Parallel()

	if got, want := blockKey("203.0.113.5"), "203.0.113.0/24"; got != want {
		t.Errorf("blockKey() = %q, want %q", got, want)
	}
	if got := blockKey("203.0.113.250"); got != "203.0.113.0/24" {
		t.Errorf("blockKey() = %q, want same /24 as .5", got)
	}
	if got := blockKey("not-an-ip"); got != "not-an-ip" {
		t.Errorf("blockKey() fallback = %q, want passthrough", got)
	}
}

func TestIPLimiterAllowShares24Bucket(t *testing.T) {
	t.Parallel()

	l := NewIPLimiter(1, 1, time.Minute)

	r1 := httptest.NewRequest(http.MethodPost, "/", nil)
	r1.RemoteAddr = "203.0.113.5:1234"
	r2 := httptest.NewRequest(http.MethodPost, "/", nil)
	r2.RemoteAddr = "203.0.113.250:5678"

	if !l.Allow(r1) {
		t.Fatal("first Allow() from .5 = false, want true")
	}
	if l.Allow(r2) {
		t.Fatal("Allow() from .250 sharing the /24 = true, want false (burst exhausted)")
	}
}

func TestIPLimiterTrustedProxyUsesXFF(t *testing.T) {
	t.Parallel()

	l := NewIPLimiter(1, 1, time.Minute, WithTrustedProxy())
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.1:9999"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if got, want := l.KeyForRequest(r), "198.51.100.0/24"; got != want {
		t.Errorf("KeyForRequest() = %q, want %q", got, want)
	}
}

func TestIPLimiterSweepEvictsIdleEntries(t *testing.T) {
	t.Parallel()

	l := NewIPLimiter(1, 1, time.Minute)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	l.Allow(r)

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	l.Sweep(time.Now().Add(2 * time.Minute))
	if l.Len() != 0 {
		t.Fatalf("Len() after Sweep() = %d, want 0", l.Len())
	}
}
