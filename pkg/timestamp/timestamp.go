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

// Package timestamp implements the Linear webhookTimestamp freshness gate.
package timestamp

import (
	"strconv"
	"time"
)

// msThreshold is the value above which a timestamp is assumed to be in
// milliseconds rather than seconds.
const msThreshold = 10_000_000_000

// extractSeconds normalizes a raw webhookTimestamp value (int64, float64, or
// numeric string) to Unix seconds.
func extractSeconds(v interface{}) (int64, bool) {
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case int64:
		n = t
	case int:
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}

	if n > msThreshold {
		n /= 1000
	}
	return n, true
}

// Check extracts payload["webhookTimestamp"] and reports whether it falls
// within window of now. When enforce is false it always accepts. When
// enforce is true and the field is missing or unparseable, it rejects.
func Check(payload map[string]interface{}, now time.Time, window time.Duration, enforce bool) bool {
	if !enforce {
		return true
	}

	raw, ok := payload["webhookTimestamp"]
	if !ok {
		return false
	}

	seconds, ok := extractSeconds(raw)
	if !ok {
		return false
	}

	ts := time.Unix(seconds, 0)
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}
