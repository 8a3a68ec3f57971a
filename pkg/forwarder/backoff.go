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

package forwarder

import "time"

// Backoff implements §4.10's curve: min(initial * 2^(attempts-1), max). attempts
// is the 1-indexed count of transient failures seen so far (including this one).
// Exported so pkg/consumer's in-place retry loop can share the same curve.
func Backoff(attempts int, initial, max time.Duration) time.Duration {
	return backoff(attempts, initial, max)
}

func backoff(attempts int, initial, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := initial
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
