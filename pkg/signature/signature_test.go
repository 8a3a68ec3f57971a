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

package signature

import (
	"testing"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	secret := []byte("github-secret")
	body := []byte(`{"action":"opened"}`)
	hex := HMACSHA256Hex(secret, body)

	cases := []struct {
		name   string
		header string
		want   bool
	}{
		{"prefixed", "sha256=" + hex, true},
		{"bare hex", hex, true},
		{"uppercase", "SHA256=" + hex, false}, // prefix strip is case-sensitive
		{"whitespace padded", "  sha256=" + hex + "  ", true},
		{"internal whitespace", "sha256=" + hex[:4] + " " + hex[4:], true},
		{"wrong secret", HMACSHA256Hex([]byte("other"), body), false},
		{"truncated", hex[:len(hex)-2], false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := VerifySignature(secret, body, tc.header); got != tc.want {
				t.Errorf("VerifySignature(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

func TestVerifySignatureUnequalLengthNeverComparesContents(t *testing.T) {
	t.Parallel()

	// A short header must fail immediately regardless of content.
	if VerifySignature([]byte("s"), []byte("b"), "ab") {
		t.Fatal("expected short header to fail")
	}
}

func TestVerifySharedToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		secret string
		token  string
		want   bool
	}{
		{"match", "tok-123", "tok-123", true},
		{"mismatch", "tok-123", "tok-124", false},
		{"length mismatch", "tok-123", "tok-12", false},
		{"empty both", "", "", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := VerifySharedToken(tc.secret, tc.token); got != tc.want {
				t.Errorf("VerifySharedToken(%q, %q) = %v, want %v", tc.secret, tc.token, got, tc.want)
			}
		})
	}
}
