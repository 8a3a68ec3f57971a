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

// Package signature implements the HMAC-SHA256 verification shared by the
// GitHub and Linear source adapters, plus the shared-token compare used by
// the Gmail adapter.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 digest of body under
// secret.
func HMACSHA256Hex(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// normalize trims whitespace, strips a leading "sha256=" prefix, removes all
// internal whitespace, and lowercases the result.
func normalize(header string) string {
	h := strings.TrimSpace(header)
	h = strings.TrimPrefix(h, "sha256=")
	h = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, h)
	return strings.ToLower(h)
}

// VerifySignature reports whether header, once normalized, is the correct
// HMAC-SHA256 hex digest of body under secret. The comparison is
// constant-time; unequal-length inputs fail without comparing contents.
func VerifySignature(secret, body []byte, header string) bool {
	want := HMACSHA256Hex(secret, body)
	got := normalize(header)
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// VerifySharedToken reports whether token equals secret, in constant time.
// Unequal-length inputs fail without comparing contents.
func VerifySharedToken(secret, token string) bool {
	if len(token) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
