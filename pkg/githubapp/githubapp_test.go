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

package githubapp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func generateTestKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func TestNewRejectsInvalidPEM(t *testing.T) {
	t.Parallel()

	if _, err := New("123", "456", "not a pem"); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
}

func TestNewAcceptsValidKey(t *testing.T) {
	t.Parallel()

	src, err := New("123", "456", generateTestKeyPEM(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if src == nil {
		t.Fatal("New() returned a nil token source")
	}
}

func TestParseTokenResponse(t *testing.T) {
	t.Parallel()

	got, err := parseTokenResponse(`{"token":"ghs_abc123"}`)
	if err != nil {
		t.Fatalf("parseTokenResponse() error = %v", err)
	}
	if got != "ghs_abc123" {
		t.Errorf("parseTokenResponse() = %q, want ghs_abc123", got)
	}
}

func TestParseTokenResponseMissingToken(t *testing.T) {
	t.Parallel()

	if _, err := parseTokenResponse(`{}`); err == nil {
		t.Fatal("expected error for response with no token field")
	}
}
