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

// Package githubapp is the optional installation-token source for the
// forward worker: when a deployment needs to call back into the GitHub API
// (to resolve a sender's identity for the bot-sender filter, for instance),
// it authenticates as a GitHub App rather than holding a long-lived PAT.
//
// The ingest hot path never depends on this package: the HMAC signature
// check ingress performs on every delivery uses the raw webhook secret, not
// an installation token, and nothing here runs unless a deployment opts in
// by setting GITHUB_APP_ID.
package githubapp

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/abcxyz/pkg/githubapp"
)

// InstallationTokenSource supplies short-lived GitHub App installation
// tokens on demand.
type InstallationTokenSource interface {
	GitHubToken(ctx context.Context) (string, error)
}

type tokenSource struct {
	app *githubapp.GitHubApp
}

// New constructs an InstallationTokenSource authenticating as the App
// identified by appID/installationID, signing with the PEM-encoded RSA
// private key privateKeyPEM.
func New(appID, installationID, privateKeyPEM string) (InstallationTokenSource, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("githubapp: failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("githubapp: failed to parse private key: %w", err)
	}

	app := githubapp.New(githubapp.NewConfig(appID, installationID, key))
	return &tokenSource{app: app}, nil
}

// GitHubToken requests a fresh installation token scoped to read access on
// all repositories the installation covers.
func (s *tokenSource) GitHubToken(ctx context.Context) (string, error) {
	resp, err := s.app.AccessTokenAllRepos(ctx, &githubapp.TokenRequestAllRepos{
		Permissions: map[string]string{"metadata": "read"},
	})
	if err != nil {
		return "", fmt.Errorf("githubapp: failed to get installation token: %w", err)
	}
	return parseTokenResponse(resp)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// parseTokenResponse extracts the bare token from the JSON document the
// GitHub App client returns.
func parseTokenResponse(raw string) (string, error) {
	var resp tokenResponse
	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&resp); err != nil {
		return "", fmt.Errorf("githubapp: failed to parse token response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("githubapp: token response had no token field")
	}
	return resp.Token, nil
}
