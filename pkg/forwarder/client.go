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

// Package forwarder implements the retrying delivery of a sanitized webhook
// envelope to the downstream agent gateway (component C10/C12): it builds
// the outbound request, classifies the response, and drives the
// backoff/DLQ decision both topologies share.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// Client posts one envelope to the agent gateway.
type Client struct {
	httpClient *http.Client
	gatewayURL string
	hooksToken string
	builder    PayloadBuilder
}

// NewClient constructs a Client. connectTimeout bounds dialing; requestTimeout
// bounds the whole round trip.
func NewClient(gatewayURL, hooksToken string, connectTimeout, requestTimeout time.Duration, builder PayloadBuilder) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		gatewayURL: gatewayURL,
		hooksToken: hooksToken,
		builder:    builder,
	}
}

// Post delivers one envelope and classifies the result. A non-nil error is
// always accompanied by either ErrTransient or ErrPermanent in its chain.
func (c *Client) Post(ctx context.Context, env events.WebhookEnvelope, md events.Metadata) (Outcome, error) {
	body, err := c.builder.Build(env)
	if err != nil {
		return Permanent, fmt.Errorf("%w: failed to build payload: %v", ErrPermanent, err)
	}

	url := fmt.Sprintf("%s/hooks/agent?source=%s", c.gatewayURL, env.Source.QueryToken())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Permanent, fmt.Errorf("%w: failed to build request: %v", ErrPermanent, err)
	}
	req.Header = buildHeaders(c.hooksToken, env, md)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome := classifyTransportError(err)
		return outcome, fmt.Errorf("%w: request failed: %v", sentinelFor(outcome), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	outcome := classifyStatus(resp.StatusCode)
	if outcome != Success {
		return outcome, fmt.Errorf("%w: gateway returned %d", sentinelFor(outcome), resp.StatusCode)
	}
	return Success, nil
}

func sentinelFor(o Outcome) error {
	if o == Transient {
		return ErrTransient
	}
	return ErrPermanent
}
