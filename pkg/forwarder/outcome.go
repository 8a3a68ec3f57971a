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

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// Outcome classifies the result of one forward attempt.
type Outcome int

const (
	Success Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrTransient and ErrPermanent are the sentinel errors Post returns,
// wrapping the underlying cause so callers can still inspect it via
// errors.Unwrap while branching on errors.Is.
var (
	ErrTransient = errors.New("forwarder: transient failure")
	ErrPermanent = errors.New("forwarder: permanent failure")
)

// classifyStatus implements the §4.10 status-code table: 2xx succeeds, 5xx
// or 429 is transient, every other 4xx is permanent.
func classifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code == 429:
		return Transient
	case code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// classifyTransportError reports whether a transport-level failure (no HTTP
// response at all) is transient — a timeout/context deadline, a DNS lookup
// failure, or a dial/network operation error such as connect refusal — or
// permanent: anything else, e.g. a request the client rejected before it
// reached the wire, such as an unsupported URL scheme. A *url.Error is
// classified by the error it wraps.
func classifyTransportError(err error) Outcome {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return classifyTransportError(urlErr.Err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}

	return Permanent
}
