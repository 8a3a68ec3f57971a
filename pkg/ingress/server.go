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

// Package ingress is the HTTP front door of the relay (component C11): it
// authenticates a delivery, applies the drop-before-enqueue policy filters,
// checks idempotency, sanitizes the payload, and hands the result to a
// Queue for delivery — either the embedded store (variant A) or the broker
// publisher (variant B).
package ingress

import (
	"context"
	"net/http"
	"time"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/githubapp"
	"github.com/abcxyz/webhook-relay/pkg/idempotency"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
	"github.com/abcxyz/webhook-relay/pkg/ratelimit"
	"github.com/abcxyz/webhook-relay/pkg/sanitize"
	"github.com/abcxyz/webhook-relay/pkg/sources"
	"github.com/abcxyz/webhook-relay/pkg/version"
)

// Queue accepts an event for eventual delivery to the downstream agent
// gateway, performing the §4.8 dedup/cooldown admission decision atomically
// with the insert. *store.Store implements this against its durable
// dedup_index/cooldown_index buckets, so admission survives a restart; the
// broker topology has no local persistence to check against, so its adapter
// always returns Accept and relies entirely on the in-memory idempotency.Store
// ingress.Server already runs in front of every queue backend.
type Queue interface {
	Enqueue(pe events.PendingEvent, dedupTTL, cooldownTTL time.Duration, now time.Time) (idempotency.Decision, error)
}

// DLQLister and DLQReplayer back the admin endpoints; *store.Store
// implements both. The broker topology has no local DLQ to list, so admin
// routes are mounted only when both are non-nil.
type DLQLister interface {
	ListDLQ() ([]events.DlqEvent, error)
	PendingCount() (int, error)
	DlqCount() (int, error)
}

type DLQReplayer interface {
	Replay(id string) error
}

// Server is the ingress HTTP server.
type Server struct {
	cfg       *Config
	registry  sources.Registry
	idempo    *idempotency.Store
	sanitizer sanitize.Policy
	srcLimit  *ratelimit.SourceLimiter
	ipLimit   *ratelimit.IPLimiter
	metrics   *metrics.Metrics
	queue     Queue
	dlqList   DLQLister
	dlqReplay DLQReplayer
	ghTokens  githubapp.InstallationTokenSource
	worker    WorkerAliveChecker
}

// WorkerAliveChecker reports whether the forward worker's run loop is still
// iterating. *forwarder.Worker implements this directly. Deployments that
// run the worker out of process (or not at all, e.g. the broker topology,
// where a separate consumer process applies) simply never call
// WithWorkerAlive, and /ready never fails the worker-liveness check.
type WorkerAliveChecker interface {
	Alive() bool
}

// WithWorkerAlive attaches the embedded forward worker's liveness check, so
// /ready can report 503 once the worker's run loop has stopped iterating.
func (s *Server) WithWorkerAlive(w WorkerAliveChecker) *Server {
	s.worker = w
	return s
}

// WithGitHubTokenSource attaches an optional GitHub App installation-token
// source, mounting the /admin/github-token diagnostic endpoint. A deployment
// that never sets GITHUB_APP_ID simply never calls this, and ingress never
// touches the GitHub API on its own.
func (s *Server) WithGitHubTokenSource(ts githubapp.InstallationTokenSource) *Server {
	s.ghTokens = ts
	return s
}

// NewServer constructs a Server. queue is required; dlqList/dlqReplay may
// be nil when the deployment has no locally inspectable queue (variant B).
func NewServer(cfg *Config, m *metrics.Metrics, queue Queue, dlqList DLQLister, dlqReplay DLQReplayer) (*Server, error) {
	sanitizer, err := resolveSanitizePolicy(cfg.SanitizePolicy)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		registry:  sources.NewRegistry(),
		idempo:    idempotency.New(cfg.DedupWindow, cfg.CooldownWindow),
		sanitizer: sanitizer,
		srcLimit: ratelimit.NewSourceLimiter(map[events.Source]int{
			events.SourceGitHub: cfg.GitHubRateLimitPerMinute,
			events.SourceLinear: cfg.LinearRateLimitPerMinute,
			events.SourceGmail:  cfg.GmailRateLimitPerMinute,
		}),
		ipLimit:   newIPLimiter(cfg),
		metrics:   m,
		queue:     queue,
		dlqList:   dlqList,
		dlqReplay: dlqReplay,
	}, nil
}

func newIPLimiter(cfg *Config) *ratelimit.IPLimiter {
	var opts []ratelimit.Option
	if cfg.TrustProxyHeaders {
		opts = append(opts, ratelimit.WithTrustedProxy())
	}
	return ratelimit.NewIPLimiter(cfg.IPRateLimitPerSecond, cfg.IPRateLimitBurst, 30*time.Minute, opts...)
}

func resolveSanitizePolicy(name string) (sanitize.Policy, error) {
	switch name {
	case "annotate", "":
		return sanitize.AnnotateOnly{}, nil
	case "fence":
		return sanitize.ReshapeAndFence{}, nil
	default:
		return nil, errUnknownSanitizePolicy(name)
	}
}

// Routes builds the full ServeMux: webhook ingestion, health, metrics, and
// (when a local queue is available) the admin inspection endpoints.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)
	mux := http.NewServeMux()

	mux.Handle("/healthz", healthcheck.HandleHTTPHealthCheck())
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle("/webhook/github", s.handleWebhook(events.SourceGitHub))
	mux.Handle("/webhook/linear", s.handleWebhook(events.SourceLinear))
	mux.Handle("/webhook/gmail", s.handleWebhook(events.SourceGmail))

	if s.dlqList != nil {
		mux.Handle("/admin/queue", s.requireAdmin(s.handleAdminQueue()))
		mux.Handle("/admin/dlq", s.requireAdmin(s.handleAdminListDLQ()))
		mux.Handle("/admin/dlq/replay/", s.requireAdmin(s.handleAdminReplay()))
	}
	if s.ghTokens != nil {
		mux.Handle("/admin/github-token", s.requireAdmin(s.handleAdminGitHubToken()))
	}

	return logging.HTTPInterceptor(logger, "")(mux)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.HumanVersion})
}

// handleReady implements §4.11's readiness predicate: 503 when the worker
// task is not alive, or when persistence counts cannot be read. Deployments
// with no embedded worker/local persistence (the broker topology) simply
// never fail either check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.worker != nil && !s.worker.Alive() {
		serviceUnavailable(w, "worker is not alive")
		return
	}

	if s.dlqList != nil {
		if _, err := s.dlqList.PendingCount(); err != nil {
			serviceUnavailable(w, "cannot read pending count")
			return
		}
		if _, err := s.dlqList.DlqCount(); err != nil {
			serviceUnavailable(w, "cannot read dlq count")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
