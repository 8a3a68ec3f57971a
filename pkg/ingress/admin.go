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

package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// handleAdminGitHubToken mints a fresh GitHub App installation token, for
// operators diagnosing whether the configured App credentials still work
// without having to wait for a real delivery to exercise them.
func (s *Server) handleAdminGitHubToken() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := s.ghTokens.GitHubToken(r.Context())
		if err != nil {
			internalError(w, "failed to mint installation token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

// requireAdmin gates an admin handler behind a bearer token compared to
// cfg.AdminToken in constant time. An empty AdminToken locks every admin
// route out rather than leaving it open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			unauthorized(w, "admin endpoints are disabled")
			return
		}

		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !constantTimeEqual(got, s.cfg.AdminToken) {
			unauthorized(w, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return hmac.Equal(ah[:], bh[:])
}

// handleAdminQueue reports pending/DLQ depth, the same numbers the embedded
// queue topology exposes as gauges.
func (s *Server) handleAdminQueue() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pending, err := s.dlqList.PendingCount()
		if err != nil {
			internalError(w, "failed to read pending count")
			return
		}
		dlq, err := s.dlqList.DlqCount()
		if err != nil {
			internalError(w, "failed to read dlq count")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"pending": pending, "dlq": dlq})
	})
}

// handleAdminListDLQ lists every event currently parked in the dead-letter
// queue, for operator inspection before a replay decision.
func (s *Server) handleAdminListDLQ() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.dlqList.ListDLQ()
		if err != nil {
			internalError(w, "failed to list dlq")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})
}

// handleAdminReplay re-queues a single DLQ entry by id, read from the path
// suffix after /admin/dlq/replay/.
func (s *Server) handleAdminReplay() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/admin/dlq/replay/")
		if id == "" {
			badRequest(w, "missing dlq entry id")
			return
		}
		if err := s.dlqReplay.Replay(id); err != nil {
			badRequest(w, err.Error())
			return
		}
		accepted(w, "replayed")
	})
}
