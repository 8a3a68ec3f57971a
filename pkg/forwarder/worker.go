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
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
)

// Store is the variant-A persistence surface the worker drains. *store.Store
// implements this directly.
type Store interface {
	PopDue(now time.Time, max int) ([]events.PendingEvent, error)
	Requeue(pe events.PendingEvent) error
	MoveToDLQ(de events.DlqEvent) error
	PendingCount() (int, error)
	DlqCount() (int, error)
}

// Worker drains a Store and forwards each due event, following the
// ExecuteJob-style shape of a free function driving a loop with an
// injectable clock, so tests can control time without sleeping.
type Worker struct {
	store  Store
	client *Client
	m      *metrics.Metrics
	cfg    *Config
	Now    func() time.Time
	Sleep  func(d time.Duration)
	alive  bool
}

// NewWorker constructs a Worker.
func NewWorker(store Store, client *Client, m *metrics.Metrics, cfg *Config) *Worker {
	return &Worker{
		store:  store,
		client: client,
		m:      m,
		cfg:    cfg,
		Now:    time.Now,
		Sleep:  time.Sleep,
		alive:  true,
	}
}

// Alive reports whether the worker's run loop is still iterating, for the
// /ready healthcheck to key off of.
func (w *Worker) Alive() bool {
	return w.alive
}

// Run drains the store until ctx is cancelled, then makes one final drain
// pass bounded by cfg.DrainTimeout before returning.
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	w.alive = true
	defer func() { w.alive = false }()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
			defer cancel()
			w.drainOnce(drainCtx)
			return nil
		default:
		}

		n, err := w.drainOnce(ctx)
		if err != nil {
			logger.Errorw("forwarder: drain pass failed", "error", err)
		}
		if n == 0 {
			w.Sleep(w.cfg.PollInterval)
		}

		if w.m != nil {
			if pending, err := w.store.PendingCount(); err == nil {
				w.m.SetQueueDepth(pending)
			}
			if dlq, err := w.store.DlqCount(); err == nil {
				w.m.SetDLQDepth(dlq)
			}
		}
	}
}

// drainOnce pops up to cfg.BatchSize due events and forwards each, returning
// how many were popped.
func (w *Worker) drainOnce(ctx context.Context) (int, error) {
	due, err := w.store.PopDue(w.Now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, pe := range due {
		w.forwardOne(ctx, pe)
	}
	return len(due), nil
}

// forwardOne runs one event through the client and applies the §4.10
// transient/permanent/success decision.
func (w *Worker) forwardOne(ctx context.Context, pe events.PendingEvent) {
	logger := logging.FromContext(ctx)
	srcStr := string(pe.Envelope.Source)

	outcome, err := w.client.Post(ctx, pe.Envelope, pe.Metadata)
	switch outcome {
	case Success:
		if w.m != nil {
			w.m.IncForwarded(srcStr)
		}
		return

	case Transient:
		pe.Attempts++
		if pe.Attempts >= w.cfg.ForwardMaxAttempts {
			w.moveToDLQ(ctx, pe, err)
			return
		}
		delay := backoff(pe.Attempts, w.cfg.InitialBackoff, w.cfg.MaxBackoff)
		// Round up to the next whole second so a sub-second backoff still
		// lands strictly after now.
		next := w.Now().Add(delay)
		pe.NextRetryAtEpoch = next.Unix()
		if next.Nanosecond() > 0 {
			pe.NextRetryAtEpoch++
		}
		if rqErr := w.store.Requeue(pe); rqErr != nil {
			logger.Errorw("forwarder: failed to requeue transient failure", "error", rqErr, "event_id", pe.Envelope.ID)
		}

	case Permanent:
		w.moveToDLQ(ctx, pe, err)

	default:
		logger.Errorw("forwarder: unknown outcome", "event_id", pe.Envelope.ID)
	}
}

func (w *Worker) moveToDLQ(ctx context.Context, pe events.PendingEvent, cause error) {
	logger := logging.FromContext(ctx)

	reason := events.ReasonForwardFailed
	de := events.DlqEvent{
		PendingEvent:  pe,
		FailureReason: reason,
		FailedAtEpoch: w.Now().Unix(),
	}
	if err := w.store.MoveToDLQ(de); err != nil {
		logger.Errorw("forwarder: failed to move event to dlq", "error", err, "event_id", pe.Envelope.ID)
		return
	}
	if w.m != nil {
		w.m.IncDropped(string(pe.Envelope.Source), reason)
	}
	logger.Warnw("forwarder: event moved to dlq", "event_id", pe.Envelope.ID, "cause", errorString(cause))
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
