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

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/idempotency"
)

// Queue adapts a Publisher to the pkg/ingress.Queue shape, so the broker
// topology (variant B) plugs into the same ingress.Server the embedded-store
// topology uses. The broker has no durable dedup/cooldown index of its own
// (that's §4.8's embedded-store-only concern), so Enqueue always reports
// Accept; ingress.Server's in-memory idempotency.Store is the sole admission
// authority for this topology. The interface has no context parameter, so
// Publish runs against context.Background(); the publish itself already
// carries its own retry budget.
type Queue struct {
	Publisher *Publisher
}

// Enqueue publishes pe's envelope, using its envelope ID as the
// partition_key attribute.
func (q *Queue) Enqueue(pe events.PendingEvent, dedupTTL, cooldownTTL time.Duration, now time.Time) (idempotency.Decision, error) {
	if err := q.Publisher.Publish(context.Background(), pe.Envelope, pe.Envelope.ID); err != nil {
		return idempotency.Accept, fmt.Errorf("failed to enqueue envelope %s to broker: %w", pe.Envelope.ID, err)
	}
	return idempotency.Accept, nil
}
