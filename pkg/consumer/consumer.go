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

// Package consumer implements component C12, the variant-B counterpart to
// pkg/forwarder's embedded-queue worker: a standalone process that pulls
// envelopes off each source's broker subscription, forwards them to the
// agent gateway, retries in place, and publishes to the DLQ topic on
// exhaustion — acking the message only once that outcome is fully settled.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/forwarder"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
)

// DLQPublisher is the broker-side DLQ sink. *broker.Publisher implements
// this directly.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, de events.DlqEnvelope) error
}

// Consumer pulls envelopes from one subscription per source and forwards
// them, retrying in place rather than requeuing to a store the way the
// embedded-queue worker does.
type Consumer struct {
	client *pubsub.Client
	subs   map[events.Source]*pubsub.Subscription
	fwd    *forwarder.Client
	dlq    DLQPublisher
	m      *metrics.Metrics
	cfg    *Config
	Now    func() time.Time
}

// New provisions a subscription per source (named "<topic>-<suffix>",
// AlreadyExists treated as success exactly like broker.Publisher's topic
// provisioning) and returns a Consumer ready to Run.
func New(ctx context.Context, cfg *Config, sources []events.Source, fwd *forwarder.Client, dlq DLQPublisher, m *metrics.Metrics) (*Consumer, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	c := &Consumer{
		client: client,
		subs:   make(map[events.Source]*pubsub.Subscription, len(sources)),
		fwd:    fwd,
		dlq:    dlq,
		m:      m,
		cfg:    cfg,
		Now:    time.Now,
	}

	for _, src := range sources {
		sub, err := c.provisionSubscription(ctx, src)
		if err != nil {
			return nil, err
		}
		c.subs[src] = sub
	}

	return c, nil
}

func (c *Consumer) provisionSubscription(ctx context.Context, src events.Source) (*pubsub.Subscription, error) {
	topicID := src.Topic()
	subID := topicID + "-" + c.cfg.SubscriptionSuffix

	topic := c.client.Topic(topicID)
	sub := c.client.Subscription(subID)

	_, err := c.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, fmt.Errorf("failed to create subscription %s: %w", subID, err)
	}
	return sub, nil
}

// Close stops the consumer's pubsub client.
func (c *Consumer) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}

// Run launches one Receive loop per source subscription and blocks until
// ctx is cancelled or a loop returns a fatal error.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for src, sub := range c.subs {
		src, sub := src, sub
		g.Go(func() error {
			return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				c.handle(ctx, src, msg)
			})
		})
	}
	return g.Wait()
}

// handle forwards one message with in-place retries, publishing to the DLQ
// on exhaustion or permanent failure. msg.Ack/Nack is called only after
// that outcome is fully resolved — never before, since acking first and
// then failing to forward would silently drop the delivery.
func (c *Consumer) handle(ctx context.Context, src events.Source, msg *pubsub.Message) {
	logger := logging.FromContext(ctx)

	var env events.WebhookEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logger.Errorw("consumer: failed to unmarshal envelope, dropping", "source", src, "error", err)
		msg.Ack()
		return
	}

	md := metadataFromAttributes(msg.Attributes)

	attempts := 0
	for {
		attempts++
		outcome, err := c.fwd.Post(ctx, env, md)
		if outcome == forwarder.Success {
			if c.m != nil {
				c.m.IncForwarded(string(src))
			}
			msg.Ack()
			return
		}

		if outcome == forwarder.Transient && attempts < c.cfg.Forwarder.ForwardMaxAttempts {
			delay := backoffFor(attempts, c.cfg.Forwarder)
			select {
			case <-ctx.Done():
				msg.Nack()
				return
			case <-time.After(delay):
			}
			continue
		}

		if c.moveToDLQ(ctx, env, err) {
			msg.Ack()
		} else {
			msg.Nack()
		}
		return
	}
}

// moveToDLQ publishes env to the DLQ and reports whether the publish
// succeeded; on failure the caller nacks so the message is redelivered.
func (c *Consumer) moveToDLQ(ctx context.Context, env events.WebhookEnvelope, cause error) bool {
	logger := logging.FromContext(ctx)

	de := events.DlqEnvelope{
		FailedAt: events.FormatReceivedAt(c.Now()),
		Error:    errString(cause),
		Envelope: env,
	}
	if err := c.dlq.PublishDLQ(ctx, de); err != nil {
		logger.Errorw("consumer: failed to publish to dlq, message will be redelivered", "event_id", env.ID, "error", err)
		return false
	}
	if c.m != nil {
		c.m.IncDropped(string(env.Source), events.ReasonForwardFailed)
	}
	logger.Warnw("consumer: event moved to dlq", "event_id", env.ID, "cause", errString(cause))
	return true
}

func backoffFor(attempts int, cfg forwarder.Config) time.Duration {
	return forwarder.Backoff(attempts, cfg.InitialBackoff, cfg.MaxBackoff)
}

func metadataFromAttributes(attrs map[string]string) events.Metadata {
	return events.Metadata{
		DeliveryID:     attrs["delivery_id"],
		EventName:      attrs["event_name"],
		InstallationID: attrs["installation_id"],
		TeamKey:        attrs["team_key"],
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
