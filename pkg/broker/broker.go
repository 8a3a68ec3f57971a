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

// Package broker is the message-broker persistence layer for the
// distributed deployment topology (variant B): a thin wrapper over Cloud
// Pub/Sub that provisions the per-source topics and the DLQ topic, and
// publishes with retry.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// DefaultDLQTopic is the broker topic failed deliveries are published to
// when no override is configured.
const DefaultDLQTopic = "webhooks.dlq"

var (
	retryMinWait        = 200 * time.Millisecond
	retryMaxWait        = 5 * time.Second
	retryMaxAttempts uint64 = 5
	publishTimeout      = 5 * time.Second
)

// Publisher provisions and publishes to the per-source and DLQ topics on a
// Cloud Pub/Sub project.
type Publisher struct {
	client  *pubsub.Client
	dlq     string
	topics  map[events.Source]*pubsub.Topic
	dlqOnce *pubsub.Topic
}

// NewPublisher creates a pubsub client against projectID and provisions a
// topic for every source in sources plus the DLQ topic (dlqTopic, or
// DefaultDLQTopic if empty). Topic creation treats AlreadyExists as success,
// so repeated startups against a shared project are idempotent.
func NewPublisher(ctx context.Context, projectID string, sources []events.Source, dlqTopic string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	if dlqTopic == "" {
		dlqTopic = DefaultDLQTopic
	}

	p := &Publisher{
		client: client,
		dlq:    dlqTopic,
		topics: make(map[events.Source]*pubsub.Topic, len(sources)),
	}

	for _, src := range sources {
		topic, err := p.provisionTopic(ctx, src.Topic())
		if err != nil {
			return nil, err
		}
		p.topics[src] = topic
	}

	dlqTopicHandle, err := p.provisionTopic(ctx, dlqTopic)
	if err != nil {
		return nil, err
	}
	p.dlqOnce = dlqTopicHandle

	return p, nil
}

func (p *Publisher) provisionTopic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	topic := p.client.Topic(topicID)
	_, err := p.client.CreateTopic(ctx, topicID)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
	}
	return topic, nil
}

// Close stops all topic handles and closes the underlying client.
func (p *Publisher) Close() error {
	for _, t := range p.topics {
		t.Stop()
	}
	if p.dlqOnce != nil {
		p.dlqOnce.Stop()
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}

// Publish sends env to its source's topic, setting the partition_key
// attribute to partitionKey (Queue passes the envelope ID) so ordered
// consumers can key on it. Each attempt is bounded by publishTimeout, and
// transient publish failures are retried with exponential backoff starting
// at retryMinWait and capped at retryMaxWait.
func (p *Publisher) Publish(ctx context.Context, env events.WebhookEnvelope, partitionKey string) error {
	topic, ok := p.topics[env.Source]
	if !ok {
		return fmt.Errorf("no topic provisioned for source %q", env.Source)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
	}

	backoff := retry.NewExponential(retryMinWait)
	backoff = retry.WithCappedDuration(retryMaxWait, backoff)
	backoff = retry.WithMaxRetries(retryMaxAttempts, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		result := topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"partition_key": partitionKey},
		})
		if _, err := result.Get(ctx); err != nil {
			if isTransient(err) {
				return retry.RetryableError(fmt.Errorf("transient publish failure for %s: %w", env.ID, err))
			}
			return fmt.Errorf("failed to publish envelope %s: %w", env.ID, err)
		}
		return nil
	})
}

// PublishDLQ publishes a failure record to the DLQ topic. Unlike Publish,
// failures here are not retried further: the record already represents a
// giving-up decision.
func (p *Publisher) PublishDLQ(ctx context.Context, de events.DlqEnvelope) error {
	data, err := json.Marshal(de)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq envelope: %w", err)
	}
	result := p.dlqOnce.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish to dlq topic %s: %w", p.dlq, err)
	}
	return nil
}

func isTransient(err error) bool {
	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		switch statusErr.GRPCStatus().Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}
