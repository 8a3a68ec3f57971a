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
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// newTestServer starts an in-memory pstest fake and returns a client
// connected to it plus a cleanup func.
func newTestServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure()) //nolint:staticcheck // pstest fake has no TLS
	if err != nil {
		t.Fatalf("grpc.Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func newTestPublisher(t *testing.T, opts []option.ClientOption, sources []events.Source) *Publisher {
	t.Helper()
	ctx := context.Background()

	client, err := pubsub.NewClient(ctx, "test-project", opts...)
	if err != nil {
		t.Fatalf("pubsub.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	p := &Publisher{client: client, dlq: DefaultDLQTopic, topics: make(map[events.Source]*pubsub.Topic, len(sources))}
	for _, src := range sources {
		topic, err := p.provisionTopic(ctx, src.Topic())
		if err != nil {
			t.Fatalf("provisionTopic(%s) error = %v", src, err)
		}
		p.topics[src] = topic
	}
	dlqTopic, err := p.provisionTopic(ctx, DefaultDLQTopic)
	if err != nil {
		t.Fatalf("provisionTopic(dlq) error = %v", err)
	}
	p.dlqOnce = dlqTopic

	return p
}

func TestPublishSetsPartitionKeyAttribute(t *testing.T) {
	t.Parallel()

	_, opts := newTestServer(t)
	p := newTestPublisher(t, opts, []events.Source{events.SourceGitHub})

	env := events.WebhookEnvelope{ID: "e1", Source: events.SourceGitHub, EventType: "pull_request.opened"}
	if err := p.Publish(context.Background(), env, "cooldown-github-org-repo-42"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestPublishUnknownSourceErrors(t *testing.T) {
	t.Parallel()

	_, opts := newTestServer(t)
	p := newTestPublisher(t, opts, []events.Source{events.SourceGitHub})

	env := events.WebhookEnvelope{ID: "e1", Source: events.SourceLinear}
	if err := p.Publish(context.Background(), env, ""); err == nil {
		t.Fatal("expected error publishing to a source with no provisioned topic")
	}
}

func TestPublishDLQRoundTrips(t *testing.T) {
	t.Parallel()

	srv, opts := newTestServer(t)
	p := newTestPublisher(t, opts, []events.Source{events.SourceGitHub})

	de := events.DlqEnvelope{
		FailedAt: "2026-07-30T00:00:00Z",
		Error:    "forward_failed",
		Envelope: events.WebhookEnvelope{ID: "e1", Source: events.SourceGitHub},
	}
	if err := p.PublishDLQ(context.Background(), de); err != nil {
		t.Fatalf("PublishDLQ() error = %v", err)
	}

	msgs := srv.Messages()
	found := false
	for _, m := range msgs {
		var got events.DlqEnvelope
		if err := json.Unmarshal(m.Data, &got); err != nil {
			continue
		}
		if got.Envelope.ID == "e1" && got.Error == "forward_failed" {
			found = true
		}
	}
	if !found {
		t.Error("DLQ topic never received the published envelope")
	}
}
