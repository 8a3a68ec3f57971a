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

package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/forwarder"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure()) //nolint:staticcheck // pstest fake has no TLS
	if err != nil {
		t.Fatalf("grpc.Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type fakeDLQ struct {
	mu  sync.Mutex
	got []events.DlqEnvelope
}

func (f *fakeDLQ) PublishDLQ(ctx context.Context, de events.DlqEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, de)
	return nil
}

func (f *fakeDLQ) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func testConsumer(t *testing.T, gatewayURL string, dlq DLQPublisher) (*Consumer, *pubsub.Topic) {
	t.Helper()
	client := newTestClient(t)
	ctx := context.Background()

	topic, err := client.CreateTopic(ctx, events.SourceGitHub.Topic())
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	subID := events.SourceGitHub.Topic() + "-consumer"
	sub, err := client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	cfg := &Config{
		ProjectID:          "test-project",
		SubscriptionSuffix: "consumer",
		Forwarder: forwarder.Config{
			GatewayURL:         gatewayURL,
			HooksToken:         "tok",
			ForwardMaxAttempts: 2,
			InitialBackoff:     time.Millisecond,
			MaxBackoff:         5 * time.Millisecond,
		},
	}
	fwd := forwarder.NewClient(gatewayURL, "tok", time.Second, time.Second, forwarder.AgentPayload{})

	c := &Consumer{
		client: client,
		subs:   map[events.Source]*pubsub.Subscription{events.SourceGitHub: sub},
		fwd:    fwd,
		dlq:    dlq,
		cfg:    cfg,
		Now:    time.Now,
	}
	return c, topic
}

func TestConsumerAcksAfterSuccessfulForward(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	dlq := &fakeDLQ{}
	c, topic := testConsumer(t, gw.URL, dlq)

	env := events.WebhookEnvelope{ID: "e1", Source: events.SourceGitHub}
	data, _ := marshalEnvelope(env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var handled sync.WaitGroup
	handled.Add(1)
	go func() {
		sub := c.subs[events.SourceGitHub]
		_ = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			c.handle(ctx, events.SourceGitHub, msg)
			handled.Done()
			cancel()
		})
	}()

	if _, err := topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitOrTimeout(t, &handled)
	if dlq.count() != 0 {
		t.Errorf("expected no dlq publishes on success, got %d", dlq.count())
	}
}

func TestConsumerPublishesDLQOnPermanentFailure(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer gw.Close()

	dlq := &fakeDLQ{}
	c, topic := testConsumer(t, gw.URL, dlq)

	env := events.WebhookEnvelope{ID: "e2", Source: events.SourceGitHub}
	data, _ := marshalEnvelope(env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var handled sync.WaitGroup
	handled.Add(1)
	go func() {
		sub := c.subs[events.SourceGitHub]
		_ = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			c.handle(ctx, events.SourceGitHub, msg)
			handled.Done()
			cancel()
		})
	}()

	if _, err := topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitOrTimeout(t, &handled)
	if dlq.count() != 1 {
		t.Fatalf("expected 1 dlq publish on permanent failure, got %d", dlq.count())
	}
	if dlq.got[0].Envelope.ID != "e2" {
		t.Errorf("dlq envelope id = %q, want e2", dlq.got[0].Envelope.ID)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message to be handled")
	}
}

func marshalEnvelope(env events.WebhookEnvelope) ([]byte, error) {
	return json.Marshal(env)
}
