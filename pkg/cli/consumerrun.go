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

package cli

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abcxyz/webhook-relay/pkg/broker"
	"github.com/abcxyz/webhook-relay/pkg/consumer"
	"github.com/abcxyz/webhook-relay/pkg/forwarder"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
	"github.com/abcxyz/webhook-relay/pkg/version"
)

var _ cli.Command = (*ConsumerCommand)(nil)

// ConsumerCommand is the `consumer run` subcommand: the variant-B
// background process pulling from broker subscriptions and forwarding,
// retrying in place, with DLQ publish on failure.
type ConsumerCommand struct {
	cli.BaseCommand

	cfg *consumer.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *ConsumerCommand) Desc() string {
	return `Run the broker consumer worker`
}

func (c *ConsumerCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Pull webhook envelopes from each source's broker subscription, forward
  them to the agent gateway, and publish to the DLQ topic on failure.
`
}

func (c *ConsumerCommand) Flags() *cli.FlagSet {
	c.cfg = &consumer.Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ConsumerCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.Infow("consumer starting", "name", version.Name, "commit", version.Commit, "version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pub, err := broker.NewPublisher(ctx, c.cfg.ProjectID, allSources, c.cfg.DLQTopic)
	if err != nil {
		return fmt.Errorf("failed to create broker publisher: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Errorw("failed to close broker publisher", "error", err)
		}
	}()

	builder, err := forwarder.ResolvePayloadBuilder(c.cfg.Forwarder.PayloadShape)
	if err != nil {
		return fmt.Errorf("invalid payload shape: %w", err)
	}
	client := forwarder.NewClient(c.cfg.Forwarder.GatewayURL, c.cfg.Forwarder.HooksToken,
		c.cfg.Forwarder.ConnectTimeout, c.cfg.Forwarder.RequestTimeout, builder)

	m := metrics.New(prometheus.DefaultRegisterer)

	cons, err := consumer.New(ctx, c.cfg, allSources, client, pub, m)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		if err := cons.Close(); err != nil {
			logger.Errorw("failed to close consumer", "error", err)
		}
	}()

	return cons.Run(ctx) //nolint:wrapcheck // Run already wraps its own errors
}
