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
	"errors"
	"fmt"
	"net/http"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/serving"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abcxyz/webhook-relay/pkg/broker"
	"github.com/abcxyz/webhook-relay/pkg/events"
	"github.com/abcxyz/webhook-relay/pkg/forwarder"
	"github.com/abcxyz/webhook-relay/pkg/githubapp"
	"github.com/abcxyz/webhook-relay/pkg/ingress"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
	"github.com/abcxyz/webhook-relay/pkg/store"
	"github.com/abcxyz/webhook-relay/pkg/version"
)

// relayConfig composes pkg/ingress's Config with the queue-backend choice
// this binary (rather than pkg/ingress itself) is responsible for: an
// ingress.Server is topology-agnostic, so the decision between the
// embedded store and the broker lives here, at the composition root.
type relayConfig struct {
	Ingress ingress.Config

	QueueBackend string `env:"QUEUE_BACKEND,default=store"` // "store" or "broker"

	StorePath string `env:"STORE_PATH,default=webhook-relay.db"`

	// Forwarder configures the forward worker this command embeds directly
	// when QueueBackend=="store": bbolt holds an exclusive file lock, so the
	// worker draining a given STORE_PATH must live in the same process as
	// the ingress server writing to it, not a separate `worker run` binary
	// pointed at the same file.
	Forwarder forwarder.Config

	BrokerProjectID string `env:"BROKER_PROJECT_ID"`
	BrokerDLQTopic  string `env:"BROKER_DLQ_TOPIC,default=webhooks.dlq"`

	GitHubAppID             string `env:"GITHUB_APP_ID"`
	GitHubAppInstallationID string `env:"GITHUB_APP_INSTALLATION_ID"`
	GitHubAppPrivateKey     string `env:"GITHUB_APP_PRIVATE_KEY"`
}

func (cfg *relayConfig) Validate() error {
	var merr error

	switch cfg.QueueBackend {
	case "store", "broker":
	default:
		merr = errors.Join(merr, fmt.Errorf("QUEUE_BACKEND must be \"store\" or \"broker\", got %q", cfg.QueueBackend))
	}
	if cfg.QueueBackend == "broker" && cfg.BrokerProjectID == "" {
		merr = errors.Join(merr, fmt.Errorf("BROKER_PROJECT_ID is required when QUEUE_BACKEND=broker"))
	}
	if cfg.QueueBackend == "store" {
		if err := cfg.Forwarder.Validate(); err != nil {
			merr = errors.Join(merr, err)
		}
	}
	if err := cfg.Ingress.Validate(); err != nil {
		merr = errors.Join(merr, err)
	}
	return merr
}

func (cfg *relayConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	cfg.Ingress.ToFlags(set)

	f := set.NewSection("QUEUE BACKEND OPTIONS")
	f.StringVar(&cli.StringVar{
		Name:    "queue-backend",
		Target:  &cfg.QueueBackend,
		EnvVar:  "QUEUE_BACKEND",
		Default: "store",
		Usage:   `Which queue topology to run: "store" (embedded bbolt queue) or "broker" (Cloud Pub/Sub).`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "store-path",
		Target:  &cfg.StorePath,
		EnvVar:  "STORE_PATH",
		Default: "webhook-relay.db",
		Usage:   `Path to the embedded bbolt queue file (queue-backend=store only).`,
	})
	cfg.Forwarder.ToFlags(set)

	f.StringVar(&cli.StringVar{
		Name:   "broker-project-id",
		Target: &cfg.BrokerProjectID,
		EnvVar: "BROKER_PROJECT_ID",
		Usage:  `GCP project hosting the Pub/Sub topics (queue-backend=broker only).`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "broker-dlq-topic",
		Target:  &cfg.BrokerDLQTopic,
		EnvVar:  "BROKER_DLQ_TOPIC",
		Default: "webhooks.dlq",
		Usage:   `Topic failed deliveries are published to (queue-backend=broker only).`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "github-app-id",
		Target: &cfg.GitHubAppID,
		EnvVar: "GITHUB_APP_ID",
		Usage:  `Optional GitHub App ID, enabling the /admin/github-token diagnostic endpoint.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "github-app-installation-id",
		Target: &cfg.GitHubAppInstallationID,
		EnvVar: "GITHUB_APP_INSTALLATION_ID",
		Usage:  `GitHub App installation ID to mint tokens for.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "github-app-private-key",
		Target: &cfg.GitHubAppPrivateKey,
		EnvVar: "GITHUB_APP_PRIVATE_KEY",
		Usage:  `PEM-encoded GitHub App private key.`,
	})

	return set
}

var allSources = []events.Source{events.SourceGitHub, events.SourceLinear, events.SourceGmail}

var _ cli.Command = (*RelayCommand)(nil)

// RelayCommand is the `relay server` subcommand: the HTTP ingress front
// door, usable with either queue topology.
type RelayCommand struct {
	cli.BaseCommand

	cfg *relayConfig

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *RelayCommand) Desc() string {
	return `Start the webhook ingress server`
}

func (c *RelayCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Start the webhook ingress server, accepting deliveries from GitHub,
  Linear, and Gmail and handing them off to the configured queue backend.
`
}

func (c *RelayCommand) Flags() *cli.FlagSet {
	c.cfg = &relayConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *RelayCommand) Run(ctx context.Context, args []string) error {
	server, mux, err := c.RunUnstarted(ctx, args)
	if err != nil {
		return err
	}
	if err := server.StartHTTPHandler(ctx, mux); err != nil {
		return fmt.Errorf("error starting http handler: %w", err)
	}
	return nil
}

// RunUnstarted wires the ingress server but does not start listening,
// so tests can drive the returned handler directly.
func (c *RelayCommand) RunUnstarted(ctx context.Context, args []string) (*serving.Server, http.Handler, error) {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.Infow("relay server starting", "name", version.Name, "commit", version.Commit, "version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var queue ingress.Queue
	var dlqList ingress.DLQLister
	var dlqReplay ingress.DLQReplayer

	var worker *forwarder.Worker

	switch c.cfg.QueueBackend {
	case "store":
		s, err := store.Open(c.cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store: %w", err)
		}
		queue, dlqList, dlqReplay = s, s, s

		builder, err := forwarder.ResolvePayloadBuilder(c.cfg.Forwarder.PayloadShape)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid payload shape: %w", err)
		}
		client := forwarder.NewClient(c.cfg.Forwarder.GatewayURL, c.cfg.Forwarder.HooksToken,
			c.cfg.Forwarder.ConnectTimeout, c.cfg.Forwarder.RequestTimeout, builder)
		worker = forwarder.NewWorker(s, client, m, &c.cfg.Forwarder)

		// bbolt holds an exclusive lock on StorePath, so the worker draining
		// it has to run in this same process rather than a separate `worker
		// run` binary pointed at the same file.
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Errorw("embedded forward worker stopped", "error", err)
			}
		}()

	case "broker":
		pub, err := broker.NewPublisher(ctx, c.cfg.BrokerProjectID, allSources, c.cfg.BrokerDLQTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create broker publisher: %w", err)
		}
		queue = &broker.Queue{Publisher: pub}
	}

	server, err := ingress.NewServer(&c.cfg.Ingress, m, queue, dlqList, dlqReplay)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	if worker != nil {
		server = server.WithWorkerAlive(worker)
	}

	if c.cfg.GitHubAppID != "" {
		ts, err := githubapp.New(c.cfg.GitHubAppID, c.cfg.GitHubAppInstallationID, c.cfg.GitHubAppPrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure github app token source: %w", err)
		}
		server = server.WithGitHubTokenSource(ts)
	}

	mux := server.Routes(ctx)

	servingServer, err := serving.New(c.cfg.Ingress.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create serving infrastructure: %w", err)
	}

	return servingServer, mux, nil
}
