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

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abcxyz/webhook-relay/pkg/forwarder"
	"github.com/abcxyz/webhook-relay/pkg/metrics"
	"github.com/abcxyz/webhook-relay/pkg/store"
	"github.com/abcxyz/webhook-relay/pkg/version"
)

// workerConfig adds the embedded store's location to forwarder.Config, the
// one setting the forward worker needs beyond what pkg/forwarder itself
// already covers.
type workerConfig struct {
	StorePath string `env:"STORE_PATH,default=webhook-relay.db"`
	Forwarder forwarder.Config
}

func (cfg *workerConfig) Validate() error {
	var merr error
	if cfg.StorePath == "" {
		merr = errors.Join(merr, fmt.Errorf("STORE_PATH is required"))
	}
	if err := cfg.Forwarder.Validate(); err != nil {
		merr = errors.Join(merr, err)
	}
	return merr
}

func (cfg *workerConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("WORKER OPTIONS")
	f.StringVar(&cli.StringVar{
		Name:    "store-path",
		Target:  &cfg.StorePath,
		EnvVar:  "STORE_PATH",
		Default: "webhook-relay.db",
		Usage:   `Path to the embedded bbolt queue file this worker drains.`,
	})
	cfg.Forwarder.ToFlags(set)
	return set
}

var _ cli.Command = (*WorkerCommand)(nil)

// WorkerCommand is the `worker run` subcommand: the variant-A forward
// worker, draining the embedded store and delivering to the agent gateway.
type WorkerCommand struct {
	cli.BaseCommand

	cfg *workerConfig

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *WorkerCommand) Desc() string {
	return `Run the forward worker against the embedded queue`
}

func (c *WorkerCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Drain the embedded store's due events and forward them to the agent
  gateway, retrying transient failures and dead-lettering the rest.
`
}

func (c *WorkerCommand) Flags() *cli.FlagSet {
	c.cfg = &workerConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *WorkerCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.Infow("worker starting", "name", version.Name, "commit", version.Commit, "version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(c.cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Errorw("failed to close store", "error", err)
		}
	}()

	builder, err := forwarder.ResolvePayloadBuilder(c.cfg.Forwarder.PayloadShape)
	if err != nil {
		return fmt.Errorf("invalid payload shape: %w", err)
	}
	client := forwarder.NewClient(c.cfg.Forwarder.GatewayURL, c.cfg.Forwarder.HooksToken,
		c.cfg.Forwarder.ConnectTimeout, c.cfg.Forwarder.RequestTimeout, builder)

	m := metrics.New(prometheus.DefaultRegisterer)
	worker := forwarder.NewWorker(st, client, m, &c.cfg.Forwarder)

	return worker.Run(ctx) //nolint:wrapcheck // Run already wraps its own errors
}
