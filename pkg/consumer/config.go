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
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/webhook-relay/pkg/forwarder"
)

// Config defines the environment variables the variant-B consumer reads at
// startup. Forwarding itself is configured the same way the embedded-queue
// worker is (see forwarder.Config); this adds the broker-side settings.
type Config struct {
	ProjectID          string `env:"BROKER_PROJECT_ID,required"`
	DLQTopic           string `env:"BROKER_DLQ_TOPIC,default=webhooks.dlq"`
	SubscriptionSuffix string `env:"BROKER_SUBSCRIPTION_SUFFIX,default=consumer"`

	Forwarder forwarder.Config
}

// Validate validates the config after load.
func (cfg *Config) Validate() error {
	var merr error
	if cfg.ProjectID == "" {
		merr = errors.Join(merr, fmt.Errorf("BROKER_PROJECT_ID is required"))
	}
	if err := cfg.Forwarder.Validate(); err != nil {
		merr = errors.Join(merr, err)
	}
	return merr
}

// NewConfig creates a new Config from environment variables.
func NewConfig(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(lu)); err != nil {
		return nil, fmt.Errorf("failed to parse consumer config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("CONSUMER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "broker-project-id",
		Target: &cfg.ProjectID,
		EnvVar: "BROKER_PROJECT_ID",
		Usage:  `GCP project hosting the Pub/Sub topics and subscriptions.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "broker-dlq-topic",
		Target:  &cfg.DLQTopic,
		EnvVar:  "BROKER_DLQ_TOPIC",
		Default: "webhooks.dlq",
		Usage:   `Topic failed deliveries are published to.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "broker-subscription-suffix",
		Target:  &cfg.SubscriptionSuffix,
		EnvVar:  "BROKER_SUBSCRIPTION_SUFFIX",
		Default: "consumer",
		Usage:   `Suffix appended to each source's topic name to name its subscription.`,
	})

	cfg.Forwarder.ToFlags(set)
	return set
}
