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
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config defines the environment variables the forward worker reads at
// startup.
type Config struct {
	GatewayURL string `env:"GATEWAY_URL,required"`
	HooksToken string `env:"HOOKS_TOKEN,required"`

	ForwardMaxAttempts int           `env:"FORWARD_MAX_ATTEMPTS,default=5"`
	InitialBackoff     time.Duration `env:"FORWARD_INITIAL_BACKOFF,default=2s"`
	MaxBackoff         time.Duration `env:"FORWARD_MAX_BACKOFF,default=60s"`

	ConnectTimeout time.Duration `env:"FORWARD_CONNECT_TIMEOUT,default=5s"`
	RequestTimeout time.Duration `env:"FORWARD_REQUEST_TIMEOUT,default=20s"`

	PayloadShape string `env:"FORWARD_PAYLOAD,default=agent"` // "agent" or "mapped"

	PollInterval time.Duration `env:"FORWARD_POLL_INTERVAL,default=1s"`
	BatchSize    int           `env:"FORWARD_BATCH_SIZE,default=10"`

	DrainTimeout time.Duration `env:"FORWARD_DRAIN_TIMEOUT,default=30s"`
}

// Validate validates the config after load.
func (cfg *Config) Validate() error {
	var merr error

	if cfg.GatewayURL == "" {
		merr = errors.Join(merr, fmt.Errorf("GATEWAY_URL is required"))
	}
	if cfg.HooksToken == "" {
		merr = errors.Join(merr, fmt.Errorf("HOOKS_TOKEN is required"))
	}
	if cfg.ForwardMaxAttempts <= 0 {
		merr = errors.Join(merr, fmt.Errorf("FORWARD_MAX_ATTEMPTS must be positive"))
	}
	if cfg.InitialBackoff <= 0 {
		merr = errors.Join(merr, fmt.Errorf("FORWARD_INITIAL_BACKOFF must be positive"))
	}
	if cfg.MaxBackoff <= 0 {
		merr = errors.Join(merr, fmt.Errorf("FORWARD_MAX_BACKOFF must be positive"))
	}
	if cfg.BatchSize <= 0 {
		merr = errors.Join(merr, fmt.Errorf("FORWARD_BATCH_SIZE must be positive"))
	}
	switch cfg.PayloadShape {
	case "agent", "mapped":
	default:
		merr = errors.Join(merr, fmt.Errorf("FORWARD_PAYLOAD must be \"agent\" or \"mapped\", got %q", cfg.PayloadShape))
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
		return nil, fmt.Errorf("failed to parse forwarder config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("FORWARDER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "gateway-url",
		Target: &cfg.GatewayURL,
		EnvVar: "GATEWAY_URL",
		Usage:  `Base URL of the downstream agent gateway.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "hooks-token",
		Target: &cfg.HooksToken,
		EnvVar: "HOOKS_TOKEN",
		Usage:  `Bearer token the gateway's /hooks/agent endpoint requires.`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "forward-max-attempts",
		Target:  &cfg.ForwardMaxAttempts,
		EnvVar:  "FORWARD_MAX_ATTEMPTS",
		Default: 5,
		Usage:   `Number of transient-failure attempts before an event moves to the DLQ.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-initial-backoff",
		Target:  &cfg.InitialBackoff,
		EnvVar:  "FORWARD_INITIAL_BACKOFF",
		Default: 2 * time.Second,
		Usage:   `Backoff after the first transient failure; doubles per subsequent attempt.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-max-backoff",
		Target:  &cfg.MaxBackoff,
		EnvVar:  "FORWARD_MAX_BACKOFF",
		Default: 60 * time.Second,
		Usage:   `Upper bound on the backoff curve.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-connect-timeout",
		Target:  &cfg.ConnectTimeout,
		EnvVar:  "FORWARD_CONNECT_TIMEOUT",
		Default: 5 * time.Second,
		Usage:   `Outbound connect timeout.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-request-timeout",
		Target:  &cfg.RequestTimeout,
		EnvVar:  "FORWARD_REQUEST_TIMEOUT",
		Default: 20 * time.Second,
		Usage:   `Overall outbound request timeout.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "forward-payload",
		Target:  &cfg.PayloadShape,
		EnvVar:  "FORWARD_PAYLOAD",
		Default: "agent",
		Usage:   `Outbound payload shape: "agent" (full envelope) or "mapped" (flattened).`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-poll-interval",
		Target:  &cfg.PollInterval,
		EnvVar:  "FORWARD_POLL_INTERVAL",
		Default: time.Second,
		Usage:   `How often the worker polls the store for due events when idle.`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "forward-batch-size",
		Target:  &cfg.BatchSize,
		EnvVar:  "FORWARD_BATCH_SIZE",
		Default: 10,
		Usage:   `Maximum due events popped per poll.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "forward-drain-timeout",
		Target:  &cfg.DrainTimeout,
		EnvVar:  "FORWARD_DRAIN_TIMEOUT",
		Default: 30 * time.Second,
		Usage:   `How long Run's final drain pass waits before abandoning in-flight work on shutdown.`,
	})

	return set
}
