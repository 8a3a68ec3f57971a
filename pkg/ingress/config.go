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

package ingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config defines the environment variables ingress reads at startup.
type Config struct {
	Port string `env:"PORT,default=8080"`

	GitHubWebhookSecret string `env:"GITHUB_WEBHOOK_SECRET"`
	LinearWebhookSecret string `env:"LINEAR_WEBHOOK_SECRET"`
	GmailSharedToken    string `env:"GMAIL_SHARED_TOKEN"`

	LinearTimestampWindow  time.Duration `env:"LINEAR_TIMESTAMP_WINDOW,default=60s"`
	LinearEnforceTimestamp bool          `env:"LINEAR_ENFORCE_TIMESTAMP,default=true"`
	LinearAgentUserID      string        `env:"LINEAR_AGENT_USER_ID"`

	DedupWindow    time.Duration `env:"DEDUP_WINDOW,default=10m"`
	CooldownWindow time.Duration `env:"COOLDOWN_WINDOW,default=5m"`

	SanitizePolicy string `env:"SANITIZE_POLICY,default=annotate"` // "annotate" or "fence"

	GitHubRateLimitPerMinute int `env:"GITHUB_RATE_LIMIT_PER_MINUTE,default=600"`
	LinearRateLimitPerMinute int `env:"LINEAR_RATE_LIMIT_PER_MINUTE,default=600"`
	GmailRateLimitPerMinute  int `env:"GMAIL_RATE_LIMIT_PER_MINUTE,default=600"`

	IPRateLimitPerSecond float64 `env:"IP_RATE_LIMIT_PER_SECOND,default=10"`
	IPRateLimitBurst     int     `env:"IP_RATE_LIMIT_BURST,default=20"`
	TrustProxyHeaders    bool    `env:"TRUST_PROXY_HEADERS,default=false"`

	AdminToken string `env:"ADMIN_TOKEN"`

	MaxBodyBytes int64 `env:"MAX_BODY_BYTES,default=1048576"` // 1 MiB
}

// Validate validates the config after load.
func (cfg *Config) Validate() error {
	var merr error

	switch cfg.SanitizePolicy {
	case "annotate", "fence":
	default:
		merr = errors.Join(merr, fmt.Errorf("SANITIZE_POLICY must be \"annotate\" or \"fence\", got %q", cfg.SanitizePolicy))
	}

	if cfg.DedupWindow <= 0 {
		merr = errors.Join(merr, fmt.Errorf("DEDUP_WINDOW must be positive"))
	}
	if cfg.CooldownWindow <= 0 {
		merr = errors.Join(merr, fmt.Errorf("COOLDOWN_WINDOW must be positive"))
	}
	if cfg.MaxBodyBytes <= 0 {
		merr = errors.Join(merr, fmt.Errorf("MAX_BODY_BYTES must be positive"))
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
		return nil, fmt.Errorf("failed to parse ingress server config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("INGRESS SERVER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "port",
		Target:  &cfg.Port,
		EnvVar:  "PORT",
		Default: "8080",
		Usage:   `The port the ingress server listens to.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "github-webhook-secret",
		Target: &cfg.GitHubWebhookSecret,
		EnvVar: "GITHUB_WEBHOOK_SECRET",
		Usage:  `Shared secret GitHub signs webhook payloads with.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "linear-webhook-secret",
		Target: &cfg.LinearWebhookSecret,
		EnvVar: "LINEAR_WEBHOOK_SECRET",
		Usage:  `Shared secret Linear signs webhook payloads with.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "gmail-shared-token",
		Target: &cfg.GmailSharedToken,
		EnvVar: "GMAIL_SHARED_TOKEN",
		Usage:  `Shared token Gmail push notifications authenticate with.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "linear-timestamp-window",
		Target:  &cfg.LinearTimestampWindow,
		EnvVar:  "LINEAR_TIMESTAMP_WINDOW",
		Default: 60 * time.Second,
		Usage:   `How far a Linear webhookTimestamp may drift from now before it's rejected.`,
	})
	f.BoolVar(&cli.BoolVar{
		Name:    "linear-enforce-timestamp",
		Target:  &cfg.LinearEnforceTimestamp,
		EnvVar:  "LINEAR_ENFORCE_TIMESTAMP",
		Default: true,
		Usage:   `Reject Linear deliveries with a missing or stale webhookTimestamp.`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "linear-agent-user-id",
		Target: &cfg.LinearAgentUserID,
		EnvVar: "LINEAR_AGENT_USER_ID",
		Usage:  `Linear actor ID representing this relay's own downstream agent, suppressed to avoid feedback loops.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "dedup-window",
		Target:  &cfg.DedupWindow,
		EnvVar:  "DEDUP_WINDOW",
		Default: 10 * time.Minute,
		Usage:   `How long a delivery ID is remembered to reject retried deliveries.`,
	})
	f.DurationVar(&cli.DurationVar{
		Name:    "cooldown-window",
		Target:  &cfg.CooldownWindow,
		EnvVar:  "COOLDOWN_WINDOW",
		Default: 5 * time.Minute,
		Usage:   `How long an entity is remembered to suppress repeat forwards.`,
	})
	f.StringVar(&cli.StringVar{
		Name:    "sanitize-policy",
		Target:  &cfg.SanitizePolicy,
		EnvVar:  "SANITIZE_POLICY",
		Default: "annotate",
		Usage:   `Sanitizer policy: "annotate" or "fence".`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "github-rate-limit-per-minute",
		Target:  &cfg.GitHubRateLimitPerMinute,
		EnvVar:  "GITHUB_RATE_LIMIT_PER_MINUTE",
		Default: 600,
		Usage:   `Maximum GitHub deliveries accepted per minute.`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "linear-rate-limit-per-minute",
		Target:  &cfg.LinearRateLimitPerMinute,
		EnvVar:  "LINEAR_RATE_LIMIT_PER_MINUTE",
		Default: 600,
		Usage:   `Maximum Linear deliveries accepted per minute.`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "gmail-rate-limit-per-minute",
		Target:  &cfg.GmailRateLimitPerMinute,
		EnvVar:  "GMAIL_RATE_LIMIT_PER_MINUTE",
		Default: 600,
		Usage:   `Maximum Gmail deliveries accepted per minute.`,
	})
	f.Float64Var(&cli.Float64Var{
		Name:    "ip-rate-limit-per-second",
		Target:  &cfg.IPRateLimitPerSecond,
		EnvVar:  "IP_RATE_LIMIT_PER_SECOND",
		Default: 10,
		Usage:   `Per-client-IP-block token bucket refill rate.`,
	})
	f.IntVar(&cli.IntVar{
		Name:    "ip-rate-limit-burst",
		Target:  &cfg.IPRateLimitBurst,
		EnvVar:  "IP_RATE_LIMIT_BURST",
		Default: 20,
		Usage:   `Per-client-IP-block token bucket burst size.`,
	})
	f.BoolVar(&cli.BoolVar{
		Name:    "trust-proxy-headers",
		Target:  &cfg.TrustProxyHeaders,
		EnvVar:  "TRUST_PROXY_HEADERS",
		Default: false,
		Usage:   `Trust X-Forwarded-For for client IP rate limiting (only behind a proxy that overwrites it).`,
	})
	f.StringVar(&cli.StringVar{
		Name:   "admin-token",
		Target: &cfg.AdminToken,
		EnvVar: "ADMIN_TOKEN",
		Usage:  `Bearer token required on /admin endpoints.`,
	})
	f.Int64Var(&cli.Int64Var{
		Name:    "max-body-bytes",
		Target:  &cfg.MaxBodyBytes,
		EnvVar:  "MAX_BODY_BYTES",
		Default: 1024 * 1024,
		Usage:   `Maximum accepted webhook request body size, in bytes.`,
	})

	return set
}

// secretFor returns the configured secret/token for src.
func (cfg *Config) secretFor(src string) string {
	switch src {
	case "github":
		return cfg.GitHubWebhookSecret
	case "linear":
		return cfg.LinearWebhookSecret
	case "gmail":
		return cfg.GmailSharedToken
	default:
		return ""
	}
}
