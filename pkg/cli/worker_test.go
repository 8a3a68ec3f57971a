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
	"path/filepath"
	"testing"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
	"github.com/sethvargo/go-envconfig"
)

func TestWorkerCommand(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "too_many_args",
			args:   []string{"foo"},
			expErr: `unexpected arguments: ["foo"]`,
		},
		{
			name: "missing_gateway_url",
			env: map[string]string{
				"HOOKS_TOKEN": "test-token",
			},
			expErr: `GATEWAY_URL is required`,
		},
		{
			name: "happy_path",
			env: map[string]string{
				"GATEWAY_URL": "https://gateway.example.com/webhooks",
				"HOOKS_TOKEN": "test-token",
				"STORE_PATH":  filepath.Join(t.TempDir(), "worker.db"),
			},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// The worker's Run blocks draining the store until ctx is done, so
			// start it already canceled: the happy path only needs to prove the
			// command gets past config validation and store setup cleanly.
			runCtx, cancel := context.WithCancel(ctx)
			cancel()

			var cmd WorkerCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			_, _, _ = cmd.Pipe()

			err := cmd.Run(runCtx, tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
