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

// Package version holds the build-time identity stamped into release
// binaries via -ldflags, and the composed string the CLI reports for
// --version.
package version

import "fmt"

// Name is the binary name, overridden at build time.
var Name = "webhook-relay"

// Version is the semantic version, overridden at build time.
var Version = "source"

// Commit is the VCS commit the binary was built from, overridden at build
// time.
var Commit = "unknown"

// HumanVersion is the version string CLI commands report.
var HumanVersion = fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
