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

package sanitize

import (
	"fmt"
	"strings"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// freeTextField names one user-authored field that gets fenced and
// truncated in place once it's been copied into the reshaped output; path
// addresses it both in the source payload and in the output tree (the
// projection never flattens or renames a field's position), label names
// the sentinel tag, and maxRunes is its per-field truncation ceiling.
type freeTextField struct {
	path    string
	label   string
	maxRunes int
}

// projectionSpec is one source's canonical schema: fields lists every
// dotted path ReshapeAndFence copies verbatim (structural data, copied
// as-is, never fenced), and freeText lists the subset of those paths that
// also hold user-authored prose, which get wrapped in an untrusted-content
// fence after copying.
type projectionSpec struct {
	fields   []string
	freeText []freeTextField
}

// projections gives each source its canonical field set. Anything not
// listed here is dropped by ReshapeAndFence; this is the "minimal, known
// safe shape" half of Open Question #1, as opposed to AnnotateOnly's
// "preserve everything" half. Field and ceiling choices follow the
// reshape-and-fence contract: structural fields (action, repository,
// sender, team, identifier, and nested objects like pull_request,
// installation, review) pass through untouched, while only the named
// free-text fields are fenced and truncated to their own ceiling.
var projections = map[events.Source]projectionSpec{
	events.SourceGitHub: {
		fields: []string{
			"action",
			"number",
			"sender",
			"repository",
			"installation",
			"pull_request",
			"review",
			"comment",
		},
		freeText: []freeTextField{
			{"pull_request.title", "title", 500},
			{"pull_request.body", "body", 50000},
			{"pull_request.head.ref", "branch", 200},
			{"review.body", "body", 50000},
			{"comment.body", "comment", 20000},
		},
	},
	events.SourceLinear: {
		fields: []string{
			"type",
			"action",
			"url",
			"data.id",
			"data.identifier",
			"data.state",
			"data.priority",
			"data.team.key",
			"data.assignee.name",
			"data.labels",
			"data.title",
			"data.description",
			"data.body",
		},
		freeText: []freeTextField{
			{"data.title", "title", 500},
			{"data.description", "description", 50000},
			{"data.body", "body", 50000},
		},
	},
	events.SourceGmail: {
		fields: []string{
			"event_type",
			"message.data",
		},
	},
}

// getPath reads the value at a dotted path out of a decoded-JSON tree,
// returning the raw value (scalar, map, or slice) rather than just a leaf
// string, so nested objects like pull_request or installation can be
// projected whole.
func getPath(payload map[string]interface{}, dotted string) (interface{}, bool) {
	parts := strings.Split(dotted, ".")
	cur := interface{}(payload)
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// setPath writes value at a dotted path into out, creating intermediate
// maps as needed. Used both to place a copied structural field and to
// overwrite a free-text leaf in place with its fenced form, so the
// projection's shape never diverges from the source payload's.
func setPath(out map[string]interface{}, dotted string, value interface{}) {
	parts := strings.Split(dotted, ".")
	cur := out
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
}

// truncate clamps s to maxRunes unicode characters, appending the spec's
// literal truncation marker when it does.
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return fmt.Sprintf("%s\n[TRUNCATED: original was %d chars]", string(runes[:maxRunes]), len(runes))
}

// fence wraps already-truncated untrusted text between BEGIN/END markers
// naming the source and field.
func fence(source events.Source, label, value string, maxRunes int) string {
	truncated := truncate(value, maxRunes)
	upper := strings.ToUpper(string(source)) + "/" + strings.ToUpper(label)
	return fmt.Sprintf("--- BEGIN UNTRUSTED %s ---\n%s\n--- END UNTRUSTED %s ---", upper, truncated, upper)
}

// ReshapeAndFence implements the second sanitizer policy: instead of
// preserving the original tree, it projects a known-safe subset of fields
// per source, leaves structural fields untouched, and wraps only the
// named free-text fields in an untrusted-content fence after flagging
// them against the injection catalogue.
type ReshapeAndFence struct{}

// Sanitize implements Policy.
func (ReshapeAndFence) Sanitize(source events.Source, payload map[string]interface{}) (map[string]interface{}, Flags, error) {
	spec, ok := projections[source]
	if !ok {
		return nil, nil, fmt.Errorf("sanitize: no reshape projection registered for source %q", source)
	}

	out := map[string]interface{}{}
	for _, path := range spec.fields {
		if v, ok := getPath(payload, path); ok {
			setPath(out, path, deepClone(v))
		}
	}

	hits := map[string]int{}
	for _, ft := range spec.freeText {
		v, ok := getPath(out, ft.path)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}

		if len(s) > minFlaggedLen {
			if n := countMatches(s); n > 0 {
				hits[ft.path] = n
			}
		}
		setPath(out, ft.path, fence(source, ft.label, s, ft.maxRunes))
	}

	flags := sortedFlags(hits)
	out["_sanitized"] = true
	if len(flags) > 0 {
		flagMaps := make([]map[string]interface{}, len(flags))
		for i, fl := range flags {
			flagMaps[i] = map[string]interface{}{"field": fl.Field, "count": fl.Count}
		}
		out["_flags"] = flagMaps
	}

	return out, flags, nil
}
