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

// Package sanitize scans webhook payloads for prompt-injection patterns and
// annotates or reshapes them before they're forwarded to the agent gateway.
// Two policies are defined (annotate-only and reshape-and-fence); which one
// a deployment runs is a config choice behind the Policy interface (spec
// Open Question #1).
package sanitize

import (
	"fmt"
	"sort"

	"github.com/abcxyz/webhook-relay/pkg/events"
)

// Flag records one field that matched the injection catalogue.
type Flag struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Flags is the full set of flags raised while sanitizing one payload,
// sorted lexically by field path for deterministic output.
type Flags []Flag

// RiskScore implements min(100, 10*sum(counts)) from spec §4.10.
func (f Flags) RiskScore() int {
	sum := 0
	for _, flag := range f {
		sum += flag.Count
	}
	score := sum * 10
	if score > 100 {
		score = 100
	}
	return score
}

// Policy sanitizes a payload for one source, returning the (possibly
// reshaped) output object and the flags raised.
type Policy interface {
	Sanitize(source events.Source, payload map[string]interface{}) (map[string]interface{}, Flags, error)
}

// deepClone recursively copies a decoded-JSON value (map/slice/scalar).
func deepClone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepClone(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepClone(val)
		}
		return out
	default:
		return t
	}
}

// walker accumulates flags while recursively scanning a cloned value.
type walker struct {
	hits map[string]int
}

func (w *walker) walk(path string, v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			w.walk(childPath, val)
		}
	case []interface{}:
		for i, val := range t {
			w.walk(fmt.Sprintf("%s[%d]", path, i), val)
		}
	case string:
		if len(t) <= minFlaggedLen {
			return
		}
		if n := countMatches(t); n > 0 {
			w.hits[path] += n
		}
	}
}

// sortedFlags renders a hits map into a deterministically ordered Flags
// slice.
func sortedFlags(hits map[string]int) Flags {
	if len(hits) == 0 {
		return nil
	}
	fields := make([]string, 0, len(hits))
	for f := range hits {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	flags := make(Flags, 0, len(fields))
	for _, f := range fields {
		flags = append(flags, Flag{Field: f, Count: hits[f]})
	}
	return flags
}

// AnnotateOnly implements the structure-preserving sanitizer policy: it
// deep-clones the payload, scans every string field, and adds
// "_sanitized"/"_flags" without otherwise touching the tree.
type AnnotateOnly struct{}

// Sanitize implements Policy.
func (AnnotateOnly) Sanitize(source events.Source, payload map[string]interface{}) (map[string]interface{}, Flags, error) {
	cloned, ok := deepClone(payload).(map[string]interface{})
	if !ok {
		cloned = map[string]interface{}{}
	}

	w := &walker{hits: map[string]int{}}
	w.walk("", cloned)
	flags := sortedFlags(w.hits)

	cloned["_sanitized"] = true
	if len(flags) > 0 {
		flagMaps := make([]map[string]interface{}, len(flags))
		for i, f := range flags {
			flagMaps[i] = map[string]interface{}{"field": f.Field, "count": f.Count}
		}
		cloned["_flags"] = flagMaps
	}

	return cloned, flags, nil
}
