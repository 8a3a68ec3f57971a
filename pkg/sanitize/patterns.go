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

import "regexp"

// minFlaggedLen is the length floor for scanning: strings at or under this
// many bytes are not scanned, since short strings can't meaningfully carry
// an injection attempt and scanning them would just generate noise.
const minFlaggedLen = 10

// patterns is the canonical injection regex catalogue, compiled once at
// process start into an immutable shared structure (DESIGN NOTE §9).
var patterns = compilePatterns([]string{
	`(you are|you're) (now )?(a |an )?(new |different )?(assistant|ai|bot|system|admin)`,
	`ignore (all )?(previous|prior|above|earlier) (instructions|prompts|context|rules)`,
	`ignore (everything|anything) (above|before|previously)`,
	`forget (your|all|previous|prior) (instructions|rules|prompts|constraints)`,
	`override (system|safety|security) (prompt|instructions|rules|settings)`,
	`(system|admin|root) ?(prompt|override|mode|access)`,
	`new (system ?prompt|instructions|persona|role)`,
	`</?system>`,
	`\[INST\]`,
	`\[/INST\]`,
	`<<SYS>>`,
	`<\|im_start\|>`,
	"```system",
	`(execute|run|eval|exec)\s*\(`,
	`curl\s+-`,
	`wget\s+`,
	`(rm|del|remove)\s+(-rf?|--force)`,
	`base64[_\s-]*(decode|encode|eval)`,
	`atob\s*\(`,
	`do not (review|check|flag|report|mention)`,
	`this is (a )?(test|safe|authorized|harmless).*(ignore|skip|bypass)`,
	`pretend (you|that|to)`,
	`role\s*:\s*(system|assistant|user)`,
})

func compilePatterns(exprs []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+e))
	}
	return compiled
}

// countMatches returns how many patterns in the catalogue match s.
func countMatches(s string) int {
	count := 0
	for _, p := range patterns {
		if p.MatchString(s) {
			count++
		}
	}
	return count
}
