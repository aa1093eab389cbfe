// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import "strings"

// CleanJSON strips markdown fences and surrounding prose from a model
// response, then applies repairJSON. The outermost object or array is kept.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexAny(s, "}]"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return repairJSON(s)
}

// repairJSON attempts to fix common JSON formatting issues from LLM responses:
// keys missing their opening quote (`, type":` becomes `, "type":`) and
// trailing commas before a closing brace or bracket.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			if ch == '\\' && i+1 < len(in) {
				i++
				out = append(out, in[i])
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
		case ',':
			j := skipSpace(in, i+1)
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				// trailing comma
				continue
			}
			out = append(out, ch)
			out, i = quoteBareKey(in, out, i+1)
		case '{':
			out = append(out, ch)
			out, i = quoteBareKey(in, out, i+1)
		default:
			out = append(out, ch)
		}
	}

	return string(out)
}

// quoteBareKey copies whitespace starting at i and, when it finds a key that
// is missing its opening quote, inserts one. It returns the index of the last
// rune consumed.
func quoteBareKey(in, out []rune, i int) ([]rune, int) {
	j := skipSpace(in, i)
	out = append(out, in[i:j]...)
	if j >= len(in) || !isLetter(in[j]) {
		return out, j - 1
	}

	k := j
	for k < len(in) && (isLetter(in[k]) || in[k] == '_' || (in[k] >= '0' && in[k] <= '9')) {
		k++
	}
	if k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
		out = append(out, '"')
		out = append(out, in[j:k]...)
		out = append(out, '"', ':')
		return out, k + 1
	}
	out = append(out, in[j:k]...)
	return out, k - 1
}

func skipSpace(in []rune, i int) int {
	for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t' || in[i] == '\r') {
		i++
	}
	return i
}
