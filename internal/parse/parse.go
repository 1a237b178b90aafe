// Package parse turns raw model output into typed records. Model responses
// arrive as semi-structured text: JSON wrapped in markdown fences, preceded
// by prose, truncated mid-array, or with trailing commas. Recovery is layered
// from cheapest to most aggressive; callers get either a decoded value or an
// error after all layers failed.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Clean strips markdown fences and surrounding prose, isolates the outermost
// JSON value, removes trailing commas, and repairs truncation by closing
// unclosed delimiters.
func Clean(text string) string {
	text = stripFences(text)

	// Isolate the outermost JSON value: whichever of '[' or '{' comes first.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	start := objStart
	closeCh := "}"
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start = arrStart
		closeCh = "]"
	}
	if start >= 0 {
		if end := strings.LastIndex(text, closeCh); end > start {
			text = text[start : end+1]
		} else {
			text = text[start:]
		}
	}

	text = strings.TrimSpace(text)
	text = stripTrailingCommas(text)
	return repairTruncated(text)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

// stripTrailingCommas removes commas that directly precede a closing
// delimiter, outside of strings.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			b.WriteByte(c)
			continue
		}
		if c == '\\' && inString {
			escape = true
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if !inString && c == ',' {
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\n' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == ']' || text[j] == '}') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// repairTruncated closes any unclosed brackets or braces in truncated JSON.
// A dangling partial value after the last complete element is trimmed first.
func repairTruncated(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) == 0 && !inString {
		return text
	}

	// Truncated mid-string: close the string before closing delimiters.
	if inString {
		text += `"`
	}

	// Trim a dangling partial element (e.g. `{"name": "Bur`) back to the last
	// complete value before closing, so the result decodes cleanly.
	if len(stack) > 0 {
		if idx := lastCompleteBoundary(text); idx >= 0 {
			text = text[:idx+1]
			return repairTruncated(stripTrailingCommas(text))
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		text += string(stack[i])
	}
	return text
}

// lastCompleteBoundary returns the index of the last '}' or ']' in text, or
// -1 when none exists.
func lastCompleteBoundary(text string) int {
	obj := strings.LastIndex(text, "}")
	arr := strings.LastIndex(text, "]")
	if arr > obj {
		return arr
	}
	return obj
}

// objectPattern matches flat JSON objects. Used only as the last recovery
// layer, so nested objects the earlier layers could not salvage are lost.
var objectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// Array decodes the model output as a JSON array of T, applying recovery
// layers in order: clean+decode, then coerce a single object to a one-element
// array, then regex object extraction. Returns an error only when every
// layer fails.
func Array[T any](text string) ([]T, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, eris.New("parse: empty response")
	}

	var out []T
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	// A bare object where an array was requested.
	if strings.HasPrefix(cleaned, "{") {
		var one T
		if err := json.Unmarshal([]byte(cleaned), &one); err == nil {
			return []T{one}, nil
		}
	}

	// Last resort: pull out every flat object individually.
	matches := objectPattern.FindAllString(cleaned, -1)
	for _, m := range matches {
		var one T
		if err := json.Unmarshal([]byte(m), &one); err == nil {
			out = append(out, one)
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("parse: no decodable array in response (%d bytes)", len(text))
	}
	return out, nil
}

// Object decodes the model output as a single JSON object of type T.
func Object[T any](text string) (*T, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, eris.New("parse: empty response")
	}

	var out T
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return &out, nil
	}

	// An array where an object was requested: take the first element.
	if strings.HasPrefix(cleaned, "[") {
		var many []T
		if err := json.Unmarshal([]byte(cleaned), &many); err == nil && len(many) > 0 {
			return &many[0], nil
		}
	}

	return nil, eris.Errorf("parse: no decodable object in response (%d bytes)", len(text))
}
