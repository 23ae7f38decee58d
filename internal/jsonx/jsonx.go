// Package jsonx recovers JSON payloads from model answers that wrap them in
// prose or markdown fences.
package jsonx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeBlockPattern matches markdown code blocks with an optional language tag.
var codeBlockPattern = regexp.MustCompile(`(?s)` + "```" + `(\w*)\s*\n(.+?)\n` + "```")

// Extract pulls the first JSON document out of a model answer. Fenced
// ` ```json ` blocks win over raw bracket scanning.
func Extract(answer string) (string, error) {
	if s, ok := extractFromCodeBlock(answer); ok {
		return s, nil
	}
	if s, ok := extractRaw(answer); ok {
		return s, nil
	}
	return "", fmt.Errorf("no valid JSON found in answer")
}

// As extracts JSON from the answer and unmarshals it into T.
func As[T any](answer string) (T, error) {
	var result T
	s, err := Extract(answer)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return result, fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return result, nil
}

func extractFromCodeBlock(answer string) (string, bool) {
	for _, match := range codeBlockPattern.FindAllStringSubmatch(answer, -1) {
		if len(match) < 3 {
			continue
		}
		lang := strings.ToLower(match[1])
		if lang != "" && lang != "json" {
			continue
		}
		content := strings.TrimSpace(match[2])
		if !strings.HasPrefix(content, "{") && !strings.HasPrefix(content, "[") {
			continue
		}
		if isValid(content) {
			return content, true
		}
	}
	return "", false
}

func extractRaw(answer string) (string, bool) {
	startObj := strings.Index(answer, "{")
	startArr := strings.Index(answer, "[")

	start := -1
	closeChar := byte('}')
	if startObj >= 0 && (startArr < 0 || startObj < startArr) {
		start = startObj
	} else if startArr >= 0 {
		start = startArr
		closeChar = ']'
	}
	if start < 0 {
		return "", false
	}

	candidate := matchBracket(answer[start:], closeChar)
	if candidate != "" && isValid(candidate) {
		return candidate, true
	}
	return "", false
}

// matchBracket walks the string counting bracket depth, honoring strings and
// escape sequences, and returns the complete document or "".
func matchBracket(s string, closeChar byte) string {
	if len(s) == 0 {
		return ""
	}
	openChar := s[0]
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

func isValid(s string) bool {
	var raw json.RawMessage
	return json.Unmarshal([]byte(s), &raw) == nil
}
