package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses model output as JSON into dst, treating the text as
// untrusted: optional markdown code fences are stripped and, failing a
// direct parse, the first balanced JSON object in the text is tried.
func DecodeJSON(text string, dst interface{}) error {
	cleaned := StripFences(text)
	if err := json.Unmarshal([]byte(cleaned), dst); err == nil {
		return nil
	}
	obj := firstJSONObject(cleaned)
	if obj == "" {
		return fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}

// StripFences removes a wrapping markdown code fence, if present.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		// Drop the language tag line (```json).
		trimmed = trimmed[i+1:]
	}
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}

// firstJSONObject extracts the first balanced {...} span, respecting
// strings and escapes.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
