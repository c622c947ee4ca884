package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONRelaxed unmarshals LLM output that may be wrapped in markdown
// code fences or surrounded by prose. A strict parse is attempted first,
// then progressively forgiving extractions. Callers fall back to
// deterministic behavior when this fails; it never panics.
func ParseJSONRelaxed(s string, v any) error {
	s = strings.TrimSpace(s)
	strictErr := json.Unmarshal([]byte(s), v)
	if strictErr == nil {
		return nil
	}

	if stripped := stripCodeFences(s); stripped != s {
		if err := json.Unmarshal([]byte(stripped), v); err == nil {
			return nil
		}
	}

	if span := extractJSONSpan(s); span != "" {
		if err := json.Unmarshal([]byte(span), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("response is not valid JSON: %w", strictErr)
}

// stripCodeFences removes a surrounding ```json ... ``` (or bare ```) block.
// Returns the input unchanged when no fence is found.
func stripCodeFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Skip the language tag line ("json", "JSON", or empty).
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return s
	}
	return strings.TrimSpace(rest[:end])
}

// extractJSONSpan returns the outermost {...} or [...] slice of s, or ""
// when no such span exists.
func extractJSONSpan(s string) string {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start, closer := objStart, "}"
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start, closer = arrStart, "]"
	}
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
