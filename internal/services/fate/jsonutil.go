package fate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ExtractJSON pulls the JSON object out of raw model output: code fences and
// wrapping quotes are dropped, then the text from the first '{' to the last '}'
// is kept. Text without braces is returned trimmed.
func ExtractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "```") {
		if obj, ok := braceSpan(trimmed); ok {
			return obj
		}
	}

	if len(trimmed) > 2 && strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	if obj, ok := braceSpan(trimmed); ok {
		return obj
	}
	return trimmed
}

func braceSpan(s string) (string, bool) {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// decodeModelJSON extracts and decodes the JSON object in raw into v
func decodeModelJSON(raw string, v any) error {
	payload := ExtractJSON(raw)
	if payload == "" {
		return fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("model output is not valid JSON: %w", err)
	}
	return nil
}

// roundPtr converts an optional model number to an int, rounding half away from zero
func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	r := int(math.Round(*v))
	return &r
}
