package ai

import (
	"encoding/json"
	"strings"
)

// ParseOrFallback decodes a JSON reply into T. Replies wrapped in a markdown
// code fence are unwrapped first. When decoding fails the fallback is built
// from the raw text and the second result is false.
func ParseOrFallback[T any](text string, fallback func(raw string) T) (T, bool) {
	var parsed T
	if err := json.Unmarshal([]byte(stripFence(text)), &parsed); err != nil {
		return fallback(text), false
	}
	return parsed, true
}

func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		// drop the language tag
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
