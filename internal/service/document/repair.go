package document

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
)

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*\\s*(.*?)\\s*```")

// decodeLenient decodes a model reply into v, trying in order: the reply as is, the
// reply with code fences stripped, and the first balanced {...} span.
func decodeLenient(reply string, v any) error {
	var lastErr error
	for _, candidate := range repairCandidates(reply) {
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return apperr.Parse("document.extract", "cannot parse JSON", lastErr)
}

func repairCandidates(reply string) []string {
	trimmed := strings.TrimSpace(reply)
	return []string{trimmed, stripFences(trimmed), firstObject(trimmed)}
}

func stripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} span, skipping braces inside strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
