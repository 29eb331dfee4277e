package decode

import "strings"

// Inline fence tokens removed from model output. Tagged tokens must be
// replaced before the bare delimiter, otherwise the tag survives.
var fenceTokens = []string{"```python", "```py", "```json", "```"}

// StripFences removes markdown code-fence wrapping from model output: a
// leading fence line (delimiter plus optional language tag), a trailing fence
// delimiter, and any inline fence tokens. It never fails; empty input yields
// an empty string.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "```") {
		rest := s[3:]
		if idx := strings.IndexByte(rest, '\n'); idx >= 0 && isFenceTag(rest[:idx]) {
			s = rest[idx+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-3]
	}

	for _, tok := range fenceTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(s)
}

// isFenceTag reports whether a fence opening line carries only a language
// tag (or nothing). Lines with real content after the delimiter are left for
// inline token replacement instead.
func isFenceTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// ExtractObject returns the first substring of s whose brace nesting returns
// to zero, scanning with an explicit state machine so that braces inside
// string literals never count toward balance. A quote toggles string state
// only when not preceded by an unescaped backslash. Returns ok=false when no
// opening brace exists or the braces never balance.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
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
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
