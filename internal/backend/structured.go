package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of a free-form reply,
// validates it against schema (when non-nil) and decodes it into T.
// Markdown fences, surrounding prose and line comments are tolerated.
func ExtractJSON[T any](raw string, schema *Schema) (T, error) {
	var zero T

	if strings.TrimSpace(raw) == "" {
		return zero, fmt.Errorf("%w: empty response", ErrInvalidOutput)
	}

	block := extractJSONBlock(stripCodeFences(raw))
	if block == "" {
		return zero, fmt.Errorf("%w: no JSON object found in response", ErrInvalidOutput)
	}
	block = stripJSONComments(block)

	if schema != nil {
		if err := schema.Validate([]byte(block)); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
	}

	var result T
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return result, nil
}

func stripCodeFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// extractJSONBlock returns the first balanced {...} block, skipping braces inside strings.
func extractJSONBlock(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripJSONComments drops // line comments outside string values.
func stripJSONComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		if inString {
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i+1 < len(s) && s[i+1] != '\n' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
