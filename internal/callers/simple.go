package callers

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSimple decodes the restricted TOML subset used by allow-list files:
// comments, blank lines, [[callers]] headers, and key = value lines whose
// values are double-quoted strings or the literals true/false. Anything
// else is an error that names the offending line, so a malformed file is
// rejected as a whole rather than partially applied.
func ParseSimple(text string) (map[string]any, error) {
	root := map[string]any{}
	var callers []any
	current := root

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			header := stripComment(line)
			if header != "[[callers]]" {
				return nil, fmt.Errorf("line %d: unsupported table header %q", lineNo, header)
			}
			current = map[string]any{}
			callers = append(callers, current)
			continue
		}

		key, rawValue, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value", lineNo)
		}
		key = strings.TrimSpace(key)
		if !validKey(key) {
			return nil, fmt.Errorf("line %d: invalid key %q", lineNo, key)
		}
		if _, dup := current[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate key %q", lineNo, key)
		}

		value, err := parseSimpleValue(strings.TrimSpace(rawValue))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		current[key] = value
	}

	if callers != nil {
		if _, clash := root["callers"]; clash {
			return nil, fmt.Errorf("key %q defined as both value and table", "callers")
		}
		root["callers"] = callers
	}
	return root, nil
}

func parseSimpleValue(v string) (any, error) {
	if strings.HasPrefix(v, `"`) {
		end := closingQuote(v)
		if end < 0 {
			return nil, fmt.Errorf("unterminated string %s", v)
		}
		if rest := strings.TrimSpace(v[end+1:]); rest != "" && !strings.HasPrefix(rest, "#") {
			return nil, fmt.Errorf("unexpected text after string: %q", rest)
		}
		if err := checkBasicString(v[1:end]); err != nil {
			return nil, fmt.Errorf("invalid string %s: %w", v[:end+1], err)
		}
		s, err := strconv.Unquote(v[:end+1])
		if err != nil {
			return nil, fmt.Errorf("invalid string %s: %w", v[:end+1], err)
		}
		return s, nil
	}

	switch stripComment(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "":
		return nil, fmt.Errorf("missing value")
	}
	return nil, fmt.Errorf("unsupported value %q", v)
}

// closingQuote returns the index of the quote that terminates the string
// opening at v[0], or -1.
func closingQuote(v string) int {
	for i := 1; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// checkBasicString rejects what strconv.Unquote accepts but a TOML basic
// string does not: escapes outside \b \t \n \f \r \" \\ \u \U, and raw
// control characters other than tab.
func checkBasicString(body string) error {
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\':
			if i+1 >= len(body) || !strings.ContainsRune(`btnfr"\uU`, rune(body[i+1])) {
				return fmt.Errorf("unsupported escape at offset %d", i)
			}
			i++
		case c == 0x7f || (c < 0x20 && c != '\t'):
			return fmt.Errorf("control character 0x%02x", c)
		}
	}
	return nil
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
