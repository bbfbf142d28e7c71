package strategy

import (
	"fmt"
	"sort"
	"strings"
)

// template is a pre-parsed string with {name} placeholders.
// "{{" and "}}" are literal braces. Any other brace is rejected at parse time,
// so rendering can only fail on an undefined variable.
type template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	text     string
	variable string // non-empty for a placeholder
}

func parseTemplate(s string) (template, error) {
	t := template{raw: s}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.parts = append(t.parts, templatePart{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return template{}, fmt.Errorf("unclosed placeholder at offset %d in %q", i, s)
			}
			name := s[i+1 : i+1+end]
			if !isIdentifier(name) {
				return template{}, fmt.Errorf("invalid placeholder {%s} in %q (use {{ }} for literal braces)", name, s)
			}
			flush()
			t.parts = append(t.parts, templatePart{variable: name})
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return template{}, fmt.Errorf("unmatched '}' at offset %d in %q", i, s)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// variables returns the placeholder names referenced by t.
func (t template) variables() []string {
	var out []string
	for _, p := range t.parts {
		if p.variable != "" {
			out = append(out, p.variable)
		}
	}
	return out
}

// render substitutes vars. The second result names the first undefined
// variable, or is empty on success.
func (t template) render(vars map[string]string) (string, string) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.variable == "" {
			b.WriteString(p.text)
			continue
		}
		v, ok := vars[p.variable]
		if !ok {
			return "", p.variable
		}
		b.WriteString(v)
	}
	return b.String(), ""
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
