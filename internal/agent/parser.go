package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// Directive is one callWorker(name, "query") found in engine output.
type Directive struct {
	Worker string
	Query  string
}

// signature identifies a directive for per-turn deduplication.
func (d Directive) signature() string {
	return strings.ToLower(strings.TrimSpace(d.Worker)) + "\x00" + d.Query
}

var directivePattern = regexp.MustCompile(`callWorker\(\s*["']?([A-Za-z_][A-Za-z0-9_-]*)["']?\s*,\s*("(?:[^"\\]|\\.)*"|'[^']*')\s*\)`)

// parseDirectives extracts every worker call in content, in order of
// appearance. Text outside the calls is ignored.
func parseDirectives(content string) []Directive {
	matches := directivePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Directive, 0, len(matches))
	for _, m := range matches {
		out = append(out, Directive{Worker: m[1], Query: unquoteQuery(m[2])})
	}
	return out
}

func unquoteQuery(raw string) string {
	if strings.HasPrefix(raw, "'") {
		return strings.TrimSpace(strings.Trim(raw, "'"))
	}
	if q, err := strconv.Unquote(raw); err == nil {
		return strings.TrimSpace(q)
	}
	// invalid escapes: drop the quotes and keep the text as written
	return strings.TrimSpace(raw[1 : len(raw)-1])
}

// stripRolePrefix removes role-name prefixes that some models leak into
// their content, e.g. "assistant\nHello" or "Assistant: Hello".
func stripRolePrefix(content string) string {
	prefixes := []string{
		"assistant\n",
		"Assistant\n",
		"assistant:\n",
		"Assistant:\n",
		"assistant: ",
		"Assistant: ",
	}
	trimmed := strings.TrimSpace(content)
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return strings.TrimSpace(trimmed[len(p):])
		}
	}
	return trimmed
}
