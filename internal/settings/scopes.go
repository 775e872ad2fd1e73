package settings

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/docflow/internal/document"
)

// scopeToken matches templated scope tokens: prefix%f:FIELD%suffix or prefix%cd:KEY%suffix.
var scopeToken = regexp.MustCompile(`^([A-Za-z0-9_.-]*)%(f|cd):([A-Za-z0-9_.-]*)%([A-Za-z0-9_.-]*)$`)

// Scopes is the ordered (scope, priority) list sent to the settings service.
type Scopes struct {
	Names      []string
	Priorities []int
}

// Key identifies a lookup for refresh tracking.
func (s Scopes) Key(setting string) string {
	return setting + "|" + strings.Join(s.Names, ",") + "|" + s.priorityList()
}

func (s Scopes) priorityList() string {
	parts := make([]string, len(s.Priorities))
	for i, p := range s.Priorities {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// BuildScopes expands a comma-separated options string against doc.
//
// Literal tokens pass through. A templated field token emits one scope per
// non-empty field value, all sharing one priority; a templated custom-data
// token emits one scope when the entry is non-empty. Each emitted token takes
// the next priority starting at 1; tokens that yield nothing are dropped and
// take no priority.
func BuildScopes(options string, doc *document.Document) Scopes {
	var out Scopes
	priority := 0

	for _, raw := range strings.Split(options, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		m := scopeToken.FindStringSubmatch(token)
		if m == nil {
			priority++
			out.Names = append(out.Names, token)
			out.Priorities = append(out.Priorities, priority)
			continue
		}

		prefix, kind, name, suffix := m[1], m[2], m[3], m[4]
		var values []string
		switch kind {
		case "f":
			for _, v := range doc.Root().Values(name) {
				if v != "" {
					values = append(values, v)
				}
			}
		case "cd":
			if v, ok := doc.CustomData(name); ok && v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		priority++
		for _, v := range values {
			out.Names = append(out.Names, prefix+v+suffix)
			out.Priorities = append(out.Priorities, priority)
		}
	}
	return out
}
