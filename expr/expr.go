// Package expr resolves templated placeholders in node configuration and
// edge mappings against prior node outputs. Templates contain zero or more
// "{{ ... }}" placeholders. Placeholders that cannot be resolved are left
// verbatim so templating typos show up in output instead of failing a run.
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Scope is the restricted read-only environment a template is resolved
// against. Input is the immediate node input; NodeOutputs maps node ids to
// the raw outputs recorded for nodes that already completed.
type Scope struct {
	Input       map[string]any
	NodeOutputs map[string]any
}

var placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Resolve resolves all placeholders in a template. The template may be a
// string, a list, or a map; lists and maps are resolved recursively.
// Non-template values pass through unchanged. Resolve never returns an
// error: unresolvable placeholders stay as their literal text.
func Resolve(template any, scope *Scope) any {
	switch t := template.(type) {
	case string:
		return resolveString(t, scope)
	case []any:
		resolved := make([]any, len(t))
		for i, item := range t {
			resolved[i] = Resolve(item, scope)
		}
		return resolved
	case map[string]any:
		resolved := make(map[string]any, len(t))
		for k, v := range t {
			resolved[k] = Resolve(v, scope)
		}
		return resolved
	default:
		return template
	}
}

// ResolveString resolves placeholders in a single string template.
func ResolveString(template string, scope *Scope) any {
	return resolveString(template, scope)
}

func resolveString(s string, scope *Scope) any {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// A string that is exactly one placeholder resolves to the typed value
	// rather than its string form, so "{{$json.count}}" can yield an int.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		value, ok := eval(strings.TrimSpace(s[matches[0][2]:matches[0][3]]), scope)
		if !ok {
			return s
		}
		return value
	}

	// Otherwise interpolate each placeholder into the surrounding text.
	var b strings.Builder
	lastEnd := 0
	for _, match := range matches {
		b.WriteString(s[lastEnd:match[0]])
		value, ok := eval(strings.TrimSpace(s[match[2]:match[3]]), scope)
		if ok {
			b.WriteString(stringify(value))
		} else {
			// Leave the placeholder text untouched.
			b.WriteString(s[match[0]:match[1]])
		}
		lastEnd = match[1]
	}
	b.WriteString(s[lastEnd:])
	return b.String()
}

// eval evaluates a single placeholder expression. Supported forms, in
// priority order:
//
//	$json.<path>            immediate node input
//	$node['<id>'].json.<path>  named prior node's output
//	input.<path>            alias of the immediate input
//	<nodeId>.<path>         direct prior-output lookup by id
//	<identifier>            top-level key of the immediate input
func eval(src string, scope *Scope) (any, bool) {
	if src == "" || scope == nil {
		return nil, false
	}

	if rest, ok := strings.CutPrefix(src, "$json."); ok {
		return evalPathString(scope.Input, rest)
	}

	if rest, ok := strings.CutPrefix(src, "$node['"); ok {
		name, tail, found := strings.Cut(rest, "']")
		if !found {
			return nil, false
		}
		tail, ok = strings.CutPrefix(tail, ".json")
		if !ok {
			return nil, false
		}
		output, exists := scope.NodeOutputs[name]
		if !exists {
			return nil, false
		}
		if tail == "" {
			return output, true
		}
		return evalPathString(output, strings.TrimPrefix(tail, "."))
	}

	if rest, ok := strings.CutPrefix(src, "input."); ok {
		return evalPathString(scope.Input, rest)
	}

	path, err := parsePath(src)
	if err != nil {
		return nil, false
	}

	// First segment naming a prior node selects that node's output.
	if len(path) > 1 && path[0].isPlain() {
		if output, exists := scope.NodeOutputs[path[0].field]; exists {
			return evalPath(output, path[1:])
		}
	}

	// Fall back to the immediate input.
	return evalPath(scope.Input, path)
}

func evalPathString(root any, pathSrc string) (any, bool) {
	path, err := parsePath(pathSrc)
	if err != nil {
		return nil, false
	}
	return evalPath(root, path)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
