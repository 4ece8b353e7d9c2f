package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// segment is one parsed step of a dotted path expression. A segment is a
// plain field access, an indexed access ("items[2]"), or a single-level
// filter ("items[?(@.id=='a')].name") that selects the first matching
// element and projects one field.
type segment struct {
	field   string
	index   int
	indexed bool
	filter  *filterExpr
}

type filterExpr struct {
	key     string
	value   string
	project string
}

func (s segment) isPlain() bool {
	return !s.indexed && s.filter == nil
}

// parsePath parses a dotted path with optional array indexing and a
// single-level filter into segments.
func parsePath(src string) ([]segment, error) {
	if src == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segments []segment
	rest := src
	for rest != "" {
		seg, tail, err := parseSegment(rest)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		rest = tail
	}
	return segments, nil
}

func parseSegment(src string) (segment, string, error) {
	end := 0
	for end < len(src) && src[end] != '.' && src[end] != '[' {
		end++
	}
	name := src[:end]
	if !isIdentifier(name) {
		return segment{}, "", fmt.Errorf("invalid path segment %q", name)
	}
	rest := src[end:]

	// Plain field access.
	if !strings.HasPrefix(rest, "[") {
		return segment{field: name}, cutDot(rest), nil
	}

	// Filter: name[?(@.key=='value')].project
	if strings.HasPrefix(rest, "[?(@.") {
		body, tail, found := strings.Cut(rest[len("[?(@."):], "')]")
		if !found {
			return segment{}, "", fmt.Errorf("unterminated filter in %q", src)
		}
		key, value, found := strings.Cut(body, "=='")
		if !found || !isIdentifier(key) {
			return segment{}, "", fmt.Errorf("invalid filter in %q", src)
		}
		project, tail, err := parseProjection(tail)
		if err != nil {
			return segment{}, "", err
		}
		seg := segment{
			field:  name,
			filter: &filterExpr{key: key, value: value, project: project},
		}
		return seg, tail, nil
	}

	// Index: name[3]
	body, tail, found := strings.Cut(rest[1:], "]")
	if !found {
		return segment{}, "", fmt.Errorf("unterminated index in %q", src)
	}
	index, err := strconv.Atoi(body)
	if err != nil {
		return segment{}, "", fmt.Errorf("invalid array index %q", body)
	}
	return segment{field: name, index: index, indexed: true}, cutDot(tail), nil
}

func parseProjection(src string) (string, string, error) {
	if !strings.HasPrefix(src, ".") {
		return "", "", fmt.Errorf("filter requires a projected field")
	}
	src = src[1:]
	end := 0
	for end < len(src) && src[end] != '.' {
		end++
	}
	name := src[:end]
	if !isIdentifier(name) {
		return "", "", fmt.Errorf("invalid projected field %q", name)
	}
	return name, cutDot(src[end:]), nil
}

func cutDot(src string) string {
	return strings.TrimPrefix(src, ".")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		alpha := r == '_' || r == '$' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !alpha && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// evalPath walks a parsed path through a value, reporting whether every
// step resolved.
func evalPath(root any, path []segment) (any, bool) {
	current := root
	for _, seg := range path {
		value, ok := lookupField(current, seg.field)
		if !ok {
			return nil, false
		}
		if seg.indexed {
			value, ok = lookupIndex(value, seg.index)
			if !ok {
				return nil, false
			}
		}
		if seg.filter != nil {
			value, ok = applyFilter(value, seg.filter)
			if !ok {
				return nil, false
			}
		}
		current = value
	}
	return current, true
}

func lookupField(value any, field string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		result, ok := v[field]
		return result, ok
	case map[string]string:
		result, ok := v[field]
		return result, ok
	default:
		// Structs and other map kinds come up when executors return typed
		// outputs; handle them reflectively.
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			entry := rv.MapIndex(reflect.ValueOf(field))
			if entry.IsValid() {
				return entry.Interface(), true
			}
		}
		return nil, false
	}
}

func lookupIndex(value any, index int) (any, bool) {
	if list, ok := value.([]any); ok {
		if index < 0 || index >= len(list) {
			return nil, false
		}
		return list[index], true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if index < 0 || index >= rv.Len() {
			return nil, false
		}
		return rv.Index(index).Interface(), true
	}
	return nil, false
}

// applyFilter selects the first element whose key equals the literal and
// projects the configured field from it.
func applyFilter(value any, filter *filterExpr) (any, bool) {
	items, ok := toAnySlice(value)
	if !ok {
		return nil, false
	}
	for _, item := range items {
		candidate, ok := lookupField(item, filter.key)
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", candidate) == filter.value {
			return lookupField(item, filter.project)
		}
	}
	return nil, false
}

func toAnySlice(value any) ([]any, bool) {
	if list, ok := value.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
