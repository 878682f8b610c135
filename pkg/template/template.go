// Package template resolves {{ path }} placeholders against automation template data.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Unwrap strips surrounding {{ }} from a path expression.
func Unwrap(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "{{") && strings.HasSuffix(expr, "}}") {
		expr = strings.TrimSpace(expr[2 : len(expr)-2])
	}

	return expr
}

// Lookup resolves a dotted path such as "last_node.output.status" or
// "{{ invoice.lines.0.amount }}". A missing segment yields (nil, false).
func Lookup(data map[string]any, path string) (any, bool) {
	path = Unwrap(path)
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Render replaces every placeholder in text with the string form of the value it
// references. Unknown paths render as an empty string.
func Render(text string, data map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		value, ok := Lookup(data, match)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// Resolve renders a value like Render, except that a string made of a single
// placeholder yields the referenced value with its original type. Maps and
// lists are resolved element by element.
func Resolve(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
			resolved, _ := Lookup(data, trimmed)

			return resolved
		}

		return Render(v, data)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			resolved[key] = Resolve(item, data)
		}

		return resolved
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, data)
		}

		return out
	default:
		return value
	}
}

// RenderMap renders every string value of a map, recursing into nested maps and lists.
func RenderMap(values map[string]any, data map[string]any) map[string]any {
	rendered := make(map[string]any, len(values))
	for key, value := range values {
		rendered[key] = renderAny(value, data)
	}

	return rendered
}

func renderAny(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		return RenderMap(v, data)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderAny(item, data)
		}

		return out
	default:
		return value
	}
}

// Stringify formats a template value for interpolation into text.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
