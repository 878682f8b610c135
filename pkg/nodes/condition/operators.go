package condition

import (
	"errors"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/tallybook/automation/pkg/template"
)

// Supported operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
	OpIsNull         = "is_null"
	OpIsNotNull      = "is_not_null"
	OpInList         = "in_list"
	OpNotInList      = "not_in_list"
	OpRegex          = "regex"
)

// Operators returns the supported operators.
func Operators() []string {
	return []string{
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpIsEmpty, OpIsNotEmpty, OpIsNull, OpIsNotNull, OpInList, OpNotInList, OpRegex,
	}
}

var errUnsupportedModifier = errors.New("unsupported regex modifier")

// Evaluate applies operator to the actual and expected operands. Unknown
// operators and operand type mismatches evaluate to false.
func Evaluate(operator string, actual, expected any) bool {
	switch operator {
	case OpEquals:
		return strictEqual(actual, expected)
	case OpNotEquals:
		return !strictEqual(actual, expected)
	case OpContains:
		return bothStrings(actual, expected, strings.Contains)
	case OpNotContains:
		return bothStrings(actual, expected, func(a, e string) bool { return !strings.Contains(a, e) })
	case OpStartsWith:
		return bothStrings(actual, expected, strings.HasPrefix)
	case OpEndsWith:
		return bothStrings(actual, expected, strings.HasSuffix)
	case OpGreaterThan:
		return bothNumbers(actual, expected, func(a, e float64) bool { return a > e })
	case OpLessThan:
		return bothNumbers(actual, expected, func(a, e float64) bool { return a < e })
	case OpGreaterOrEqual:
		return bothNumbers(actual, expected, func(a, e float64) bool { return a >= e })
	case OpLessOrEqual:
		return bothNumbers(actual, expected, func(a, e float64) bool { return a <= e })
	case OpIsEmpty:
		return isEmpty(actual)
	case OpIsNotEmpty:
		return !isEmpty(actual)
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	case OpInList:
		return inList(actual, expected)
	case OpNotInList:
		return !inList(actual, expected)
	case OpRegex:
		return bothStrings(actual, expected, matchRegex)
	default:
		return false
	}
}

func bothStrings(actual, expected any, compare func(a, e string) bool) bool {
	a, ok := actual.(string)
	if !ok {
		return false
	}

	e, ok := expected.(string)
	if !ok {
		return false
	}

	return compare(a, e)
}

func bothNumbers(actual, expected any, compare func(a, e float64) bool) bool {
	a, ok := toNumber(actual)
	if !ok {
		return false
	}

	e, ok := toNumber(expected)
	if !ok {
		return false
	}

	return compare(a, e)
}

// toNumber accepts numeric values and numeric strings.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.ContainsAny(s, "xX_") {
			return 0, false
		}

		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func isNumericKind(value any) bool {
	if _, isString := value.(string); isString {
		return false
	}

	_, ok := toNumber(value)

	return ok
}

// strictEqual compares without type coercion. Numeric kinds compare by value
// since decoded JSON carries every number as float64.
func strictEqual(a, b any) bool {
	if isNumericKind(a) && isNumericKind(b) {
		x, _ := toNumber(a)
		y, _ := toNumber(b)

		return x == y
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	return reflect.DeepEqual(a, b)
}

// isEmpty treats nil, "", "0", false, numeric zero and empty collections as empty.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == "" || v == "0"
	case bool:
		return !v
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}

	if isNumericKind(value) {
		n, _ := toNumber(value)

		return n == 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func inList(actual, expected any) bool {
	for _, item := range toList(expected) {
		if looseEqual(actual, item) {
			return true
		}
	}

	return false
}

// toList accepts a structured list or a comma-separated string.
func toList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}

		return list
	case nil:
		return nil
	default:
		parts := strings.Split(template.Stringify(v), ",")
		list := make([]any, 0, len(parts))

		for _, part := range parts {
			list = append(list, strings.TrimSpace(part))
		}

		return list
	}
}

func looseEqual(a, b any) bool {
	if strictEqual(a, b) {
		return true
	}

	if isScalar(a) && isScalar(b) {
		return template.Stringify(a) == template.Stringify(b)
	}

	return false
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool:
		return true
	default:
		return isNumericKind(value)
	}
}

// matchRegex accepts bare patterns and delimited patterns with flags, such as
// "/^inv-\d+$/i". Invalid patterns never match.
func matchRegex(subject, pattern string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}

	return re.MatchString(subject)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if len(pattern) >= 2 {
		delimiter := pattern[0]
		if isDelimiter(delimiter) {
			end := strings.LastIndexByte(pattern, delimiter)
			if end > 0 {
				flags, ok := translateFlags(pattern[end+1:])
				if !ok {
					return nil, errUnsupportedModifier
				}

				return regexp.Compile(flags + pattern[1:end])
			}
		}
	}

	return regexp.Compile(pattern)
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("/#~%@!|", c) >= 0
}

func translateFlags(modifiers string) (string, bool) {
	var flags strings.Builder

	for _, m := range modifiers {
		switch m {
		case 'i', 'm', 's', 'U':
			flags.WriteRune(m)
		case 'u', 'D':
		default:
			return "", false
		}
	}

	if flags.Len() == 0 {
		return "", true
	}

	return "(?" + flags.String() + ")", true
}
