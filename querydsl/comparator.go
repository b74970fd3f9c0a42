package querydsl

import (
	"math"
	"strings"
	"time"
)

// Comparator is a leaf operation in the DSL comparing a candidate value
// against an expected QueryValue.
type Comparator int

const (
	Equals Comparator = iota
	NotEquals
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
	Exists
	NotExists
	Matches
	NotMatches
	StartsWith
	EndsWith
	Contains
	NotContains
	In
	NotIn
	HasAll
	HasAny
	HasNone
	Length
	Empty
	NotEmpty
	Between
	NotBetween
	IsMultipleOf
	IsDivisibleBy
	Before
	After
	SameDay
	// DurationBetween is reserved: the tag exists, Evaluate returns false
	// for it. Omitted from the first implementation per design notes.
	DurationBetween
	Function
)

// Compare applies the comparator to a single candidate value.
func (c Comparator) Compare(actual any, expected *QueryValue) bool {
	return c.Evaluate([]any{actual}, expected)
}

// Evaluate applies the comparator against one or more candidate values; if
// any candidate satisfies, the comparison is true (wildcard-expanding
// semantics). Any comparator applied to an incompatible actual is false —
// it never aborts evaluation.
func (c Comparator) Evaluate(candidates []any, expected *QueryValue) bool {
	for _, val := range candidates {
		if c.evaluateOne(val, expected) {
			return true
		}
	}
	return false
}

func (c Comparator) evaluateOne(val any, expected *QueryValue) bool {
	switch c {
	case Equals:
		return expected != nil && compareValues(val, *expected)
	case NotEquals:
		return expected != nil && !compareValues(val, *expected)
	case GreaterThan:
		return expected != nil && compareNumbers(val, *expected, func(a, b float64) bool { return a > b })
	case LessThan:
		return expected != nil && compareNumbers(val, *expected, func(a, b float64) bool { return a < b })
	case GreaterThanOrEqual:
		return expected != nil && compareNumbers(val, *expected, func(a, b float64) bool { return a >= b })
	case LessThanOrEqual:
		return expected != nil && compareNumbers(val, *expected, func(a, b float64) bool { return a <= b })
	case Exists:
		return true
	case NotExists:
		return false
	case Matches:
		if expected == nil || expected.Kind != KindRegex {
			return false
		}
		s, ok := val.(string)
		return ok && expected.Regex.MatchString(s)
	case NotMatches:
		if expected == nil || expected.Kind != KindRegex {
			return false
		}
		s, ok := val.(string)
		return ok && !expected.Regex.MatchString(s)
	case StartsWith:
		if expected == nil || expected.Kind != KindString {
			return false
		}
		s, ok := val.(string)
		return ok && strings.HasPrefix(s, expected.Str)
	case EndsWith:
		if expected == nil || expected.Kind != KindString {
			return false
		}
		s, ok := val.(string)
		return ok && strings.HasSuffix(s, expected.Str)
	case Contains:
		if expected == nil || expected.Kind != KindString {
			return false
		}
		return contains(val, expected.Str)
	case NotContains:
		if expected == nil || expected.Kind != KindString {
			return false
		}
		s, ok := val.(string)
		return ok && !strings.Contains(s, expected.Str)
	case In:
		if expected == nil || expected.Kind != KindArray {
			return false
		}
		for _, e := range expected.Arr {
			if compareValues(val, e) {
				return true
			}
		}
		return false
	case NotIn:
		if expected == nil || expected.Kind != KindArray {
			return false
		}
		for _, e := range expected.Arr {
			if compareValues(val, e) {
				return false
			}
		}
		return true
	case HasAll:
		if expected == nil || expected.Kind != KindArray {
			return false
		}
		actual, ok := val.([]any)
		if !ok {
			return false
		}
		for _, e := range expected.Arr {
			if !anyMatches(actual, e) {
				return false
			}
		}
		return true
	case HasAny:
		if expected == nil || expected.Kind != KindArray {
			return false
		}
		actual, ok := val.([]any)
		if !ok {
			return false
		}
		for _, e := range expected.Arr {
			if anyMatches(actual, e) {
				return true
			}
		}
		return false
	case HasNone:
		if expected == nil || expected.Kind != KindArray {
			return false
		}
		actual, ok := val.([]any)
		if !ok {
			return false
		}
		for _, e := range expected.Arr {
			if anyMatches(actual, e) {
				return false
			}
		}
		return true
	case Length:
		if expected == nil {
			return false
		}
		actual, ok := val.([]any)
		if !ok {
			return false
		}
		return compareNumbers(float64(len(actual)), *expected, func(a, b float64) bool { return a == b })
	case Empty:
		actual, ok := val.([]any)
		return ok && len(actual) == 0
	case NotEmpty:
		actual, ok := val.([]any)
		return ok && len(actual) != 0
	case Between:
		if expected == nil || expected.Kind != KindArray || len(expected.Arr) != 2 {
			return false
		}
		return compareNumbers(val, expected.Arr[0], func(a, b float64) bool { return a >= b }) &&
			compareNumbers(val, expected.Arr[1], func(a, b float64) bool { return a <= b })
	case NotBetween:
		if expected == nil || expected.Kind != KindArray || len(expected.Arr) != 2 {
			return false
		}
		return !(compareNumbers(val, expected.Arr[0], func(a, b float64) bool { return a >= b }) &&
			compareNumbers(val, expected.Arr[1], func(a, b float64) bool { return a <= b }))
	case IsMultipleOf:
		if expected == nil || expected.Kind != KindNumber {
			return false
		}
		n, ok := toFloat(val)
		return ok && expected.Num != 0 && math.Mod(n, expected.Num) == 0
	case IsDivisibleBy:
		if expected == nil || expected.Kind != KindNumber {
			return false
		}
		n, ok := toFloat(val)
		return ok && expected.Num != 0 && math.Mod(n, expected.Num) == 0
	case Before:
		if expected == nil || expected.Kind != KindDateTime {
			return false
		}
		actual, ok := parseActualTime(val)
		return ok && actual.Before(expected.Time)
	case After:
		if expected == nil || expected.Kind != KindDateTime {
			return false
		}
		actual, ok := parseActualTime(val)
		return ok && actual.After(expected.Time)
	case SameDay:
		if expected == nil || expected.Kind != KindDateTime {
			return false
		}
		actual, ok := parseActualTime(val)
		if !ok {
			return false
		}
		ay, am, ad := actual.Date()
		ey, em, ed := expected.Time.Date()
		return ay == ey && am == em && ad == ed
	case DurationBetween:
		return false
	case Function:
		if expected == nil || expected.Kind != KindFunction || expected.Fn == nil {
			return false
		}
		return expected.Fn(val)
	default:
		return false
	}
}

func compareValues(actual any, expected QueryValue) bool {
	switch expected.Kind {
	case KindString:
		s, ok := actual.(string)
		return ok && s == expected.Str
	case KindNumber:
		n, ok := toFloat(actual)
		return ok && n == expected.Num
	case KindBoolean:
		b, ok := actual.(bool)
		return ok && b == expected.Bool
	case KindArray:
		arr, ok := actual.([]any)
		if !ok || len(arr) != len(expected.Arr) {
			return false
		}
		for i, e := range expected.Arr {
			if !compareValues(arr[i], e) {
				return false
			}
		}
		return true
	case KindRegex:
		s, ok := actual.(string)
		return ok && expected.Regex != nil && expected.Regex.MatchString(s)
	case KindDateTime:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339, s)
		return err == nil && t.UTC().Equal(expected.Time)
	case KindNull:
		return actual == nil
	default:
		return false
	}
}

func compareNumbers(actual any, expected QueryValue, cmp func(a, b float64) bool) bool {
	if expected.Kind != KindNumber {
		return false
	}
	n, ok := toFloat(actual)
	if !ok {
		return false
	}
	return cmp(n, expected.Num)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(val any, substr string) bool {
	switch v := val.(type) {
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && strings.Contains(s, substr) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(v, substr)
	default:
		return false
	}
}

func anyMatches(actual []any, expected QueryValue) bool {
	for _, a := range actual {
		if compareValues(a, expected) {
			return true
		}
	}
	return false
}

func parseActualTime(val any) (time.Time, bool) {
	s, ok := val.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
