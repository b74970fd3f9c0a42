// Package querydsl implements the composable predicate DSL: field-path
// extraction over JSON-like trees, a comparator library, logical
// composition, and a JSON surface syntax.
package querydsl

import (
	"regexp"
	"time"
)

// ValueKind discriminates the QueryValue sum type.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBoolean
	KindArray
	KindRegex
	KindDateTime
	KindDuration
	KindNull
	KindFunction
)

// QueryValue is the typed expected-value sum type a Comparator compares
// against: string, number, boolean, array, regex, datetime, duration, null,
// or an opaque function predicate.
type QueryValue struct {
	Kind  ValueKind
	Str   string
	Num   float64
	Bool  bool
	Arr   []QueryValue
	Regex *regexp.Regexp
	Time  time.Time
	Dur   time.Duration
	Fn    func(any) bool
}

func StringValue(s string) QueryValue { return QueryValue{Kind: KindString, Str: s} }
func NumberValue(n float64) QueryValue { return QueryValue{Kind: KindNumber, Num: n} }
func BoolValue(b bool) QueryValue     { return QueryValue{Kind: KindBoolean, Bool: b} }
func NullValue() QueryValue           { return QueryValue{Kind: KindNull} }

func ArrayValue(values ...QueryValue) QueryValue {
	return QueryValue{Kind: KindArray, Arr: values}
}

func RegexValue(re *regexp.Regexp) QueryValue {
	return QueryValue{Kind: KindRegex, Regex: re}
}

func DateTimeValue(t time.Time) QueryValue {
	return QueryValue{Kind: KindDateTime, Time: t.UTC()}
}

func DurationValue(d time.Duration) QueryValue {
	return QueryValue{Kind: KindDuration, Dur: d}
}

// FunctionValue wraps an opaque predicate over a decoded JSON value.
func FunctionValue(fn func(any) bool) QueryValue {
	return QueryValue{Kind: KindFunction, Fn: fn}
}

// FromJSON converts a decoded JSON value (the shapes encoding/json produces:
// nil, bool, float64, string, []any, map[string]any) into a QueryValue.
// Objects have no direct representation and fall back to Null, matching the
// reference implementation's documented limitation.
func FromJSON(v any) QueryValue {
	switch val := v.(type) {
	case string:
		return StringValue(val)
	case float64:
		return NumberValue(val)
	case int:
		return NumberValue(float64(val))
	case bool:
		return BoolValue(val)
	case nil:
		return NullValue()
	case []any:
		arr := make([]QueryValue, len(val))
		for i, e := range val {
			arr[i] = FromJSON(e)
		}
		return ArrayValue(arr...)
	case map[string]any:
		return NullValue()
	default:
		return NullValue()
	}
}
