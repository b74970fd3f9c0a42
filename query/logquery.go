// Package query implements the LogQuery filter specification: a builder-style,
// immutable-after-build description of a time window, level filter, search
// term, field projection, ordering, pagination, and an optional structural
// predicate tree.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"logtransport/errs"
	"logtransport/record"
)

var errNoMatch = errors.New("query: no relative time match")

// Order controls result ordering by extracted timestamp.
type Order int

const (
	// Descending is the default: newest first.
	Descending Order = iota
	Ascending
)

// Filter is the structural predicate tree interface the DSL package
// implements. Kept as a narrow interface here (rather than importing
// querydsl directly) to avoid a package cycle: querydsl does not need to
// know about LogQuery, only LogQuery needs to know a Filter can be
// evaluated against a tree.
type Filter interface {
	Evaluate(tree map[string]any) bool
}

// LogQuery is a declarative filter over a stream of records. Construct via
// New, which fills in the documented defaults; every setter is a builder
// method returning a new LogQuery value (setters replace, they do not
// merge).
type LogQuery struct {
	from      time.Time
	hasFrom   bool
	until     time.Time
	hasUntil  bool
	limit     int
	start     int
	order     Order
	levels    []string
	fields    []string
	search    *regexp.Regexp
	filter    Filter
	hasFilter bool
}

// New returns a LogQuery with the documented defaults: From = now-24h,
// Until = now, Limit = 50, Start = 0, Order = Descending.
func New() LogQuery {
	now := time.Now()
	return LogQuery{
		from:    now.Add(-24 * time.Hour),
		hasFrom: true,
		until:   now,
		hasUntil: true,
		limit:   50,
		start:   0,
		order:   Descending,
	}
}

// WithFrom sets the lower time bound. A parse failure (see WithFromString)
// leaves the field unset rather than propagating an error, per the spec's
// "parse failures leave the corresponding field unset" rule.
func (q LogQuery) WithFrom(t time.Time) LogQuery {
	q.from, q.hasFrom = t, true
	return q
}

// WithFromString parses a free-form time string. Recognizes RFC3339 and the
// relative forms "yesterday" and "N hours/minutes/days ago". On parse
// failure the From field is left unset (not an error return, matching the
// builder's total-replacement, best-effort semantics).
func (q LogQuery) WithFromString(s string) LogQuery {
	if t, ok := parseFlexibleTime(s); ok {
		return q.WithFrom(t)
	}
	q.hasFrom = false
	return q
}

// WithUntil sets the upper time bound.
func (q LogQuery) WithUntil(t time.Time) LogQuery {
	q.until, q.hasUntil = t, true
	return q
}

// WithUntilString parses a free-form time string for the upper bound.
func (q LogQuery) WithUntilString(s string) LogQuery {
	if t, ok := parseFlexibleTime(s); ok {
		return q.WithUntil(t)
	}
	q.hasUntil = false
	return q
}

// WithLimit sets the pagination limit. Negative values are clamped to 0.
func (q LogQuery) WithLimit(n int) LogQuery {
	if n < 0 {
		n = 0
	}
	q.limit = n
	return q
}

// WithStart sets the pagination offset. Negative values are clamped to 0.
func (q LogQuery) WithStart(n int) LogQuery {
	if n < 0 {
		n = 0
	}
	q.start = n
	return q
}

// WithOrder sets result ordering.
func (q LogQuery) WithOrder(o Order) LogQuery {
	q.order = o
	return q
}

// WithLevels replaces the allowed-levels list. An empty list means "all
// levels pass".
func (q LogQuery) WithLevels(levels ...string) LogQuery {
	q.levels = append([]string(nil), levels...)
	return q
}

// WithFields replaces the projection field list. Fields is projection-only:
// it never filters out non-matching records, it only shapes what Project
// returns.
func (q LogQuery) WithFields(fields ...string) LogQuery {
	q.fields = append([]string(nil), fields...)
	return q
}

// WithSearchTerm compiles term as a regular expression matched against a
// record's message. A compile failure leaves the search term unset and
// returns an errs.KindRegexCompile error so the caller can fix the
// pattern (Regex compile failure in the error taxonomy: "Builder setter,
// caller fixes input").
func (q LogQuery) WithSearchTerm(term string) (LogQuery, error) {
	re, err := regexp.Compile(term)
	if err != nil {
		return q, errs.Wrap(errs.KindRegexCompile, "query", "WithSearchTerm", err).
			WithMetadata("term", term)
	}
	q.search = re
	return q, nil
}

// WithFilter sets the structural predicate tree.
func (q LogQuery) WithFilter(f Filter) LogQuery {
	q.filter, q.hasFilter = f, true
	return q
}

// Fields returns the projection field list.
func (q LogQuery) Fields() []string { return q.fields }

// Levels returns the allowed-levels list.
func (q LogQuery) Levels() []string { return q.levels }

// Limit returns the pagination limit.
func (q LogQuery) Limit() int { return q.limit }

// Start returns the pagination offset.
func (q LogQuery) Start() int { return q.start }

// Matches evaluates the query against one record. Pure function of its
// inputs: no side effects, no time dependence beyond From/Until which were
// resolved at construction (I4).
func (q LogQuery) Matches(r record.LogRecord) bool {
	if len(q.levels) > 0 {
		found := false
		for _, lvl := range q.levels {
			if lvl == r.Level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if q.hasFrom || q.hasUntil {
		ts, ok := r.Timestamp()
		if !ok {
			return false
		}
		if q.hasFrom && ts.Before(q.from) {
			return false
		}
		if q.hasUntil && ts.After(q.until) {
			return false
		}
	}

	if q.search != nil && !q.search.MatchString(r.Message) {
		return false
	}

	if q.hasFilter && !q.filter.Evaluate(r.Tree()) {
		return false
	}

	return true
}

// Project selects the listed fields from a record. "message" and "level"
// are first-class; any other name is looked up in metadata. An empty Fields
// list returns the full tree.
func (q LogQuery) Project(r record.LogRecord) map[string]any {
	if len(q.fields) == 0 {
		return r.Tree()
	}
	out := make(map[string]any, len(q.fields))
	for _, f := range q.fields {
		if v, ok := r.Get(f); ok {
			out[f] = v
		}
	}
	return out
}

// Sort orders records by extracted timestamp according to q.Order().
// Records without a parseable timestamp compare as minimal: they sort to
// the front for Ascending and to the back for Descending.
func (q LogQuery) Sort(records []record.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, oki := records[i].Timestamp()
		tj, okj := records[j].Timestamp()
		switch {
		case !oki && !okj:
			return false
		case !oki:
			return q.order == Ascending
		case !okj:
			return q.order != Ascending
		}
		if q.order == Ascending {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})
}

// Paginate applies Start/Limit to an already-sorted slice.
func (q LogQuery) Paginate(records []record.LogRecord) []record.LogRecord {
	if q.start >= len(records) {
		return nil
	}
	end := q.start + q.limit
	if q.limit == 0 || end > len(records) {
		end = len(records)
	}
	return records[q.start:end]
}

func parseFlexibleTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	switch s {
	case "yesterday":
		return time.Now().Add(-24 * time.Hour), true
	case "today":
		return time.Now(), true
	}
	var n int
	var unit string
	if _, err := parseRelative(s, &n, &unit); err == nil {
		d, ok := relativeDuration(n, unit)
		if ok {
			return time.Now().Add(-d), true
		}
	}
	return time.Time{}, false
}

func parseRelative(s string, n *int, unit *string) (int, error) {
	var parsed int
	var u string
	var lit string
	count, err := fmt.Sscanf(s, "%d %s %s", &parsed, &u, &lit)
	if err != nil || lit != "ago" {
		return 0, errNoMatch
	}
	*n = parsed
	*unit = u
	return count, nil
}

func relativeDuration(n int, unit string) (time.Duration, bool) {
	switch unit {
	case "second", "seconds":
		return time.Duration(n) * time.Second, true
	case "minute", "minutes":
		return time.Duration(n) * time.Minute, true
	case "hour", "hours":
		return time.Duration(n) * time.Hour, true
	case "day", "days":
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}
