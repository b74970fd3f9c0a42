package querydsl

import (
	"fmt"
	"strconv"
	"strings"

	"logtransport/errs"
)

// SegmentKind discriminates a PathSegment.
type SegmentKind int

const (
	FieldSegment SegmentKind = iota
	WildcardSegment
	ArrayIndexSegment
	ArrayWildcardSegment
)

// PathSegment is one step of a compiled FieldPath.
type PathSegment struct {
	Kind  SegmentKind
	Name  string
	Index int
}

// FieldPath is a compiled dotted/indexed accessor into a JSON-like tree.
//
//	path     := segment ('.' segment)*
//	segment  := name | '*' | name '[' index ']' ('[' index ']')*
//	index    := digits | '*'
type FieldPath struct {
	Segments []PathSegment
}

// ParseFieldPath compiles the string form of a field path.
func ParseFieldPath(path string) (FieldPath, error) {
	var segments []PathSegment
	for _, part := range strings.Split(path, ".") {
		if !strings.Contains(part, "[") {
			if part == "*" {
				segments = append(segments, PathSegment{Kind: WildcardSegment})
			} else {
				segments = append(segments, PathSegment{Kind: FieldSegment, Name: part})
			}
			continue
		}
		for _, piece := range strings.Split(part, "[") {
			switch {
			case piece == "":
				continue
			case piece == "*]":
				segments = append(segments, PathSegment{Kind: ArrayWildcardSegment})
			case strings.HasSuffix(piece, "]"):
				idxStr := piece[:len(piece)-1]
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					return FieldPath{}, errs.New(errs.KindQueryParse, "querydsl", "ParseFieldPath",
						fmt.Sprintf("invalid array index %q in path %q", idxStr, path))
				}
				segments = append(segments, PathSegment{Kind: ArrayIndexSegment, Index: idx})
			default:
				segments = append(segments, PathSegment{Kind: FieldSegment, Name: piece})
			}
		}
	}
	return FieldPath{Segments: segments}, nil
}

// MustParseFieldPath is ParseFieldPath for call sites building paths from
// string literals; it panics on malformed input.
func MustParseFieldPath(path string) FieldPath {
	fp, err := ParseFieldPath(path)
	if err != nil {
		panic(err)
	}
	return fp
}

// Extract walks value along the path. It returns (nil, false) if any
// segment yields no matches. A single match is returned unwrapped; multiple
// matches (from a wildcard) are returned as a []any.
func (p FieldPath) Extract(value any) (any, bool) {
	refs := p.ExtractRefs(value)
	switch len(refs) {
	case 0:
		return nil, false
	case 1:
		return refs[0], true
	default:
		return refs, true
	}
}

// ExtractRefs walks value along the path and returns every match without
// collapsing single-element results, for hot-path evaluation where an
// intervening copy isn't wanted.
func (p FieldPath) ExtractRefs(value any) []any {
	current := []any{value}
	for _, seg := range p.Segments {
		var next []any
		for _, cur := range current {
			switch seg.Kind {
			case FieldSegment:
				if obj, ok := cur.(map[string]any); ok {
					if v, ok := obj[seg.Name]; ok {
						next = append(next, v)
					}
				}
			case WildcardSegment:
				if obj, ok := cur.(map[string]any); ok {
					for _, v := range obj {
						next = append(next, v)
					}
				}
			case ArrayIndexSegment:
				if arr, ok := cur.([]any); ok && seg.Index >= 0 && seg.Index < len(arr) {
					next = append(next, arr[seg.Index])
				}
			case ArrayWildcardSegment:
				if arr, ok := cur.([]any); ok {
					next = append(next, arr...)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}
