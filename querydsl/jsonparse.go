package querydsl

import (
	"encoding/json"
	"fmt"

	"logtransport/errs"
)

// defaultCache memoizes the FieldPath and regex compilation performed while
// parsing JSON query documents. Field paths and regex patterns repeat
// heavily across queries issued against the same handful of record shapes,
// so every call into this package shares one cache rather than recompiling
// on every parse.
var defaultCache = NewCompileCache()

// ParseJSON compiles the JSON surface syntax (§ JSON query format) into a
// QueryNode. Unlike the reference implementation this never panics on an
// unrecognized operator: it returns an errs.KindQueryParse error naming
// the offending token.
func ParseJSON(raw []byte) (QueryNode, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(errs.KindQueryParse, "querydsl", "ParseJSON", err)
	}
	return parseQueryDoc(doc)
}

// ParseJSONValue compiles an already-decoded document (e.g. a sub-object
// extracted from a larger JSON payload) into a QueryNode.
func ParseJSONValue(doc map[string]any) (QueryNode, error) {
	return parseQueryDoc(doc)
}

func parseQueryDoc(doc map[string]any) (QueryNode, error) {
	if len(doc) != 1 {
		return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
			fmt.Sprintf("expected exactly one key per query object, got %d", len(doc)))
	}
	for key, val := range doc {
		switch key {
		case "$and", "$or":
			children, err := parseQueryChildren(val)
			if err != nil {
				return nil, err
			}
			return QueryLogicNode{Operator: logicalOperatorFor(key), Children: children}, nil
		default:
			path, err := defaultCache.FieldPath(key)
			if err != nil {
				return nil, err
			}
			opDoc, ok := val.(map[string]any)
			if !ok {
				return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
					fmt.Sprintf("field %q must map to an operator object", key))
			}
			node, err := parseFieldNode(opDoc)
			if err != nil {
				return nil, err
			}
			return FieldQueryNode{Path: path, Node: node}, nil
		}
	}
	panic("unreachable")
}

func parseQueryChildren(val any) ([]QueryNode, error) {
	arr, ok := val.([]any)
	if !ok {
		return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
			"logical operator value must be an array")
	}
	children := make([]QueryNode, 0, len(arr))
	for _, sub := range arr {
		subDoc, ok := sub.(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
				"logical operator array elements must be objects")
		}
		child, err := parseQueryDoc(subDoc)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func parseFieldNode(doc map[string]any) (FieldNode, error) {
	if len(doc) != 1 {
		return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
			fmt.Sprintf("expected a single operator in field query, got %d", len(doc)))
	}
	for op, val := range doc {
		switch op {
		case "$and", "$or":
			arr, ok := val.([]any)
			if !ok {
				return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
					"logical operator value must be an array")
			}
			logic := NewFieldLogic(logicalOperatorFor(op))
			for _, sub := range arr {
				subDoc, ok := sub.(map[string]any)
				if !ok {
					return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
						"expected object in logical sub-condition array")
				}
				child, err := parseFieldNode(subDoc)
				if err != nil {
					return nil, err
				}
				logic = logic.WithNode(child)
			}
			return logic, nil
		case "$eq":
			return Eq(FromJSON(val)), nil
		case "$gt":
			return Gt(FromJSON(val)), nil
		case "$lt":
			return Lt(FromJSON(val)), nil
		case "$regex":
			pattern, ok := val.(string)
			if !ok {
				return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
					"$regex value must be a string")
			}
			re, err := defaultCache.Regex(pattern)
			if err != nil {
				return nil, errs.Wrap(errs.KindRegexCompile, "querydsl", "ParseJSON", err).
					WithMetadata("pattern", pattern)
			}
			return FieldComparison{Comparator: Matches, Value: RegexValue(re)}, nil
		default:
			return nil, errs.New(errs.KindQueryParse, "querydsl", "ParseJSON",
				fmt.Sprintf("unknown field operator %q", op))
		}
	}
	panic("unreachable")
}

func logicalOperatorFor(token string) LogicalOperator {
	if token == "$or" {
		return Or
	}
	return And
}
