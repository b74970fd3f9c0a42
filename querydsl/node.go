package querydsl

// LogicalOperator joins child predicates.
type LogicalOperator int

const (
	And LogicalOperator = iota
	Or
)

// QueryNode evaluates against a whole record's tree.
type QueryNode interface {
	Evaluate(value any) bool
}

// QueryLogicNode is an AND/OR over a list of top-level QueryNodes.
type QueryLogicNode struct {
	Operator LogicalOperator
	Children []QueryNode
}

// NewQueryLogicNode builds an empty logic node for the given operator.
func NewQueryLogicNode(op LogicalOperator) QueryLogicNode {
	return QueryLogicNode{Operator: op}
}

// WithNode appends a child and returns the updated node (builder-style).
func (n QueryLogicNode) WithNode(node QueryNode) QueryLogicNode {
	n.Children = append(n.Children, node)
	return n
}

// Evaluate implements QueryNode: AND requires every child true
// (short-circuit), OR requires any child true.
func (n QueryLogicNode) Evaluate(value any) bool {
	switch n.Operator {
	case And:
		for _, c := range n.Children {
			if !c.Evaluate(value) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n.Children {
			if c.Evaluate(value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// FieldNode evaluates against the value extracted for one field path.
type FieldNode interface {
	Evaluate(fieldValue any) bool
}

// FieldComparison is a Comparator applied to one field's extracted value.
type FieldComparison struct {
	Comparator Comparator
	Value      QueryValue
}

// Gt, Lt, Eq build the three comparators the JSON surface syntax recognizes
// directly; other comparators are built by constructing a FieldComparison
// literal.
func Gt(value QueryValue) FieldComparison { return FieldComparison{Comparator: GreaterThan, Value: value} }
func Lt(value QueryValue) FieldComparison { return FieldComparison{Comparator: LessThan, Value: value} }
func Eq(value QueryValue) FieldComparison { return FieldComparison{Comparator: Equals, Value: value} }

// Evaluate implements FieldNode.
func (f FieldComparison) Evaluate(fieldValue any) bool {
	v := f.Value
	return f.Comparator.Compare(fieldValue, &v)
}

// FieldLogic is an AND/OR over FieldNodes, composed within a single field
// (it evaluates each child against the same extracted field value — logic
// composes within a field, not across fields).
type FieldLogic struct {
	Operator   LogicalOperator
	Conditions []FieldNode
}

// NewFieldLogic builds an empty field-logic node.
func NewFieldLogic(op LogicalOperator) FieldLogic {
	return FieldLogic{Operator: op}
}

// WithNode appends a child condition.
func (f FieldLogic) WithNode(node FieldNode) FieldLogic {
	f.Conditions = append(f.Conditions, node)
	return f
}

// Evaluate implements FieldNode.
func (f FieldLogic) Evaluate(fieldValue any) bool {
	switch f.Operator {
	case And:
		for _, c := range f.Conditions {
			if !c.Evaluate(fieldValue) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range f.Conditions {
			if c.Evaluate(fieldValue) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// FieldQueryNode extracts a path's value from a record tree and evaluates a
// FieldNode against it.
type FieldQueryNode struct {
	Path FieldPath
	Node FieldNode
}

// NewFieldQueryNode builds a FieldQueryNode over the given compiled path.
func NewFieldQueryNode(path FieldPath, node FieldNode) FieldQueryNode {
	return FieldQueryNode{Path: path, Node: node}
}

// Evaluate implements QueryNode: extract the path's value from value; if
// the path yields nothing, the node fails to match.
func (n FieldQueryNode) Evaluate(value any) bool {
	fieldValue, ok := n.Path.Extract(value)
	if !ok {
		return false
	}
	return n.Node.Evaluate(fieldValue)
}
