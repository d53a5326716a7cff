package docstore

// Op is a comparison operator in a filter clause.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpLt  Op = "lt"
	OpGe  Op = "ge"
	OpLe  Op = "le"
	OpIn  Op = "in"
	OpNin Op = "nin"
	// OpExists matches documents where the attribute is present and non-null
	// (value true) or absent/null (value false).
	OpExists Op = "exists"
)

// Clause compares one attribute against a value. For OpIn/OpNin the value
// must be a []interface{} (or []string, normalized by the backend).
type Clause struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter selects documents. All clauses must match (conjunction); when Any
// is non-empty, at least one of its clauses must match as well (disjunction
// AND-ed onto the conjunction). The zero Filter matches everything.
type Filter struct {
	All []Clause
	Any []Clause
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.All) == 0 && len(f.Any) == 0
}

// Where starts a conjunctive filter with one equality clause.
func Where(field string, value interface{}) Filter {
	return Filter{All: []Clause{{Field: field, Op: OpEq, Value: value}}}
}

// ByID selects one document by system id.
func ByID(id string) Filter {
	return Where(IDField, id)
}

// And appends a clause to the conjunction.
func (f Filter) And(field string, op Op, value interface{}) Filter {
	f.All = append(f.All, Clause{Field: field, Op: op, Value: value})
	return f
}

// Or appends a clause to the disjunction group.
func (f Filter) Or(field string, op Op, value interface{}) Filter {
	f.Any = append(f.Any, Clause{Field: field, Op: op, Value: value})
	return f
}

// EqualityDoc extracts the conjunction's equality clauses as a document.
// Used by upserts to seed inserted documents with their key attributes.
func (f Filter) EqualityDoc() Document {
	doc := make(Document)
	for _, c := range f.All {
		if c.Op == OpEq {
			doc[c.Field] = c.Value
		}
	}
	return doc
}
