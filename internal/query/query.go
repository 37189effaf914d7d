// Package query implements the predicate language used to select job
// documents. Predicates have a Mongo-style wire form and can be evaluated
// in-process against decoded documents.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// Operators of the wire form.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
	OpAnd    = "$and"
	OpOr     = "$or"
)

// Predicate selects job documents.
type Predicate interface {
	// Match reports whether doc satisfies the predicate.
	Match(doc map[string]any) bool
	// Document returns the wire form.
	Document() map[string]any
}

// Cond is a single operator applied to a dotted document path.
type Cond struct {
	Path  string
	Op    string
	Value any
}

// Eq matches documents whose value at path equals v, or whose list at path contains v.
func Eq(path string, v any) Cond { return Cond{Path: path, Op: OpEq, Value: v} }

// Ne is the negation of Eq. A missing path matches.
func Ne(path string, v any) Cond { return Cond{Path: path, Op: OpNe, Value: v} }

// Lt matches values below v. Missing or incomparable values never match.
func Lt(path string, v any) Cond { return Cond{Path: path, Op: OpLt, Value: v} }

// Lte matches values at or below v.
func Lte(path string, v any) Cond { return Cond{Path: path, Op: OpLte, Value: v} }

// Gt matches values above v.
func Gt(path string, v any) Cond { return Cond{Path: path, Op: OpGt, Value: v} }

// Gte matches values at or above v.
func Gte(path string, v any) Cond { return Cond{Path: path, Op: OpGte, Value: v} }

// In matches when Eq would match any of vals.
func In(path string, vals ...any) Cond { return Cond{Path: path, Op: OpIn, Value: vals} }

// Nin matches when Eq matches none of vals. A missing path matches.
func Nin(path string, vals ...any) Cond { return Cond{Path: path, Op: OpNin, Value: vals} }

// Exists matches when the presence of path equals exists.
func Exists(path string, exists bool) Cond {
	return Cond{Path: path, Op: OpExists, Value: exists}
}

// Match implements Predicate.
func (c Cond) Match(doc map[string]any) bool {
	v, found := Lookup(doc, c.Path)
	switch c.Op {
	case OpExists:
		want, _ := c.Value.(bool)
		return found == want
	case OpEq:
		return equalOrContains(v, found, c.Value)
	case OpNe:
		return !equalOrContains(v, found, c.Value)
	case OpIn:
		for _, want := range toList(c.Value) {
			if equalOrContains(v, found, want) {
				return true
			}
		}
		return false
	case OpNin:
		for _, want := range toList(c.Value) {
			if equalOrContains(v, found, want) {
				return false
			}
		}
		return true
	case OpLt, OpLte, OpGt, OpGte:
		if !found {
			return false
		}
		cmp, ok := compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	}
	return false
}

// Document implements Predicate.
func (c Cond) Document() map[string]any {
	return map[string]any{c.Path: map[string]any{c.Op: c.Value}}
}

// AndPred matches when every child matches. An empty AndPred matches everything.
type AndPred []Predicate

// OrPred matches when any child matches. An empty OrPred matches nothing.
type OrPred []Predicate

// And combines predicates conjunctively, flattening nested conjunctions.
func And(ps ...Predicate) AndPred {
	out := AndPred{}
	for _, p := range ps {
		if inner, ok := p.(AndPred); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Or combines predicates disjunctively.
func Or(ps ...Predicate) OrPred {
	return OrPred(ps)
}

// All matches every document.
func All() Predicate { return AndPred{} }

func (a AndPred) Match(doc map[string]any) bool {
	for _, p := range a {
		if !p.Match(doc) {
			return false
		}
	}
	return true
}

func (a AndPred) Document() map[string]any {
	if len(a) == 0 {
		return map[string]any{}
	}
	return map[string]any{OpAnd: documents(a)}
}

func (o OrPred) Match(doc map[string]any) bool {
	for _, p := range o {
		if p.Match(doc) {
			return true
		}
	}
	return false
}

func (o OrPred) Document() map[string]any {
	return map[string]any{OpOr: documents(o)}
}

func documents(ps []Predicate) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = p.Document()
	}
	return out
}

// FromDocument parses the wire form. A field mapped to a plain value means
// equality; a field mapped to an operator object yields one Cond per operator.
func FromDocument(doc map[string]any) (Predicate, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Predicate
	for _, key := range keys {
		val := doc[key]
		switch key {
		case OpAnd, OpOr:
			children, err := fromList(key, val)
			if err != nil {
				return nil, err
			}
			if key == OpAnd {
				parts = append(parts, And(children...))
			} else {
				parts = append(parts, Or(children...))
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("unsupported top-level operator %q", key)
		}
		ops, ok := val.(map[string]any)
		if !ok || !isOperatorObject(ops) {
			parts = append(parts, Eq(key, val))
			continue
		}
		opKeys := make([]string, 0, len(ops))
		for op := range ops {
			opKeys = append(opKeys, op)
		}
		sort.Strings(opKeys)
		for _, op := range opKeys {
			cond, err := newCond(key, op, ops[op])
			if err != nil {
				return nil, err
			}
			parts = append(parts, cond)
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return And(parts...), nil
}

func fromList(op string, val any) ([]Predicate, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", op, val)
	}
	children := make([]Predicate, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not an object", op, i)
		}
		child, err := FromDocument(m)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

func isOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func newCond(path, op string, val any) (Cond, error) {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return Cond{Path: path, Op: op, Value: val}, nil
	case OpIn, OpNin:
		list, ok := val.([]any)
		if !ok {
			return Cond{}, fmt.Errorf("%s on %s expects a list, got %T", op, path, val)
		}
		return Cond{Path: path, Op: op, Value: list}, nil
	case OpExists:
		b, ok := val.(bool)
		if !ok {
			return Cond{}, fmt.Errorf("$exists on %s expects a bool, got %T", path, val)
		}
		return Exists(path, b), nil
	}
	return Cond{}, fmt.Errorf("unsupported operator %q on %s", op, path)
}
