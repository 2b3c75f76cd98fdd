// Package condition implements the restricted boolean expression language
// used by template `if` gates.
//
// The language is deliberately tiny: equality and inequality over value-store
// lookups and literals, combined with !, && and || and parentheses. There is
// no function application and no code execution, so a definition's gates can
// be audited statically. Expressions are parsed once into a tagged-variant
// AST and evaluated by plain recursion.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Lookup resolves an identifier against the pipeline's bound values.
// The second return reports whether the identifier is present at all.
type Lookup func(id string) (string, bool)

// Expr is a parsed condition expression.
type Expr struct {
	root node
	src  string
}

// String returns the original expression source.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against the given lookup.
func (e *Expr) Eval(lookup Lookup) (bool, error) {
	if e == nil || e.root == nil {
		return true, nil
	}
	return e.root.eval(lookup)
}

// Idents returns every identifier the expression references, in source
// order, without duplicates. Used for structural validation of definitions.
func (e *Expr) Idents() []string {
	if e == nil || e.root == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	e.root.idents(func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	})
	return out
}

// node is the tagged-variant AST.
type node interface {
	eval(lookup Lookup) (bool, error)
	idents(visit func(string))
}

type orNode struct{ left, right node }

func (n orNode) eval(l Lookup) (bool, error) {
	v, err := n.left.eval(l)
	if err != nil {
		return false, err
	}
	if v {
		return true, nil
	}
	return n.right.eval(l)
}

func (n orNode) idents(visit func(string)) {
	n.left.idents(visit)
	n.right.idents(visit)
}

type andNode struct{ left, right node }

func (n andNode) eval(l Lookup) (bool, error) {
	v, err := n.left.eval(l)
	if err != nil {
		return false, err
	}
	if !v {
		return false, nil
	}
	return n.right.eval(l)
}

func (n andNode) idents(visit func(string)) {
	n.left.idents(visit)
	n.right.idents(visit)
}

type notNode struct{ inner node }

func (n notNode) eval(l Lookup) (bool, error) {
	v, err := n.inner.eval(l)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n notNode) idents(visit func(string)) { n.inner.idents(visit) }

type cmpOp int

const (
	cmpEq cmpOp = iota
	cmpNe
)

type cmpNode struct {
	left  term
	op    cmpOp
	right term
}

func (n cmpNode) eval(l Lookup) (bool, error) {
	lv, _ := n.left.value(l)
	rv, _ := n.right.value(l)
	eq := lv == rv
	if n.op == cmpNe {
		return !eq, nil
	}
	return eq, nil
}

func (n cmpNode) idents(visit func(string)) {
	n.left.idents(visit)
	n.right.idents(visit)
}

// termNode is a bare term used as a truthiness test.
type termNode struct{ t term }

func (n termNode) eval(l Lookup) (bool, error) {
	return n.t.truthy(l), nil
}

func (n termNode) idents(visit func(string)) { n.t.idents(visit) }

type termKind int

const (
	termIdent termKind = iota
	termString
	termNumber
	termBool
)

// term is a leaf operand: a store lookup or a literal.
type term struct {
	kind termKind
	text string
	num  float64
	b    bool
}

// value renders the term as the string used for comparisons. Missing
// identifiers render as the empty string, matching the store's view of an
// unset value.
func (t term) value(l Lookup) (string, bool) {
	switch t.kind {
	case termIdent:
		return l(t.text)
	case termString:
		return t.text, true
	case termNumber:
		return strconv.FormatFloat(t.num, 'f', -1, 64), true
	case termBool:
		return strconv.FormatBool(t.b), true
	}
	return "", false
}

// truthy implements the bare-term test: unset, empty, "false" and "0" are
// false, everything else is true.
func (t term) truthy(l Lookup) bool {
	switch t.kind {
	case termBool:
		return t.b
	case termNumber:
		return t.num != 0
	}
	v, ok := t.value(l)
	if t.kind == termIdent && !ok {
		return false
	}
	return v != "" && v != "false" && v != "0"
}

func (t term) idents(visit func(string)) {
	if t.kind == termIdent {
		visit(t.text)
	}
}

// ParseError reports where in the source an expression failed to parse.
type ParseError struct {
	Src string
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition %q: %s at offset %d", e.Src, e.Msg, e.Pos)
}

// Parse parses an expression. An empty or all-whitespace source yields an
// expression that always evaluates to true.
func Parse(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return &Expr{src: src}, nil
	}

	p := &parser{src: src, toks: nil}
	if err := p.lex(); err != nil {
		return nil, err
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, p.errorf(p.toks[p.pos].pos, "unexpected token %q", p.toks[p.pos].text)
	}

	return &Expr{root: root, src: src}, nil
}
