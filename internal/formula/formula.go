// Package formula evaluates the restricted arithmetic expression language
// used by formula-driven rate details.
//
// The grammar is deliberately tiny: decimal literals, variable identifiers,
// the four arithmetic operators, unary minus, and parentheses. Any other
// token is rejected at parse time. There are no function calls, no
// conditionals and no access to anything outside the supplied variable map,
// which makes the evaluator safe to run against administrator-authored
// formula text.
package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind discriminates evaluation failures.
type ErrorKind string

const (
	KindSyntax          ErrorKind = "SyntaxError"
	KindUnknownVariable ErrorKind = "UnknownVariable"
	KindDivisionByZero  ErrorKind = "DivisionByZero"
)

// Error is a typed formula evaluation failure.
type Error struct {
	Kind ErrorKind
	Pos  int    // byte offset into the formula text, where known
	Msg  string // human-readable detail
}

func (e *Error) Error() string {
	return fmt.Sprintf("formula error (%s) at position %d: %s", e.Kind, e.Pos, e.Msg)
}

func syntaxErr(pos int, format string, args ...any) *Error {
	return &Error{Kind: KindSyntax, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Expr is a parsed formula, reusable across evaluations. Parsing once and
// evaluating against many variable maps is how the formula test endpoint
// runs sample contexts.
type Expr struct {
	text string
	root node
	vars []string
}

// Text returns the original formula text.
func (e *Expr) Text() string { return e.text }

// Vars returns the distinct variable names referenced, in first-use order.
func (e *Expr) Vars() []string { return e.vars }

// Eval computes the formula against the variable map. Pure: no side
// effects, same inputs always yield the same output.
func (e *Expr) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	return e.root.eval(vars)
}

// Parse tokenizes and parses formula text into a reusable expression.
func Parse(text string) (*Expr, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxErr(tok.pos, "unexpected %q", tok.text)
	}

	return &Expr{text: text, root: root, vars: collectVars(root)}, nil
}

// Evaluate parses and evaluates in one step.
func Evaluate(text string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	expr, err := Parse(text)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

// node is one vertex of the parsed expression tree.
type node interface {
	eval(vars map[string]decimal.Decimal) (decimal.Decimal, error)
}

type literalNode struct {
	value decimal.Decimal
}

func (n *literalNode) eval(map[string]decimal.Decimal) (decimal.Decimal, error) {
	return n.value, nil
}

type varNode struct {
	name string
	pos  int
}

func (n *varNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, ok := vars[n.name]
	if !ok {
		return decimal.Zero, &Error{Kind: KindUnknownVariable, Pos: n.pos, Msg: fmt.Sprintf("unknown variable %q", n.name)}
	}
	return v, nil
}

type unaryNode struct {
	operand node
}

func (n *unaryNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

type binaryNode struct {
	op    tokenKind
	pos   int
	left  node
	right node
}

func (n *binaryNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}

	switch n.op {
	case tokPlus:
		return l.Add(r), nil
	case tokMinus:
		return l.Sub(r), nil
	case tokStar:
		return l.Mul(r), nil
	case tokSlash:
		if r.IsZero() {
			return decimal.Zero, &Error{Kind: KindDivisionByZero, Pos: n.pos, Msg: "division by zero"}
		}
		return l.Div(r), nil
	}
	return decimal.Zero, syntaxErr(n.pos, "unexpected operator")
}

// parser is a recursive-descent parser over the token stream.
//
//	expr   := term (('+'|'-') term)*
//	term   := factor (('*'|'/') factor)*
//	factor := '-' factor | NUMBER | IDENT | '(' expr ')'
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) parseFactor() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokMinus:
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil

	case tokNumber:
		value, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, syntaxErr(tok.pos, "invalid number %q", tok.text)
		}
		return &literalNode{value: value}, nil

	case tokIdent:
		return &varNode{name: tok.text, pos: tok.pos}, nil

	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, syntaxErr(closing.pos, "expected closing parenthesis")
		}
		return inner, nil

	case tokEOF:
		return nil, syntaxErr(tok.pos, "unexpected end of formula")
	}
	return nil, syntaxErr(tok.pos, "unexpected %q", tok.text)
}

func collectVars(root node) []string {
	seen := make(map[string]bool)
	var names []string

	var walk func(n node)
	walk = func(n node) {
		switch v := n.(type) {
		case *varNode:
			if !seen[v.name] {
				seen[v.name] = true
				names = append(names, v.name)
			}
		case *unaryNode:
			walk(v.operand)
		case *binaryNode:
			walk(v.left)
			walk(v.right)
		}
	}
	walk(root)
	return names
}
