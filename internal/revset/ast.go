package revset

import (
	"fmt"
	"strings"
)

// Expr is a parsed revset expression.
type Expr interface {
	// Pos returns the byte offset of the expression in the source text.
	Pos() int
	String() string
}

// Name is a bare identifier: a commit id, a reference name, or an alias.
type Name struct {
	Ident string
	At    int
}

func (n *Name) Pos() int       { return n.At }
func (n *Name) String() string { return n.Ident }

// Str is a quoted literal, used for names with operator characters and for
// regex arguments.
type Str struct {
	Text string
	At   int
}

func (s *Str) Pos() int       { return s.At }
func (s *Str) String() string { return fmt.Sprintf("%q", s.Text) }

// Num is an integer literal, used by exactly().
type Num struct {
	Value int
	At    int
}

func (n *Num) Pos() int       { return n.At }
func (n *Num) String() string { return fmt.Sprintf("%d", n.Value) }

// Call is a function application.
type Call struct {
	Func string
	Args []Expr
	At   int
}

func (c *Call) Pos() int { return c.At }
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Func, strings.Join(args, ", "))
}

// BinaryOp is a set operator.
type BinaryOp int

const (
	OpUnion BinaryOp = iota // |
	OpIntersect             // &
	OpDifference            // -
)

func (op BinaryOp) String() string {
	switch op {
	case OpUnion:
		return "|"
	case OpIntersect:
		return "&"
	}
	return "-"
}

// Binary combines two sub-expressions with a set operator.
type Binary struct {
	Op   BinaryOp
	L, R Expr
	At   int
}

func (b *Binary) Pos() int { return b.At }
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.L, b.Op, b.R)
}

// Range is the `a::b` operator. A nil L means `::b` (ancestors of b); a nil
// R means `a::` (descendants of a).
type Range struct {
	L, R Expr // either may be nil, not both
	At   int
}

func (r *Range) Pos() int { return r.At }
func (r *Range) String() string {
	l, rr := "", ""
	if r.L != nil {
		l = r.L.String()
	}
	if r.R != nil {
		rr = r.R.String()
	}
	return fmt.Sprintf("(%s::%s)", l, rr)
}
