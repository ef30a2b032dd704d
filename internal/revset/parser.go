package revset

import (
	"fmt"
	"strconv"
)

// Parse parses revset text into an expression tree. Precedence, loosest
// first: `|`, then `&` and `-` (left associative), then `::`.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
	return expr, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }
func (p *parser) next() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) parseUnion() (Expr, error) {
	left, err := p.parseIntersect()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPipe {
		op := p.next()
		right, err := p.parseIntersect()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpUnion, L: left, R: right, At: op.pos}
	}
	return left, nil
}

func (p *parser) parseIntersect() (Expr, error) {
	left, err := p.parseRange()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokAmp:
			op := p.next()
			right, err := p.parseRange()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: OpIntersect, L: left, R: right, At: op.pos}
		case tokMinus:
			op := p.next()
			right, err := p.parseRange()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: OpDifference, L: left, R: right, At: op.pos}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseRange() (Expr, error) {
	if p.peek().kind == tokRange {
		op := p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Range{R: right, At: op.pos}, nil
	}
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokRange {
		return left, nil
	}
	op := p.next()
	if !p.startsPrimary() {
		return &Range{L: left, At: op.pos}, nil
	}
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &Range{L: left, R: right, At: op.pos}, nil
}

func (p *parser) startsPrimary() bool {
	switch p.peek().kind {
	case tokIdent, tokString, tokNumber, tokLParen:
		return true
	}
	return false
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		expr, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &ParseError{Pos: closing.pos, Msg: "expected ')'"}
		}
		return expr, nil
	case tokString:
		return &Str{Text: tok.text, At: tok.pos}, nil
	case tokNumber:
		n, err := strconv.Atoi(tok.text)
		if err != nil {
			return nil, &ParseError{Pos: tok.pos, Msg: "invalid number"}
		}
		return &Num{Value: n, At: tok.pos}, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return &Name{Ident: tok.text, At: tok.pos}, nil
		}
		p.next() // consume '('
		call := &Call{Func: tok.text, At: tok.pos}
		if p.peek().kind == tokRParen {
			p.next()
			return call, nil
		}
		for {
			arg, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			sep := p.next()
			if sep.kind == tokRParen {
				return call, nil
			}
			if sep.kind != tokComma {
				return nil, &ParseError{Pos: sep.pos, Msg: "expected ',' or ')'"}
			}
		}
	case tokEOF:
		return nil, &ParseError{Pos: tok.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}
