package revset

import "fmt"

// ParseError reports malformed revset text with the byte offset of the
// offending token.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPipe
	tokAmp
	tokMinus
	tokLParen
	tokRParen
	tokComma
	tokRange // ::
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer tokenizes revset text. Bare identifiers cover commit ids, reference
// names, and alias/function names; names containing operator characters
// must be quoted.
type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			l.pos++
		case c == '|':
			l.emit(tokPipe, "|")
		case c == '&':
			l.emit(tokAmp, "&")
		case c == '-':
			l.emit(tokMinus, "-")
		case c == '(':
			l.emit(tokLParen, "(")
		case c == ')':
			l.emit(tokRParen, ")")
		case c == ',':
			l.emit(tokComma, ",")
		case c == ':':
			if l.pos+1 >= len(l.src) || l.src[l.pos+1] != ':' {
				return nil, &ParseError{Pos: l.pos, Msg: "expected '::'"}
			}
			l.toks = append(l.toks, token{kind: tokRange, text: "::", pos: l.pos})
			l.pos += 2
		case c == '"' || c == '\'':
			if err := l.lexString(c); err != nil {
				return nil, err
			}
		case c >= '0' && c <= '9' || isIdentChar(c):
			l.lexWord()
		default:
			return nil, &ParseError{Pos: l.pos, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	l.toks = append(l.toks, token{kind: tokEOF, pos: len(l.src)})
	return l.toks, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: l.pos})
	l.pos++
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++
	var out []byte
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			l.toks = append(l.toks, token{kind: tokString, text: string(out), pos: start})
			return nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			c = l.src[l.pos]
		}
		out = append(out, c)
		l.pos++
	}
	return &ParseError{Pos: start, Msg: "unterminated string"}
}

func (l *lexer) lexWord() {
	start := l.pos
	allDigits := true
	for l.pos < len(l.src) && (isIdentChar(l.src[l.pos]) || l.src[l.pos] >= '0' && l.src[l.pos] <= '9') {
		if l.src[l.pos] < '0' || l.src[l.pos] > '9' {
			allDigits = false
		}
		l.pos++
	}
	text := l.src[start:l.pos]
	kind := tokIdent
	if allDigits {
		kind = tokNumber
	}
	l.toks = append(l.toks, token{kind: kind, text: text, pos: start})
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '.' || c == '/'
}
