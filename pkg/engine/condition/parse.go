package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokEq
	tokNe
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	b    bool
	pos  int
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) errorf(pos int, format string, args ...interface{}) error {
	return &ParseError{Src: p.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) lex() error {
	src := p.src
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			p.toks = append(p.toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			p.toks = append(p.toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				p.toks = append(p.toks, token{kind: tokNe, text: "!=", pos: i})
				i += 2
			} else {
				p.toks = append(p.toks, token{kind: tokNot, text: "!", pos: i})
				i++
			}
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				p.toks = append(p.toks, token{kind: tokEq, text: "==", pos: i})
				i += 2
			} else {
				return p.errorf(i, "single '=' is not valid, use '=='")
			}
		case c == '&':
			if i+1 < len(src) && src[i+1] == '&' {
				p.toks = append(p.toks, token{kind: tokAnd, text: "&&", pos: i})
				i += 2
			} else {
				return p.errorf(i, "single '&' is not valid, use '&&'")
			}
		case c == '|':
			if i+1 < len(src) && src[i+1] == '|' {
				p.toks = append(p.toks, token{kind: tokOr, text: "||", pos: i})
				i += 2
			} else {
				return p.errorf(i, "single '|' is not valid, use '||'")
			}
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return p.errorf(i, "unterminated string literal")
			}
			p.toks = append(p.toks, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return p.errorf(i, "invalid number %q", src[i:j])
			}
			p.toks = append(p.toks, token{kind: tokNumber, text: src[i:j], num: num, pos: i})
			i = j
		case isIdentStart(rune(c)):
			j := i + 1
			for j < len(src) && isIdentPart(rune(src[j])) {
				j++
			}
			word := src[i:j]
			switch word {
			case "true":
				p.toks = append(p.toks, token{kind: tokBool, text: word, b: true, pos: i})
			case "false":
				p.toks = append(p.toks, token{kind: tokBool, text: word, b: false, pos: i})
			default:
				p.toks = append(p.toks, token{kind: tokIdent, text: word, pos: i})
			}
			i = j
		default:
			return p.errorf(i, "unexpected character %q", string(c))
		}
	}
	return nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokNot {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.errorf(len(p.src), "unexpected end of expression")
	}

	if tok.kind == tokLParen {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, p.errorf(tok.pos, "missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	next, ok := p.peek()
	if ok && (next.kind == tokEq || next.kind == tokNe) {
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		op := cmpEq
		if next.kind == tokNe {
			op = cmpNe
		}
		return cmpNode{left: left, op: op, right: right}, nil
	}

	return termNode{t: left}, nil
}

func (p *parser) parseTerm() (term, error) {
	tok, ok := p.peek()
	if !ok {
		return term{}, p.errorf(len(p.src), "expected a value")
	}
	p.pos++
	switch tok.kind {
	case tokIdent:
		return term{kind: termIdent, text: tok.text}, nil
	case tokString:
		return term{kind: termString, text: tok.text}, nil
	case tokNumber:
		return term{kind: termNumber, text: tok.text, num: tok.num}, nil
	case tokBool:
		return term{kind: termBool, text: tok.text, b: tok.b}, nil
	default:
		return term{}, p.errorf(tok.pos, "expected a value, got %q", tok.text)
	}
}
