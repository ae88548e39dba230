package vgexpr

import "fmt"

// binaryPrecedence lists infix operators, higher binds tighter.
var binaryPrecedence = map[string]int{
	"||":  1,
	"&&":  2,
	"==":  3,
	"!=":  3,
	"===": 3,
	"!==": 3,
	"<":   4,
	"<=":  4,
	">":   4,
	">=":  4,
	"+":   5,
	"-":   5,
	"*":   6,
	"/":   6,
	"%":   6,
}

// Parse parses a single expression.
// The whole input must be consumed; trailing tokens are a *SyntaxError.
func Parse(src string) (Node, error) {
	p := &parser{sc: &scanner{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Message: "empty expression"}
	}

	n, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q after expression", p.tok.text)
	}
	return n, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with constant input.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	sc  *scanner
	tok token
}

func (p *parser) advance() error {
	tok, err := p.sc.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) isPunct(text string) bool {
	return p.tok.kind == tokPunct && p.tok.text == text
}

func (p *parser) expect(text string) error {
	if !p.isPunct(text) {
		if p.tok.kind == tokEOF {
			return p.errorf("expected %q, found end of expression", text)
		}
		return p.errorf("expected %q, found %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) parseConditional() (Node, error) {
	test, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if !p.isPunct("?") {
		return test, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return Conditional{Test: test, Then: then, Else: els}, nil
}

func (p *parser) parseBinary(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.tok.kind == tokPunct {
		op := p.tok.text
		prec, ok := binaryPrecedence[op]
		if !ok || prec < minPrec {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isPunct("!") || p.isPunct("-") || p.isPunct("+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.isPunct("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokIdent {
				return nil, p.errorf("expected property name after '.'")
			}
			n = Member{Object: n, Property: p.tok.text}
			if err := p.advance(); err != nil {
				return nil, err
			}

		case p.isPunct("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = memberOrIndex(n, key)

		case p.isPunct("("):
			id, ok := n.(Ident)
			if !ok {
				return nil, p.errorf("only named functions can be called")
			}
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			n = Call{Callee: id.Name, Args: args}

		default:
			return n, nil
		}
	}
}

// memberOrIndex folds constant keys into a static Member access.
func memberOrIndex(obj, key Node) Node {
	if lit, ok := key.(Literal); ok {
		switch v := lit.Value.(type) {
		case string:
			return Member{Object: obj, Property: v}
		case float64:
			return Member{Object: obj, Property: formatIndex(v)}
		}
	}
	return Index{Object: obj, Key: key}
}

func formatIndex(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{Value: tok.num}, nil

	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{Value: tok.text}, nil

	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch tok.text {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "null":
			return Literal{Value: nil}, nil
		}
		return Ident{Name: tok.text}, nil

	case tokPunct:
		switch tok.text {
		case "(":
			if err := p.advance(); err != nil {
				return nil, err
			}
			n, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		case "[":
			elems, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return Array{Elems: elems}, nil
		}
		return nil, p.errorf("unexpected %q", tok.text)

	default:
		return nil, p.errorf("unexpected end of expression")
	}
}

// parseList parses a comma separated list; the current token is the opener.
func (p *parser) parseList(closer string) ([]Node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	var items []Node
	if p.isPunct(closer) {
		return items, p.advance()
	}
	for {
		item, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.expect(closer); err != nil {
			return nil, err
		}
		return items, nil
	}
}
