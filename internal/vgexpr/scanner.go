package vgexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokPunct
)

type token struct {
	kind tokenKind
	text string // punctuation or identifier text, decoded string value
	num  float64
	pos  int
}

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression syntax error at offset %d: %s", e.Pos, e.Message)
}

// punctuators ordered longest first so the scanner is greedy.
var punctuators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||",
	"(", ")", "[", "]", ".", ",", "?", ":",
	"!", "+", "-", "*", "/", "%", "<", ">",
}

type scanner struct {
	src string
	off int
}

func (s *scanner) next() (token, error) {
	s.skipSpace()
	if s.off >= len(s.src) {
		return token{kind: tokEOF, pos: s.off}, nil
	}

	start := s.off
	c := s.src[s.off]

	switch {
	case c == '"' || c == '\'':
		return s.scanString(c)
	case isDigit(c) || (c == '.' && s.off+1 < len(s.src) && isDigit(s.src[s.off+1])):
		return s.scanNumber()
	case c == '_' || c == '$' || isLetter(s.src[s.off:]):
		for s.off < len(s.src) {
			r, size := utf8.DecodeRuneInString(s.src[s.off:])
			if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			s.off += size
		}
		return token{kind: tokIdent, text: s.src[start:s.off], pos: start}, nil
	}

	for _, p := range punctuators {
		if strings.HasPrefix(s.src[s.off:], p) {
			s.off += len(p)
			return token{kind: tokPunct, text: p, pos: start}, nil
		}
	}

	return token{}, &SyntaxError{Pos: start, Message: fmt.Sprintf("unexpected character %q", c)}
}

func (s *scanner) skipSpace() {
	for s.off < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.off:])
		if !unicode.IsSpace(r) {
			return
		}
		s.off += size
	}
}

func (s *scanner) scanNumber() (token, error) {
	start := s.off
	for s.off < len(s.src) && (isDigit(s.src[s.off]) || s.src[s.off] == '.') {
		s.off++
	}
	if s.off < len(s.src) && (s.src[s.off] == 'e' || s.src[s.off] == 'E') {
		s.off++
		if s.off < len(s.src) && (s.src[s.off] == '+' || s.src[s.off] == '-') {
			s.off++
		}
		for s.off < len(s.src) && isDigit(s.src[s.off]) {
			s.off++
		}
	}
	text := s.src[start:s.off]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, &SyntaxError{Pos: start, Message: fmt.Sprintf("invalid number %q", text)}
	}
	return token{kind: tokNumber, text: text, num: f, pos: start}, nil
}

func (s *scanner) scanString(quote byte) (token, error) {
	start := s.off
	s.off++ // opening quote

	var b strings.Builder
	for s.off < len(s.src) {
		c := s.src[s.off]
		switch {
		case c == quote:
			s.off++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		case c == '\\':
			if s.off+1 >= len(s.src) {
				return token{}, &SyntaxError{Pos: s.off, Message: "unterminated escape"}
			}
			esc := s.src[s.off+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			s.off += 2
		default:
			b.WriteByte(c)
			s.off++
		}
	}
	return token{}, &SyntaxError{Pos: start, Message: "unterminated string"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}
