// Package scanner tokenizes source code for the compiler to consume. It
// is a one-shot scanner over the source string, producing tokens on
// demand: the compiler pulls the next token as it needs it, there is no
// up-front token list.
package scanner

import (
	"github.com/mna/calamus/lang/token"
)

// A Token is a single lexical token. The lexeme is a slice of the source
// string, no text is copied, except for ILLEGAL tokens where the lexeme
// is the diagnostic message.
type Token struct {
	Kind   token.Token
	Lexeme string
	Line   int
}

// Scanner tokenizes a source string.
type Scanner struct {
	src     string
	start   int // start of the token being scanned
	current int // reading offset
	line    int
}

// New initializes a scanner to tokenize src.
func New(src string) *Scanner {
	return &Scanner{src: src, line: 1}
}

// Scan returns the next token in the source. Once EOF is returned, every
// subsequent call returns EOF again.
func (s *Scanner) Scan() Token {
	s.skipWhitespace()
	s.start = s.current

	if s.atEnd() {
		return s.make(token.EOF)
	}

	c := s.advance()
	switch {
	case isAlpha(c):
		return s.ident()
	case isDigit(c):
		return s.number()
	}

	switch c {
	case '(':
		return s.make(token.LPAREN)
	case ')':
		return s.make(token.RPAREN)
	case '{':
		return s.make(token.LBRACE)
	case '}':
		return s.make(token.RBRACE)
	case '[':
		return s.make(token.LBRACK)
	case ']':
		return s.make(token.RBRACK)
	case ',':
		return s.make(token.COMMA)
	case '.':
		return s.make(token.DOT)
	case '-':
		return s.make(token.MINUS)
	case '+':
		return s.make(token.PLUS)
	case ';':
		return s.make(token.SEMI)
	case ':':
		return s.make(token.COLON)
	case '*':
		return s.make(token.STAR)
	case '/':
		return s.make(token.SLASH)
	case '!':
		if s.match('=') {
			return s.make(token.BANGEQ)
		}
		return s.make(token.BANG)
	case '=':
		if s.match('=') {
			return s.make(token.EQEQ)
		}
		return s.make(token.EQ)
	case '<':
		if s.match('=') {
			return s.make(token.LE)
		}
		return s.make(token.LT)
	case '>':
		if s.match('=') {
			return s.make(token.GE)
		}
		return s.make(token.GT)
	case '"':
		return s.str()
	}
	return s.errorToken("Unexpected character.")
}

func (s *Scanner) atEnd() bool { return s.current >= len(s.src) }

func (s *Scanner) advance() byte {
	c := s.src[s.current]
	s.current++
	return c
}

// peek returns the current byte without advancing, or 0 at EOF.
func (s *Scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.src[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.src) {
		return 0
	}
	return s.src[s.current+1]
}

// match advances only if the current byte is c.
func (s *Scanner) match(c byte) bool {
	if s.atEnd() || s.src[s.current] != c {
		return false
	}
	s.current++
	return true
}

func (s *Scanner) make(kind token.Token) Token {
	return Token{Kind: kind, Lexeme: s.src[s.start:s.current], Line: s.line}
}

func (s *Scanner) errorToken(msg string) Token {
	return Token{Kind: token.ILLEGAL, Lexeme: msg, Line: s.line}
}

func (s *Scanner) skipWhitespace() {
	for {
		switch s.peek() {
		case ' ', '\r', '\t':
			s.current++
		case '\n':
			s.line++
			s.current++
		case '/':
			if s.peekNext() != '/' {
				return
			}
			// line comment, runs to end of line
			for s.peek() != '\n' && !s.atEnd() {
				s.current++
			}
		default:
			return
		}
	}
}

func (s *Scanner) ident() Token {
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.current++
	}
	return s.make(s.identKind())
}

// identKind recognizes keywords with a hand-written trie over the first
// two characters of the lexeme, falling back to a tail comparison.
func (s *Scanner) identKind() token.Token {
	lex := s.src[s.start:s.current]
	switch lex[0] {
	case 'a':
		return s.keyword(lex, 1, "nd", token.AND)
	case 'b':
		return s.keyword(lex, 1, "reak", token.BREAK)
	case 'c':
		if len(lex) > 1 {
			switch lex[1] {
			case 'a':
				return s.keyword(lex, 2, "se", token.CASE)
			case 'l':
				return s.keyword(lex, 2, "ass", token.CLASS)
			case 'o':
				return s.keyword(lex, 2, "ntinue", token.CONTINUE)
			}
		}
	case 'd':
		if len(lex) > 3 && lex[1] == 'e' && lex[2] == 'f' {
			switch lex[3] {
			case 'a':
				return s.keyword(lex, 4, "ult", token.DEFAULT)
			case 'e':
				return s.keyword(lex, 4, "r", token.DEFER)
			}
		}
	case 'e':
		return s.keyword(lex, 1, "lse", token.ELSE)
	case 'f':
		if len(lex) > 1 {
			switch lex[1] {
			case 'a':
				return s.keyword(lex, 2, "lse", token.FALSE)
			case 'o':
				return s.keyword(lex, 2, "r", token.FOR)
			case 'u':
				return s.keyword(lex, 2, "n", token.FUN)
			}
		}
	case 'i':
		return s.keyword(lex, 1, "f", token.IF)
	case 'n':
		return s.keyword(lex, 1, "il", token.NIL)
	case 'o':
		return s.keyword(lex, 1, "r", token.OR)
	case 'p':
		return s.keyword(lex, 1, "rint", token.PRINT)
	case 'r':
		return s.keyword(lex, 1, "eturn", token.RETURN)
	case 's':
		if len(lex) > 1 {
			switch lex[1] {
			case 'u':
				return s.keyword(lex, 2, "per", token.SUPER)
			case 'w':
				return s.keyword(lex, 2, "itch", token.SWITCH)
			}
		}
	case 't':
		if len(lex) > 1 {
			switch lex[1] {
			case 'h':
				return s.keyword(lex, 2, "is", token.THIS)
			case 'r':
				return s.keyword(lex, 2, "ue", token.TRUE)
			}
		}
	case 'v':
		return s.keyword(lex, 1, "ar", token.VAR)
	case 'w':
		return s.keyword(lex, 1, "hile", token.WHILE)
	}
	return token.IDENT
}

func (s *Scanner) keyword(lex string, from int, rest string, kw token.Token) token.Token {
	if lex[from:] == rest {
		return kw
	}
	return token.IDENT
}

func (s *Scanner) number() Token {
	for isDigit(s.peek()) {
		s.current++
	}
	// fractional part, only if a digit follows the dot
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.current++
		for isDigit(s.peek()) {
			s.current++
		}
	}
	return s.make(token.NUMBER)
}

func (s *Scanner) str() Token {
	for s.peek() != '"' && !s.atEnd() {
		// a newline inside a string is allowed
		if s.peek() == '\n' {
			s.line++
		}
		s.current++
	}
	if s.atEnd() {
		return s.errorToken("Unterminated string.")
	}
	s.current++ // closing quote
	return s.make(token.STRING)
}

func isAlpha(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }
