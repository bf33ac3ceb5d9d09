package expr

import "unicode"

// TokenType identifies the kind of a lexed token.
type TokenType string

const (
	TokenIdent    TokenType = "IDENT"
	TokenDot      TokenType = "DOT"
	TokenComma    TokenType = "COMMA"
	TokenLBracket TokenType = "LBRACKET"
	TokenRBracket TokenType = "RBRACKET"
	TokenStar     TokenType = "STAR"
	TokenCaret    TokenType = "CARET"
	TokenEOF      TokenType = "EOF"
	TokenIllegal  TokenType = "ILLEGAL"
)

// Token is a single lexeme with its byte offset in the input.
type Token struct {
	Type    TokenType
	Literal string
	Offset  int
}

// Lexer splits an eager expression into tokens. Whitespace is skipped.
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

// NewLexer returns a Lexer positioned at the first byte of input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

// NextToken returns the next token. After the input is exhausted it keeps
// returning TokenEOF.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	offset := l.position
	var tok Token
	switch l.ch {
	case 0:
		if l.position < len(l.input) {
			// a literal NUL byte inside the input
			tok = Token{Type: TokenIllegal, Literal: "\x00", Offset: offset}
			break
		}
		return Token{Type: TokenEOF, Offset: len(l.input)}
	case '.':
		tok = Token{Type: TokenDot, Literal: ".", Offset: offset}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Offset: offset}
	case '[':
		tok = Token{Type: TokenLBracket, Literal: "[", Offset: offset}
	case ']':
		tok = Token{Type: TokenRBracket, Literal: "]", Offset: offset}
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Offset: offset}
	case '^':
		tok = Token{Type: TokenCaret, Literal: "^", Offset: offset}
	default:
		if isIdentChar(l.ch) {
			return Token{Type: TokenIdent, Literal: l.readIdent(), Offset: offset}
		}
		tok = Token{Type: TokenIllegal, Literal: string(l.ch), Offset: offset}
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdent() string {
	start := l.position
	for isIdentChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) skipWhitespace() {
	for l.ch != 0 && unicode.IsSpace(rune(l.ch)) {
		l.readChar()
	}
}

func isIdentChar(ch byte) bool {
	return ch == '_' || ch == '$' ||
		('a' <= ch && ch <= 'z') ||
		('A' <= ch && ch <= 'Z') ||
		('0' <= ch && ch <= '9')
}
