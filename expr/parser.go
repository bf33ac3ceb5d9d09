// Package expr parses eager expressions, the textual description of a
// relation graph to fetch in one coordinated operation.
//
//	Expression   := '*' | Chain | '[' Chain (',' Chain)* ']'
//	Chain        := Identifier Continuation?
//	Continuation := '.' ( '^' | '*' | Chain | '[' Chain (',' Chain)* ']' )
//
// Examples:
//
//	expr.Parse("pets")                 // root{pets}
//	expr.Parse("[pets, children.pets]") // root{pets, children{pets}}
//	expr.Parse("children.^")           // root{children(recursive)}
//	expr.Parse("*")                    // root(all relations)
//
// The parser knows nothing about models; unknown relation names surface when
// the tree is fetched.
package expr

import (
	"errors"
	"fmt"
)

// ErrSyntax matches every *SyntaxError through errors.Is.
var ErrSyntax = errors.New("expr: syntax error")

// SyntaxError reports malformed expression text.
type SyntaxError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Msg, e.Offset, e.Input)
}

// Is reports whether target is ErrSyntax.
func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

type parser struct {
	input string
	l     *Lexer
	tok   Token
}

// Parse compiles expression text into a tree. The returned root has an empty
// Name.
func Parse(input string) (*Node, error) {
	p := &parser{input: input, l: NewLexer(input)}
	p.next()

	root := &Node{}
	switch p.tok.Type {
	case TokenEOF:
		return nil, p.errorf("empty expression")
	case TokenStar:
		root.AllRelations = true
		p.next()
	case TokenLBracket:
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		if err := p.addAll(root, list); err != nil {
			return nil, err
		}
	case TokenIdent:
		chain, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		if err := p.addAll(root, []*Node{chain}); err != nil {
			return nil, err
		}
	case TokenCaret:
		return nil, p.errorf("'^' must follow a relation name")
	default:
		return nil, p.unexpected()
	}

	if p.tok.Type != TokenEOF {
		return nil, p.unexpected()
	}
	return root, nil
}

// MustParse is like Parse but panics on error. Intended for expressions
// embedded in code.
func MustParse(input string) *Node {
	n, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *parser) next() {
	p.tok = p.l.NextToken()
}

func (p *parser) parseChain() (*Node, error) {
	if p.tok.Type != TokenIdent {
		return nil, p.expected("relation name")
	}
	n := &Node{Name: p.tok.Literal}
	p.next()

	if p.tok.Type != TokenDot {
		return n, nil
	}
	p.next()

	switch p.tok.Type {
	case TokenCaret:
		n.Recursive = true
		p.next()
		return n, p.terminal("^")
	case TokenStar:
		n.AllRelations = true
		p.next()
		return n, p.terminal("*")
	case TokenIdent:
		child, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		n.Children = []*Node{child}
		return n, nil
	case TokenLBracket:
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return n, p.addAll(n, list)
	default:
		return nil, p.expected("relation name, '[', '*' or '^'")
	}
}

func (p *parser) parseList() ([]*Node, error) {
	// current token is '['
	p.next()

	var list []*Node
	for {
		chain, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		list = append(list, chain)

		switch p.tok.Type {
		case TokenComma:
			p.next()
		case TokenRBracket:
			p.next()
			return list, nil
		case TokenEOF:
			return nil, p.errorf("unmatched '['")
		default:
			return nil, p.expected("',' or ']'")
		}
	}
}

// terminal rejects any continuation after '^' or '*'.
func (p *parser) terminal(sym string) error {
	if p.tok.Type == TokenDot {
		return p.errorf("'%s' must be the last element of a chain", sym)
	}
	return nil
}

func (p *parser) addAll(parent *Node, list []*Node) error {
	for _, n := range list {
		if err := parent.add(n); err != nil {
			return &SyntaxError{Input: p.input, Offset: p.tok.Offset, Msg: err.Error()}
		}
	}
	return nil
}

func (p *parser) unexpected() error {
	switch p.tok.Type {
	case TokenEOF:
		return p.errorf("unexpected end of expression")
	case TokenRBracket:
		return p.errorf("unmatched ']'")
	}
	return p.errorf("unexpected %q", p.tok.Literal)
}

func (p *parser) expected(what string) error {
	if p.tok.Type == TokenEOF {
		return p.errorf("expected %s, got end of expression", what)
	}
	return p.errorf("expected %s, got %q", what, p.tok.Literal)
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Input: p.input, Offset: p.tok.Offset, Msg: fmt.Sprintf(format, args...)}
}
