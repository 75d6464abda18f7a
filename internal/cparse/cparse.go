// Package cparse extracts the facts the scanner needs from a tree-sitter
// parse of C source: declared char buffers and call expressions.
package cparse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"cscan/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// Declaration is a char array with a literal first dimension.
type Declaration struct {
	Name string
	Size int
	Line int
}

// Call is a call expression with a plain identifier as its callee.
type Call struct {
	Name string
	Line int
	Args []string
}

// Parser wraps a tree-sitter parser configured for C.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a C parser. Call Close when done.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(c.GetLanguage())
	return &Parser{parser: p}
}

// Close releases the underlying parser.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
}

func (p *Parser) parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser == nil {
		return nil, fmt.Errorf("cparse: parser closed")
	}
	start := time.Now()
	tree, err := p.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("cparse: parse failed: %w", err)
	}
	logging.RulesDebug("cparse: parsed %d bytes in %v", len(src), time.Since(start))
	return tree, nil
}

// CharArrays returns every char array declaration keyed by name. Later
// declarations of the same name replace earlier ones.
func (p *Parser) CharArrays(ctx context.Context, src []byte) (map[string]Declaration, error) {
	tree, err := p.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if tree.RootNode().HasError() {
		logging.RulesDebug("cparse: source has syntax errors; declarations inside them are skipped")
	}

	out := make(map[string]Declaration)
	walk(tree.RootNode(), func(n *sitter.Node) {
		switch n.Type() {
		case "declaration", "field_declaration":
		default:
			return
		}
		if !isCharType(n.ChildByFieldName("type"), src) {
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			d := n.NamedChild(i)
			if d == nil {
				continue
			}
			if d.Type() == "init_declarator" {
				d = d.ChildByFieldName("declarator")
			}
			if d == nil || d.Type() != "array_declarator" {
				continue
			}
			if decl, ok := arrayDeclaration(d, src); ok {
				out[decl.Name] = decl
			}
		}
	})
	return out, nil
}

// Calls lists call expressions in source order.
func (p *Parser) Calls(ctx context.Context, src []byte) ([]Call, error) {
	tree, err := p.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var calls []Call
	walk(tree.RootNode(), func(n *sitter.Node) {
		if n.Type() != "call_expression" {
			return
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "identifier" {
			return
		}
		call := Call{
			Name: fn.Content(src),
			Line: int(n.StartPoint().Row) + 1,
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				a := args.NamedChild(i)
				if a == nil || a.Type() == "comment" {
					continue
				}
				call.Args = append(call.Args, a.Content(src))
			}
		}
		calls = append(calls, call)
	})
	return calls, nil
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

func isCharType(n *sitter.Node, src []byte) bool {
	if n == nil {
		return false
	}
	text := strings.Join(strings.Fields(n.Content(src)), " ")
	switch n.Type() {
	case "primitive_type":
		return text == "char"
	case "sized_type_specifier":
		return strings.HasSuffix(text, " char")
	}
	return false
}

// arrayDeclaration unwraps nested array declarators (char m[4][8]) down to
// the identifier and keeps the first dimension.
func arrayDeclaration(n *sitter.Node, src []byte) (Declaration, bool) {
	inner := n
	for {
		next := inner.ChildByFieldName("declarator")
		if next == nil || next.Type() != "array_declarator" {
			break
		}
		inner = next
	}
	ident := inner.ChildByFieldName("declarator")
	size := inner.ChildByFieldName("size")
	if ident == nil || size == nil {
		return Declaration{}, false
	}
	if ident.Type() != "identifier" && ident.Type() != "field_identifier" {
		return Declaration{}, false
	}
	if size.Type() != "number_literal" {
		return Declaration{}, false
	}
	v, err := strconv.Atoi(size.Content(src))
	if errors.Is(err, strconv.ErrRange) {
		v = math.MaxInt
	} else if err != nil {
		return Declaration{}, false
	}
	return Declaration{
		Name: ident.Content(src),
		Size: v,
		Line: int(ident.StartPoint().Row) + 1,
	}, true
}
