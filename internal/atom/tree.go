package atom

import (
	"fmt"
	"strings"
)

// Tree is an input tree for the DAG builder.
// Nodes are tagged by Kind; leaves carry a Value, composites carry Children.
type Tree struct {
	Kind     Kind
	Type     string
	Value    string
	Children []*Tree
}

// LeafTree constructs a leaf node.
func LeafTree(typ, value string) *Tree {
	return &Tree{Kind: KindLeaf, Type: typ, Value: value}
}

// CompositeTree constructs a composite node.
func CompositeTree(typ string, children ...*Tree) *Tree {
	return &Tree{Kind: KindComposite, Type: typ, Children: children}
}

// Size returns the number of nodes in the tree, counting shared
// subtrees once per position.
func (t *Tree) Size() int {
	if t == nil {
		return 0
	}
	n := 0
	stack := []*Tree{t}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = append(stack, top.Children...)
	}
	return n
}

// String renders the tree on one line.
func (t *Tree) String() string {
	return FormatTree(t)
}

// FormatTree renders a tree in expression notation:
//
//	Link_B(Node_A('v1'), Node_A('v1'))
func FormatTree(t *Tree) string {
	var b strings.Builder
	writeTree(&b, t, false)
	return b.String()
}

// FormatTreeIndented renders a tree with one node per line.
func FormatTreeIndented(t *Tree) string {
	var b strings.Builder
	writeTree(&b, t, true)
	return b.String()
}

func writeTree(b *strings.Builder, root *Tree, pretty bool) {
	if root == nil {
		return
	}

	type frame struct {
		t     *Tree
		next  int
		depth int
	}

	enter := func(t *Tree, depth int) {
		if pretty && depth > 0 {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat("  ", depth))
		}
		b.WriteString(t.Type)
		b.WriteByte('(')
	}

	enter(root, 0)
	stack := []frame{{t: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.t.Kind == KindLeaf {
			b.WriteString(quoteValue(top.t.Value))
			b.WriteByte(')')
			stack = stack[:len(stack)-1]
			continue
		}
		if top.next == len(top.t.Children) {
			b.WriteByte(')')
			stack = stack[:len(stack)-1]
			continue
		}
		if top.next > 0 {
			b.WriteByte(',')
			if !pretty {
				b.WriteByte(' ')
			}
		}
		child := top.t.Children[top.next]
		top.next++
		depth := top.depth + 1
		enter(child, depth)
		stack = append(stack, frame{t: child, depth: depth})
	}
}

// quoteValue single-quotes a leaf value, escaping quote and backslash.
func quoteValue(v string) string {
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}

// ParseTree parses the expression notation produced by FormatTree or
// FormatTreeIndented. Whitespace between tokens is ignored.
//
// Grammar:
//
//	tree  := type '(' (value | tree (',' tree)*) ')'
//	value := '\'' { char | '\\' char } '\''
func ParseTree(src string) (*Tree, error) {
	p := &treeParser{src: src}
	t, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	return t, nil
}

// MustParseTree is like ParseTree but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseTree(src string) *Tree {
	t, err := ParseTree(src)
	if err != nil {
		panic(err)
	}
	return t
}

type treeParser struct {
	src string
	pos int
}

func (p *treeParser) parse() (*Tree, error) {
	var root *Tree
	var stack []*Tree
	expectNode := true

	for {
		p.skipSpace()
		if expectNode {
			node, open, err := p.node()
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, p.errorf("unexpected second root")
				}
				root = node
			} else {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, node)
			}
			if open {
				stack = append(stack, node)
				continue
			}
			expectNode = false
			continue
		}

		if len(stack) == 0 {
			break
		}
		switch p.peek() {
		case ',':
			p.pos++
			expectNode = true
		case ')':
			p.pos++
			stack = stack[:len(stack)-1]
		default:
			return nil, p.errorf("expected ',' or ')'")
		}
	}

	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing input")
	}
	return root, nil
}

// node parses "type(" and either a complete leaf or the opening of a
// composite. open is true when the composite's children follow.
func (p *treeParser) node() (t *Tree, open bool, err error) {
	start := p.pos
	for p.pos < len(p.src) && isTypeChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return nil, false, p.errorf("expected type name")
	}
	typ := p.src[start:p.pos]

	p.skipSpace()
	if p.peek() != '(' {
		return nil, false, p.errorf("expected '(' after %q", typ)
	}
	p.pos++
	p.skipSpace()

	switch p.peek() {
	case '\'':
		value, err := p.quoted()
		if err != nil {
			return nil, false, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, false, p.errorf("expected ')' after value of %q", typ)
		}
		p.pos++
		return LeafTree(typ, value), false, nil
	case ')':
		return nil, false, p.errorf("%q has no children; zero-arity nodes must be leaves", typ)
	default:
		return CompositeTree(typ), true, nil
	}
}

func (p *treeParser) quoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case '\'':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated value")
}

func (p *treeParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *treeParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *treeParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func isTypeChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == '.', c == ':', c == '/', c == '#', c == '$':
		return true
	default:
		return false
	}
}
