package prosemirror

import (
	"fmt"
	"reflect"
	"unicode/utf16"
)

type tokenKind uint8

const (
	tokOpen tokenKind = iota
	tokClose
	tokChar
	tokLeaf
)

// token is one document position. The index of a token in the stream equals
// the ProseMirror position directly before it.
type token struct {
	kind  tokenKind
	node  *Node
	unit  uint16
	marks []Mark
}

func (t token) isContent() bool {
	return t.kind == tokChar || t.kind == tokLeaf
}

func flatten(content []*Node) []token {
	var toks []token
	for _, n := range content {
		toks = appendNode(toks, n)
	}
	return toks
}

func appendNode(toks []token, n *Node) []token {
	switch {
	case n.IsText():
		marks := cloneMarks(n.Marks)
		for _, u := range utf16.Encode([]rune(n.Text)) {
			toks = append(toks, token{kind: tokChar, unit: u, marks: marks})
		}
	case n.IsLeaf():
		toks = append(toks, token{kind: tokLeaf, node: n.header()})
	default:
		toks = append(toks, token{kind: tokOpen, node: n.header()})
		for _, child := range n.Content {
			toks = appendNode(toks, child)
		}
		toks = append(toks, token{kind: tokClose})
	}
	return toks
}

// balanced reports whether every close token has a matching open token and
// the stream ends at the depth it started.
func balanced(toks []token) bool {
	depth := 0
	for _, t := range toks {
		switch t.kind {
		case tokOpen:
			depth++
		case tokClose:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// build turns a token stream back into a tree under root.
func build(root *Node, toks []token) (*Node, error) {
	stack := []*Node{root}
	var (
		pending      []uint16
		pendingMarks []Mark
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		parent := stack[len(stack)-1]
		parent.Content = append(parent.Content, &Node{
			Type:  TypeText,
			Text:  string(utf16.Decode(pending)),
			Marks: pendingMarks,
		})
		pending = nil
		pendingMarks = nil
	}

	for i, t := range toks {
		if t.kind != tokChar {
			flush()
		}
		switch t.kind {
		case tokChar:
			if len(pending) > 0 && !marksEqual(pendingMarks, t.marks) {
				flush()
			}
			if len(pending) == 0 {
				pendingMarks = cloneMarks(t.marks)
			}
			pending = append(pending, t.unit)
		case tokLeaf:
			parent := stack[len(stack)-1]
			parent.Content = append(parent.Content, t.node.header())
		case tokOpen:
			stack = append(stack, t.node.header())
		case tokClose:
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: unexpected close at position %d", ErrInvalidStep, i)
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.Content = append(parent.Content, closed)
		}
	}
	flush()

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d unclosed nodes", ErrInvalidStep, len(stack)-1)
	}

	return stack[0], nil
}

func marksEqual(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !markEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func markEqual(a, b Mark) bool {
	if a.Type != b.Type {
		return false
	}
	if len(a.Attrs) == 0 && len(b.Attrs) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Attrs, b.Attrs)
}

// addMark returns a new mark set with m replacing any mark of the same type.
func addMark(set []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(set)+1)
	for _, existing := range set {
		if existing.Type != m.Type {
			out = append(out, existing)
		}
	}
	return append(out, Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)})
}

// removeMark drops marks of m's type. When m carries attrs only an exact
// match is removed.
func removeMark(set []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(set))
	for _, existing := range set {
		if existing.Type == m.Type && (len(m.Attrs) == 0 || markEqual(existing, m)) {
			continue
		}
		out = append(out, existing)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
