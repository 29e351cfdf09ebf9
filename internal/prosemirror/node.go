// Package prosemirror applies ProseMirror JSON steps to a JSON document tree
// without a schema-aware editor runtime.
//
// Positions follow ProseMirror: entering or leaving a non-leaf node costs one
// position, a leaf node costs one, and text costs one per UTF-16 code unit.
package prosemirror

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"
)

const (
	TypeDoc  = "doc"
	TypeText = "text"
)

// Mark is a text or node mark such as bold or link.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Node is one node of a ProseMirror JSON document.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

var (
	leafMu    sync.RWMutex
	leafTypes = map[string]bool{
		"bookmark":        true,
		"cryptoPrice":     true,
		"emoji":           true,
		"embed":           true,
		"farcasterFrame":  true,
		"file":            true,
		"hardBreak":       true,
		"horizontalRule":  true,
		"iframe":          true,
		"image":           true,
		"inlineDatabase":  true,
		"inlineVote":      true,
		"linkedPage":      true,
		"mention":         true,
		"page":            true,
		"pdf":             true,
		"poll":            true,
		"tableOfContents": true,
		"tweet":           true,
		"video":           true,
	}
)

// RegisterLeafType marks a node type as a leaf (size 1, never has content).
func RegisterLeafType(nodeType string) {
	leafMu.Lock()
	defer leafMu.Unlock()
	leafTypes[nodeType] = true
}

func isLeafType(nodeType string) bool {
	leafMu.RLock()
	defer leafMu.RUnlock()
	return leafTypes[nodeType]
}

// EmptyDoc is the content used for pages that were never edited.
func EmptyDoc() *Node {
	return &Node{Type: TypeDoc}
}

// ParseDoc decodes stored page content. Null or empty content yields an empty
// document.
func ParseDoc(raw json.RawMessage) (*Node, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return EmptyDoc(), nil
	}

	var doc Node
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc.Type == "" {
		return nil, fmt.Errorf("%w: document has no type", ErrInvalidDocument)
	}

	return &doc, nil
}

func (n *Node) IsText() bool {
	return n.Type == TypeText
}

func (n *Node) IsLeaf() bool {
	return !n.IsText() && len(n.Content) == 0 && isLeafType(n.Type)
}

// Size is the number of positions the node occupies in its parent.
func (n *Node) Size() int {
	switch {
	case n.IsText():
		return len(utf16.Encode([]rune(n.Text)))
	case n.IsLeaf():
		return 1
	default:
		return n.ContentSize() + 2
	}
}

func (n *Node) ContentSize() int {
	size := 0
	for _, child := range n.Content {
		size += child.Size()
	}
	return size
}

// TextContent concatenates all text in the subtree.
func (n *Node) TextContent() string {
	var b strings.Builder
	n.appendText(&b)
	return b.String()
}

func (n *Node) appendText(b *strings.Builder) {
	if n.IsText() {
		b.WriteString(n.Text)
		return
	}
	for _, child := range n.Content {
		child.appendText(b)
	}
}

// header copies the node without its content or text.
func (n *Node) header() *Node {
	return &Node{
		Type:  n.Type,
		Attrs: cloneAttrs(n.Attrs),
		Marks: cloneMarks(n.Marks),
	}
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func cloneMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, len(marks))
	for i, m := range marks {
		out[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
	}
	return out
}
