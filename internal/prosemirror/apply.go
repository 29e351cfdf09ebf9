package prosemirror

import "fmt"

type document struct {
	root *Node
	toks []token
}

// ApplySteps applies steps in order to doc and returns the resulting
// document. doc is not modified. A step that does not fit the document fails
// the whole batch.
func ApplySteps(doc *Node, steps []Step) (*Node, error) {
	d := &document{
		root: doc.header(),
		toks: flatten(doc.Content),
	}

	for i, s := range steps {
		if err := d.apply(s); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.StepType, err)
		}
	}

	return build(d.root, d.toks)
}

func (d *document) apply(s Step) error {
	switch s.StepType {
	case StepReplace:
		return d.replace(s)
	case StepReplaceAround:
		return d.replaceAround(s)
	case StepAddMark, StepRemoveMark:
		return d.markRange(s)
	case StepAddNodeMark, StepRemoveNodeMark:
		return d.nodeMark(s)
	case StepAttr:
		return d.attr(s)
	case StepDocAttr:
		if s.Attr == "" {
			return fmt.Errorf("%w: docAttr without attr", ErrInvalidStep)
		}
		if d.root.Attrs == nil {
			d.root.Attrs = make(map[string]any)
		}
		d.root.Attrs[s.Attr] = s.Value
		return nil
	default:
		return fmt.Errorf("%w: unsupported step type %q", ErrInvalidStep, s.StepType)
	}
}

func (d *document) checkRange(from, to int) error {
	if from < 0 || to < from || to > len(d.toks) {
		return fmt.Errorf("%w: range %d-%d outside document of size %d", ErrInvalidStep, from, to, len(d.toks))
	}
	return nil
}

func (d *document) hasContent(from, to int) bool {
	for _, t := range d.toks[from:to] {
		if t.isContent() {
			return true
		}
	}
	return false
}

func (d *document) splice(from, to int, insert []token) error {
	next := make([]token, 0, len(d.toks)-(to-from)+len(insert))
	next = append(next, d.toks[:from]...)
	next = append(next, insert...)
	next = append(next, d.toks[to:]...)

	if !balanced(next) {
		return fmt.Errorf("%w: replacement at %d-%d leaves the document unbalanced", ErrInvalidStep, from, to)
	}

	d.toks = next
	return nil
}

func (d *document) replace(s Step) error {
	if err := d.checkRange(s.From, s.To); err != nil {
		return err
	}
	if s.Structure && d.hasContent(s.From, s.To) {
		return fmt.Errorf("%w: structure replace would overwrite content", ErrInvalidStep)
	}

	insert, err := s.Slice.tokens()
	if err != nil {
		return err
	}

	return d.splice(s.From, s.To, insert)
}

func (d *document) replaceAround(s Step) error {
	if err := d.checkRange(s.From, s.To); err != nil {
		return err
	}
	if s.GapFrom < s.From || s.GapTo < s.GapFrom || s.To < s.GapTo {
		return fmt.Errorf("%w: gap %d-%d outside range %d-%d", ErrInvalidStep, s.GapFrom, s.GapTo, s.From, s.To)
	}
	if s.Structure && (d.hasContent(s.From, s.GapFrom) || d.hasContent(s.GapTo, s.To)) {
		return fmt.Errorf("%w: structure replace would overwrite content", ErrInvalidStep)
	}

	slice, err := s.Slice.tokens()
	if err != nil {
		return err
	}
	if s.Insert < 0 || s.Insert > len(slice) {
		return fmt.Errorf("%w: insert position %d outside slice", ErrInvalidStep, s.Insert)
	}

	gap := d.toks[s.GapFrom:s.GapTo]
	insert := make([]token, 0, len(slice)+len(gap))
	insert = append(insert, slice[:s.Insert]...)
	insert = append(insert, gap...)
	insert = append(insert, slice[s.Insert:]...)

	return d.splice(s.From, s.To, insert)
}

// markRange adds or removes a mark on inline content between From and To.
// Leaves sitting directly in the document are block nodes and keep their
// marks.
func (d *document) markRange(s Step) error {
	if s.Mark == nil || s.Mark.Type == "" {
		return fmt.Errorf("%w: %s without mark", ErrInvalidStep, s.StepType)
	}
	if err := d.checkRange(s.From, s.To); err != nil {
		return err
	}

	depth := 0
	for i := 0; i < s.To; i++ {
		t := &d.toks[i]
		switch t.kind {
		case tokOpen:
			depth++
			continue
		case tokClose:
			depth--
			continue
		}
		if i < s.From || depth == 0 {
			continue
		}

		current := t.marks
		if t.kind == tokLeaf {
			current = t.node.Marks
		}
		var updated []Mark
		if s.StepType == StepAddMark {
			updated = addMark(current, *s.Mark)
		} else {
			updated = removeMark(current, *s.Mark)
		}
		if t.kind == tokLeaf {
			t.node.Marks = updated
		} else {
			t.marks = updated
		}
	}

	return nil
}

func (d *document) nodeAt(pos int) (*Node, error) {
	if pos < 0 || pos >= len(d.toks) {
		return nil, fmt.Errorf("%w: no node at position %d", ErrInvalidStep, pos)
	}
	t := d.toks[pos]
	if t.kind != tokOpen && t.kind != tokLeaf {
		return nil, fmt.Errorf("%w: position %d is not before a node", ErrInvalidStep, pos)
	}
	return t.node, nil
}

func (d *document) nodeMark(s Step) error {
	if s.Mark == nil || s.Mark.Type == "" {
		return fmt.Errorf("%w: %s without mark", ErrInvalidStep, s.StepType)
	}
	node, err := d.nodeAt(s.Pos)
	if err != nil {
		return err
	}
	if s.StepType == StepAddNodeMark {
		node.Marks = addMark(node.Marks, *s.Mark)
	} else {
		node.Marks = removeMark(node.Marks, *s.Mark)
	}
	return nil
}

func (d *document) attr(s Step) error {
	if s.Attr == "" {
		return fmt.Errorf("%w: attr step without attr", ErrInvalidStep)
	}
	node, err := d.nodeAt(s.Pos)
	if err != nil {
		return err
	}
	if node.Attrs == nil {
		node.Attrs = make(map[string]any)
	}
	node.Attrs[s.Attr] = s.Value
	return nil
}
