package prosemirror

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidStep     = errors.New("invalid step")
	ErrInvalidDocument = errors.New("invalid document")
)

const (
	StepReplace        = "replace"
	StepReplaceAround  = "replaceAround"
	StepAddMark        = "addMark"
	StepRemoveMark     = "removeMark"
	StepAddNodeMark    = "addNodeMark"
	StepRemoveNodeMark = "removeNodeMark"
	StepAttr           = "attr"
	StepDocAttr        = "docAttr"
)

// Step is the JSON form of a ProseMirror transform step.
type Step struct {
	StepType  string `json:"stepType"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	GapFrom   int    `json:"gapFrom,omitempty"`
	GapTo     int    `json:"gapTo,omitempty"`
	Insert    int    `json:"insert,omitempty"`
	Pos       int    `json:"pos,omitempty"`
	Slice     *Slice `json:"slice,omitempty"`
	Structure bool   `json:"structure,omitempty"`
	Mark      *Mark  `json:"mark,omitempty"`
	Attr      string `json:"attr,omitempty"`
	Value     any    `json:"value,omitempty"`
}

// Slice is a piece of document content. OpenStart and OpenEnd are the depths
// at which the first and last nodes are left open.
type Slice struct {
	Content   []*Node `json:"content,omitempty"`
	OpenStart int     `json:"openStart,omitempty"`
	OpenEnd   int     `json:"openEnd,omitempty"`
}

func DecodeSteps(raw []json.RawMessage) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, r := range raw {
		var s Step
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidStep, i, err)
		}
		if s.StepType == "" {
			return nil, fmt.Errorf("%w: step %d has no stepType", ErrInvalidStep, i)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// tokens returns the slice content as a token stream with the open edges
// removed, so it can be spliced straight into a document stream.
func (s *Slice) tokens() ([]token, error) {
	if s == nil {
		return nil, nil
	}

	toks := flatten(s.Content)
	if s.OpenStart < 0 || s.OpenEnd < 0 || s.OpenStart+s.OpenEnd > len(toks) {
		return nil, fmt.Errorf("%w: slice open depth out of range", ErrInvalidStep)
	}
	for i := 0; i < s.OpenStart; i++ {
		if toks[i].kind != tokOpen {
			return nil, fmt.Errorf("%w: slice openStart %d deeper than content", ErrInvalidStep, s.OpenStart)
		}
	}
	for i := len(toks) - s.OpenEnd; i < len(toks); i++ {
		if toks[i].kind != tokClose {
			return nil, fmt.Errorf("%w: slice openEnd %d deeper than content", ErrInvalidStep, s.OpenEnd)
		}
	}

	return toks[s.OpenStart : len(toks)-s.OpenEnd], nil
}
