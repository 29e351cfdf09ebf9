package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/prosemirror"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/websocket"
)

// docRoom is the in-memory state of one page while it has subscribers.
// Every change to a page on this instance happens under mu.
type docRoom struct {
	mu sync.Mutex
	id string

	loaded  bool
	stale   bool
	evicted bool

	title     string
	node      *prosemirror.Node
	content   json.RawMessage
	version   int64
	updatedAt time.Time

	history    []*websocket.Message
	historyLen int
}

func newDocRoom(id string, historyLen int) *docRoom {
	return &docRoom{id: id, historyLen: historyLen}
}

// load replaces the room state with the stored page. The diff history is
// dropped because it no longer lines up with the version.
func (r *docRoom) load(ctx context.Context, pages repository.PageRepository) error {
	page, err := pages.FindByID(ctx, r.id)
	if err != nil {
		return err
	}
	return r.reset(page)
}

func (r *docRoom) reset(page *domain.Page) error {
	node, err := prosemirror.ParseDoc(page.Content)
	if err != nil {
		return fmt.Errorf("page %s: %w", page.ID, err)
	}
	content, err := json.Marshal(node)
	if err != nil {
		return err
	}

	r.title = page.Title
	r.node = node
	r.content = content
	r.version = page.Version
	r.updatedAt = page.UpdatedAt
	r.history = nil
	r.loaded = true
	r.stale = false

	return nil
}

// next computes the document a diff produces without changing the room.
func (r *docRoom) next(msg *websocket.Message) (*prosemirror.Node, error) {
	switch {
	case len(msg.Steps) > 0:
		steps, err := prosemirror.DecodeSteps(msg.Steps)
		if err != nil {
			return nil, err
		}
		return prosemirror.ApplySteps(r.node, steps)
	case len(msg.Doc) > 0:
		return prosemirror.ParseDoc(msg.Doc)
	default:
		return r.node, nil
	}
}

// commit installs an accepted diff as the next version.
func (r *docRoom) commit(msg *websocket.Message, node *prosemirror.Node, content json.RawMessage, version int64, updatedAt time.Time) {
	r.node = node
	r.content = content
	r.version = version
	r.updatedAt = updatedAt
	if msg.Title != nil {
		r.title = *msg.Title
	}

	r.history = append(r.history, msg)
	if r.historyLen > 0 && len(r.history) > r.historyLen {
		r.history = r.history[len(r.history)-r.historyLen:]
	}
}

// diffsSince returns the accepted diffs that lead from version v to the
// current version, or false when the history does not reach back to v.
func (r *docRoom) diffsSince(v int64) ([]*websocket.Message, bool) {
	if v > r.version || v < 0 {
		return nil, false
	}
	n := r.version - v
	if n > int64(len(r.history)) {
		return nil, false
	}
	out := make([]*websocket.Message, n)
	copy(out, r.history[int64(len(r.history))-n:])
	return out, true
}

func (r *docRoom) docInfo(sessionID string) websocket.DocInfo {
	return websocket.DocInfo{
		ID:        r.id,
		SessionID: sessionID,
		Updated:   r.updatedAt,
		Version:   r.version,
	}
}

func (r *docRoom) checkBase(base int64) error {
	if base != r.version {
		return &StaleVersionError{RoomID: r.id, Base: base, Current: r.version}
	}
	return nil
}
