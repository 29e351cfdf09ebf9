package websocket

import (
	"encoding/json"
	"time"

	"collab-sync-server/internal/domain"
)

type MessageType string

const (
	TypeWelcome         MessageType = "welcome"
	TypeSubscribe       MessageType = "subscribe"
	TypeSubscribed      MessageType = "subscribed"
	TypeUnsubscribe     MessageType = "unsubscribe"
	TypeDiff            MessageType = "diff"
	TypeConfirmDiff     MessageType = "confirm_diff"
	TypeRejectDiff      MessageType = "reject_diff"
	TypeSelectionChange MessageType = "selection_change"
	TypeRequestResend   MessageType = "request_resend"
	TypeGetDocument     MessageType = "get_document"
	TypeDocData         MessageType = "doc_data"
	TypeCheckVersion    MessageType = "check_version"
	TypeConfirmVersion  MessageType = "confirm_version"
	TypeConnections     MessageType = "connections"
	TypeError           MessageType = "error"
	TypePatchError      MessageType = "patch_error"
)

// Message is the envelope of every frame in both directions. Which fields
// are set depends on Type.
type Message struct {
	Type MessageType `json:"type"`
	C    *int64      `json:"c,omitempty"`
	S    *int64      `json:"s,omitempty"`
	V    *int64      `json:"v,omitempty"`

	// subscribe / unsubscribe
	RoomID     string `json:"roomId,omitempty"`
	AuthToken  string `json:"authToken,omitempty"`
	Connection *int   `json:"connection,omitempty"`

	// diff
	RID       json.RawMessage   `json:"rid,omitempty"`
	CID       json.RawMessage   `json:"cid,omitempty"`
	Steps     []json.RawMessage `json:"ds,omitempty"`
	Title     *string           `json:"ti,omitempty"`
	ServerFix bool              `json:"server_fix,omitempty"`

	// doc is the full replacement document on a diff and the
	// {content, v} pair on doc_data.
	Doc      json.RawMessage `json:"doc,omitempty"`
	DocInfo  *DocInfo        `json:"doc_info,omitempty"`
	Time     int64           `json:"time,omitempty"`
	Messages []*Message      `json:"m,omitempty"`

	// selection_change
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Anchor    *int   `json:"anchor,omitempty"`
	Head      *int   `json:"head,omitempty"`

	From            *int64               `json:"from,omitempty"`
	ParticipantList []domain.Participant `json:"participant_list,omitempty"`
	Text            string               `json:"message,omitempty"`
}

type DocContent struct {
	Content json.RawMessage `json:"content"`
	V       int64           `json:"v"`
}

type DocInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Updated   time.Time `json:"updated"`
	Version   int64     `json:"version"`
}

func NewMessage(msgType MessageType) *Message {
	return &Message{Type: msgType}
}

func NewError(text string) *Message {
	return &Message{Type: TypeError, Text: text}
}

// NewRidMessage builds a confirm_diff or reject_diff answering rid.
func NewRidMessage(msgType MessageType, rid json.RawMessage) *Message {
	return &Message{Type: msgType, RID: rid}
}

func NewVersionMessage(msgType MessageType, v int64) *Message {
	return &Message{Type: msgType, V: Int64(v)}
}

// NewDocData builds a doc_data snapshot. missed, when set, carries the diffs
// between the client's version and version.
func NewDocData(info DocInfo, content json.RawMessage, missed []*Message) (*Message, error) {
	doc, err := json.Marshal(DocContent{Content: content, V: info.Version})
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:     TypeDocData,
		Doc:      doc,
		DocInfo:  &info,
		Time:     time.Now().UnixMilli(),
		Messages: missed,
	}, nil
}

// Clone returns a shallow copy with fresh counters. Payload slices are
// shared and must not be mutated.
func (m *Message) Clone() *Message {
	out := *m
	out.C = nil
	out.S = nil
	return &out
}

// VersionOr returns V, or fallback when V is unset.
func (m *Message) VersionOr(fallback int64) int64 {
	if m.V == nil {
		return fallback
	}
	return *m.V
}

func Int64(v int64) *int64 {
	return &v
}
