package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed   = errors.New("client connection closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

const invalidMessageText = "Received invalid message"

type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Client is one WebSocket connection. Its counters follow the c/s envelope:
// server counts messages sent to the peer, client counts messages accepted
// from it.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Manager *Manager
	Send    chan []byte

	mu       sync.Mutex
	userID   string
	userName string
	roomID   string
	state    State
	server   int64
	client   int64
	lastTen  []*Message
	capacity int
	closed   bool
}

func NewClient(id string, conn *websocket.Conn, manager *Manager, sendBuffer, resendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if resendBuffer <= 0 {
		resendBuffer = 10
	}
	return &Client{
		ID:       id,
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, sendBuffer),
		capacity: resendBuffer,
	}
}

func (c *Client) SetUser(userID, userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.userName = userName
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Counters returns the server and client sequence numbers.
func (c *Client) Counters() (server, client int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server, c.client
}

// SendMessage stamps msg with the next server number and the current client
// number, keeps it for resend, and queues it. A message that cannot be queued
// is dropped; the peer recovers it through request_resend.
func (c *Client) SendMessage(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(msg)
}

func (c *Client) sendLocked(msg *Message) error {
	c.server++

	c.lastTen = append(c.lastTen, msg)
	if len(c.lastTen) > c.capacity {
		c.lastTen = c.lastTen[len(c.lastTen)-c.capacity:]
	}

	out := msg.Clone()
	out.C = Int64(c.client)
	out.S = Int64(c.server)

	data, err := json.Marshal(out)
	if err != nil {
		glog.Errorf("client %s: failed to encode %s: %v", c.ID, msg.Type, err)
		return err
	}

	if c.closed {
		glog.V(2).Infof("client %s: dropping %s on closed connection", c.ID, msg.Type)
		return ErrClientClosed
	}

	select {
	case c.Send <- data:
		return nil
	default:
		glog.Warningf("client %s: send buffer full, dropping %s", c.ID, msg.Type)
		return ErrSendBufferFull
	}
}

func (c *Client) SendError(text string) error {
	return c.SendMessage(NewError(text))
}

// Resend rewinds the server counter to from and sends the buffered messages
// after it again with the same numbers. A gap wider than the buffer cannot be
// filled and yields patch_error; the peer must fetch a fresh snapshot.
func (c *Client) Resend(from int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resendLocked(from)
}

func (c *Client) resendLocked(from int64) {
	toSend := c.server - from
	if toSend <= 0 {
		return
	}
	if toSend > int64(len(c.lastTen)) {
		glog.V(2).Infof("client %s: cannot resend %d messages from %d", c.ID, toSend, from)
		c.sendLocked(NewMessage(TypePatchError))
		return
	}

	glog.V(2).Infof("client %s: resending %d messages from %d", c.ID, toSend, from)
	c.server -= toSend
	keep := int64(len(c.lastTen)) - toSend
	pending := make([]*Message, toSend)
	copy(pending, c.lastTen[keep:])
	c.lastTen = c.lastTen[:keep]
	for _, msg := range pending {
		c.sendLocked(msg)
	}
}

// Sequence checks an inbound message against the counters and reports
// whether it should be dispatched. Out-of-order messages are answered here.
func (c *Client) Sequence(msg *Message) bool {
	if msg.Type == TypeRequestResend {
		if msg.From != nil {
			c.Resend(*msg.From)
		}
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case msg.C == nil || msg.S == nil:
		c.sendLocked(NewError(invalidMessageText))
		return false

	case *msg.C < c.client+1:
		glog.V(2).Infof("client %s: ignoring duplicate message c=%d", c.ID, *msg.C)
		return false

	case *msg.C > c.client+1:
		glog.V(2).Infof("client %s: missing messages before c=%d, requesting resend", c.ID, *msg.C)
		c.sendLocked(&Message{Type: TypeRequestResend, From: Int64(c.client)})
		return false

	case *msg.S < c.server:
		c.client++
		c.resendLocked(*msg.S)
		if msg.Type == TypeDiff {
			c.sendLocked(NewRidMessage(TypeRejectDiff, msg.RID))
		}
		return false
	}

	c.client++
	return true
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ReadPump reads frames until the connection fails, handing each to the
// manager in order. On exit the client is disconnected from its room and
// unregistered.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Manager.disconnect(ctx, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				glog.Warningf("client %s: websocket error: %v", c.ID, err)
			}
			return
		}

		c.Manager.processMessage(ctx, c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.V(2).Infof("client %s: write failed: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
