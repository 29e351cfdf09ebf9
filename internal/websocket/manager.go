package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"collab-sync-server/internal/telemetry"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// MessageHandler receives every inbound message that passed sequencing, and
// the disconnect of every client.
type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error
	HandleDisconnect(ctx context.Context, client *Client)
}

type Options struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	ResendBufferSize int
}

// Manager owns the live connections and the room index. A client is in at
// most one room.
type Manager struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	mu         sync.RWMutex
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	doneOnce   sync.Once

	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	maxMessageSize   int64
	sendBufferSize   int
	resendBufferSize int
	messageHandler   MessageHandler
}

func NewManager(opts Options) *Manager {
	return &Manager{
		clients:          make(map[string]*Client),
		rooms:            make(map[string]map[string]*Client),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		done:             make(chan struct{}),
		writeWait:        opts.WriteWait,
		pongWait:         opts.PongWait,
		pingPeriod:       opts.PingPeriod,
		maxMessageSize:   opts.MaxMessageSize,
		sendBufferSize:   opts.SendBufferSize,
		resendBufferSize: opts.ResendBufferSize,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// NewClient creates a client bound to this manager with its buffer sizes.
func (m *Manager) NewClient(id string, conn *websocket.Conn) *Client {
	return NewClient(id, conn, m, m.sendBufferSize, m.resendBufferSize)
}

// Run processes registrations until ctx is done, then shuts down.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case <-ctx.Done():
			m.Shutdown()
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.mu.Lock()
	m.clients[client.ID] = client
	m.mu.Unlock()

	glog.V(2).Infof("client registered: %s", client.ID)
	client.SendMessage(NewMessage(TypeWelcome))
}

func (m *Manager) unregisterClient(client *Client) {
	m.mu.Lock()
	_, ok := m.clients[client.ID]
	if ok {
		delete(m.clients, client.ID)
		m.removeFromRoomLocked(client)
	}
	m.mu.Unlock()

	if ok {
		client.close()
		glog.V(2).Infof("client unregistered: %s", client.ID)
	}
}

// RegisterClient hands client to Run. It reports false, and closes the
// client, when the manager has already stopped.
func (m *Manager) RegisterClient(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		client.close()
		return false
	}
}

// disconnect lets the handler release the client's room, then unregisters it.
func (m *Manager) disconnect(ctx context.Context, client *Client) {
	if m.messageHandler != nil {
		m.messageHandler.HandleDisconnect(ctx, client)
	}
	select {
	case m.Unregister <- client:
	case <-m.done:
		client.close()
	}
}

// Shutdown closes every client queue, which makes the write pumps close
// their connections.
func (m *Manager) Shutdown() {
	m.doneOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.rooms = make(map[string]map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	glog.Infof("websocket manager stopped, closed %d connections", len(clients))
}

// Join moves client into roomID and returns the room it was in before.
// Joining the current room is a no-op.
func (m *Manager) Join(client *Client, roomID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := client.RoomID()
	if prev == roomID {
		return prev
	}
	m.removeFromRoomLocked(client)

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		m.rooms[roomID] = members
	}
	members[client.ID] = client
	client.setRoom(roomID)

	return prev
}

// Leave removes client from roomID. It reports false when the client was not
// in that room.
func (m *Manager) Leave(client *Client, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if roomID == "" || client.RoomID() != roomID {
		return false
	}
	m.removeFromRoomLocked(client)
	return true
}

func (m *Manager) removeFromRoomLocked(client *Client) {
	roomID := client.RoomID()
	if roomID == "" {
		return
	}
	if members, ok := m.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	client.setRoom("")
}

// Members returns a snapshot of the room ordered by client id.
func (m *Manager) Members(roomID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]*Client, 0, len(m.rooms[roomID]))
	for _, c := range m.rooms[roomID] {
		members = append(members, c)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (m *Manager) RoomSize(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}

func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast sends msg to every member of roomID except exclude and returns
// how many were queued. Clients joining after the call starts are not
// included.
func (m *Manager) Broadcast(roomID string, msg *Message, exclude *Client) int {
	sent := 0
	for _, c := range m.Members(roomID) {
		if exclude != nil && c.ID == exclude.ID {
			continue
		}
		if err := c.SendMessage(msg); err == nil {
			sent++
		}
	}
	return sent
}

func (m *Manager) processMessage(ctx context.Context, client *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		glog.Warningf("client %s: error unmarshaling message: %v", client.ID, err)
		client.SendError(invalidMessageText)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "ws."+string(msg.Type),
		attribute.String("client.id", client.ID),
		attribute.String("room.id", client.RoomID()),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling %s: %v", msg.Type, r)
			telemetry.AddSpanError(ctx, err)
			glog.Errorf("client %s: %v\n%s", client.ID, err, debug.Stack())
		}
	}()

	glog.V(2).Infof("client %s: received %s", client.ID, msg.Type)

	if !client.Sequence(&msg) {
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(ctx, client, &msg); err != nil {
			telemetry.AddSpanError(ctx, err)
			glog.Errorf("client %s: error handling %s: %v", client.ID, msg.Type, err)
		}
	}
}
