package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/relay"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/websocket"
	"collab-sync-server/pkg/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"
)

type PermissionChecker interface {
	CanEdit(ctx context.Context, userID, pageID string) (bool, error)
}

// Relay carries room messages to the other server instances.
type Relay interface {
	Publish(ctx context.Context, roomID string, message any) error
	Subscribe(ctx context.Context, handle func(relay.Envelope)) error
}

type subscribeRequest struct {
	RoomID    string `validate:"required,uuid"`
	AuthToken string `validate:"required"`
}

// CollabService is the synchronization engine. It owns the room state of
// every page with subscribers on this instance and decides, per diff, whether
// it becomes the next version.
type CollabService struct {
	pages         repository.PageRepository
	permissions   PermissionChecker
	manager       *websocket.Manager
	relay         Relay
	jwtSecret     string
	historyLength int
	validate      *validator.Validate

	roomsMu sync.Mutex
	rooms   map[string]*docRoom
}

func NewCollabService(
	pages repository.PageRepository,
	permissions PermissionChecker,
	manager *websocket.Manager,
	jwtSecret string,
	historyLength int,
) *CollabService {
	return &CollabService{
		pages:         pages,
		permissions:   permissions,
		manager:       manager,
		jwtSecret:     jwtSecret,
		historyLength: historyLength,
		validate:      validator.New(),
		rooms:         make(map[string]*docRoom),
	}
}

// SetRelay enables cross-instance fan-out. Call before Start.
func (s *CollabService) SetRelay(r Relay) {
	s.relay = r
}

// Start subscribes to the relay, if any. Delivery stops with ctx.
func (s *CollabService) Start(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Subscribe(ctx, func(env relay.Envelope) {
		s.HandleRelay(ctx, env)
	})
}

// acquire returns the locked room for id, loading it from the store when it
// is new or stale. The caller must unlock it.
func (s *CollabService) acquire(ctx context.Context, id string) (*docRoom, error) {
	for {
		s.roomsMu.Lock()
		r, ok := s.rooms[id]
		if !ok {
			r = newDocRoom(id, s.historyLength)
			s.rooms[id] = r
		}
		s.roomsMu.Unlock()

		r.mu.Lock()
		if r.evicted {
			r.mu.Unlock()
			continue
		}
		if !r.loaded || r.stale {
			if err := r.load(ctx, s.pages); err != nil {
				r.loaded = false
				s.evictIfEmpty(r)
				r.mu.Unlock()
				return nil, err
			}
		}
		return r, nil
	}
}

func (s *CollabService) cached(id string) *docRoom {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return s.rooms[id]
}

// evictIfEmpty drops r when no connection on this instance is in it.
func (s *CollabService) evictIfEmpty(r *docRoom) {
	if s.manager.RoomSize(r.id) > 0 {
		return
	}
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if s.rooms[r.id] == r {
		delete(s.rooms, r.id)
		r.evicted = true
		glog.V(2).Infof("room %s closed", r.id)
	}
}

// RoomVersion reports the cached version of a room.
func (s *CollabService) RoomVersion(id string) (int64, bool) {
	r := s.cached(id)
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, r.loaded
}

func (s *CollabService) Subscribe(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	req := subscribeRequest{RoomID: msg.RoomID, AuthToken: msg.AuthToken}
	if err := s.validate.Struct(req); err != nil {
		glog.V(2).Infof("client %s: invalid subscribe: %v", c.ID, err)
		c.SendError(msgNoPermission)
		return nil
	}

	claims, err := jwt.ValidateToken(req.AuthToken, s.jwtSecret)
	if err != nil {
		glog.V(2).Infof("client %s: rejected token: %v", c.ID, err)
		c.SendError(msgNoPermission)
		return nil
	}

	prevState := c.State()
	c.SetState(websocket.StateSubscribing)

	allowed, err := s.permissions.CanEdit(ctx, claims.UserID, req.RoomID)
	if err != nil || !allowed {
		c.SetState(prevState)
		c.SendError(msgNoPermission)
		if err != nil && !errors.Is(err, repository.ErrPageNotFound) {
			return fmt.Errorf("permission check for %s on %s: %w", claims.UserID, req.RoomID, err)
		}
		return nil
	}

	r, err := s.acquire(ctx, req.RoomID)
	if err != nil {
		c.SetState(prevState)
		c.SendError(msgLoadFailed)
		return fmt.Errorf("load room %s: %w", req.RoomID, err)
	}

	c.SetUser(claims.UserID, claims.Username)
	prevRoom := s.manager.Join(c, r.id)
	c.SetState(websocket.StateSubscribed)
	glog.V(2).Infof("client %s (user %s) joined room %s", c.ID, claims.UserID, r.id)

	c.SendMessage(websocket.NewMessage(websocket.TypeSubscribed))

	connection := 0
	if msg.Connection != nil {
		connection = *msg.Connection
	}
	if connection < 1 || (msg.V != nil && *msg.V != r.version) {
		s.sendDocData(c, r, nil)
	}

	s.manager.Broadcast(r.id, s.roster(r.id), c)
	r.mu.Unlock()

	if prevRoom != "" && prevRoom != r.id {
		s.afterLeave(prevRoom)
	}

	return nil
}

func (s *CollabService) Unsubscribe(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	current := c.RoomID()
	roomID := msg.RoomID
	if roomID == "" {
		roomID = current
	}
	if current == "" || roomID != current {
		glog.V(2).Infof("client %s: unsubscribe from %q ignored, in %q", c.ID, roomID, current)
		return nil
	}

	s.leave(c, roomID)
	return nil
}

// Disconnect releases the room of a closing connection.
func (s *CollabService) Disconnect(ctx context.Context, c *websocket.Client) {
	if roomID := c.RoomID(); roomID != "" {
		s.leave(c, roomID)
	}
}

func (s *CollabService) leave(c *websocket.Client, roomID string) {
	if r := s.cached(roomID); r != nil {
		r.mu.Lock()
		s.manager.Leave(c, roomID)
		r.mu.Unlock()
	} else {
		s.manager.Leave(c, roomID)
	}
	c.SetState(websocket.StateUnsubscribed)
	glog.V(2).Infof("client %s left room %s", c.ID, roomID)

	s.afterLeave(roomID)
}

// afterLeave updates the roster of the remaining members, or closes the room
// when nobody is left.
func (s *CollabService) afterLeave(roomID string) {
	if s.manager.RoomSize(roomID) > 0 {
		s.manager.Broadcast(roomID, s.roster(roomID), nil)
		return
	}
	if r := s.cached(roomID); r != nil {
		r.mu.Lock()
		s.evictIfEmpty(r)
		r.mu.Unlock()
	}
}

func (s *CollabService) roster(roomID string) *websocket.Message {
	members := s.manager.Members(roomID)

	sessions := make(map[string][]string)
	for _, m := range members {
		sessions[m.UserID()] = append(sessions[m.UserID()], m.ID)
	}

	list := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		list = append(list, domain.Participant{
			ID:         m.UserID(),
			Name:       m.UserName(),
			SessionID:  m.ID,
			SessionIDs: sessions[m.UserID()],
		})
	}

	msg := websocket.NewMessage(websocket.TypeConnections)
	msg.ParticipantList = list
	return msg
}

// subscribedRoom returns the room c may act on, or false with a log line.
func subscribedRoom(c *websocket.Client, msgType websocket.MessageType) (string, bool) {
	roomID := c.RoomID()
	if c.State() != websocket.StateSubscribed || roomID == "" {
		glog.V(2).Infof("client %s: ignoring %s outside a room", c.ID, msgType)
		return "", false
	}
	return roomID, true
}

// HandleDiff accepts a diff if it is based on the current version. The
// first diff to reach a version wins; everything else based on that version
// is rejected and the client rebases.
func (s *CollabService) HandleDiff(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	roomID, ok := subscribedRoom(c, msg.Type)
	if !ok {
		return nil
	}

	r, err := s.acquire(ctx, roomID)
	if err != nil {
		c.SendMessage(websocket.NewRidMessage(websocket.TypeRejectDiff, msg.RID))
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	defer r.mu.Unlock()

	if msg.V == nil {
		c.SendMessage(websocket.NewRidMessage(websocket.TypeRejectDiff, msg.RID))
		return nil
	}
	if err := r.checkBase(*msg.V); err != nil {
		glog.V(2).Infof("client %s: %v", c.ID, err)
		c.SendMessage(websocket.NewRidMessage(websocket.TypeRejectDiff, msg.RID))
		return nil
	}

	node, err := r.next(msg)
	if err != nil {
		glog.Warningf("client %s: diff on %s v%d does not apply: %v", c.ID, roomID, r.version, err)
		s.resetCollaboration(r)
		return nil
	}

	content, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode %s: %w", roomID, err)
	}

	page, err := s.pages.UpdateContent(ctx, &domain.ContentUpdate{
		PageID:          roomID,
		Content:         content,
		ContentText:     node.TextContent(),
		Title:           msg.Title,
		ExpectedVersion: r.version,
		UpdatedBy:       c.UserID(),
	})
	if err != nil {
		c.SendMessage(websocket.NewRidMessage(websocket.TypeRejectDiff, msg.RID))
		if errors.Is(err, repository.ErrVersionConflict) {
			glog.V(2).Infof("room %s moved on in the store, reloading", roomID)
			if err := r.load(ctx, s.pages); err != nil {
				r.stale = true
				glog.Warningf("room %s: reload failed: %v", roomID, err)
			}
			return nil
		}
		return fmt.Errorf("persist %s: %w", roomID, err)
	}

	out := msg.Clone()
	r.commit(out, node, content, page.Version, page.UpdatedAt)

	c.SendMessage(websocket.NewRidMessage(websocket.TypeConfirmDiff, msg.RID))
	s.manager.Broadcast(roomID, out, c)
	s.publish(ctx, roomID, out)

	return nil
}

// resetCollaboration sends everyone in the room a fresh snapshot followed by
// patch_error, after a diff that could not be applied.
func (s *CollabService) resetCollaboration(r *docRoom) {
	for _, member := range s.manager.Members(r.id) {
		s.sendDocData(member, r, nil)
		member.SendMessage(websocket.NewMessage(websocket.TypePatchError))
	}
}

// HandleSelection relays a cursor update when it refers to the current
// version.
func (s *CollabService) HandleSelection(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	roomID, ok := subscribedRoom(c, msg.Type)
	if !ok {
		return nil
	}

	r, err := s.acquire(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	defer r.mu.Unlock()

	if msg.V == nil || *msg.V != r.version {
		return nil
	}

	out := msg.Clone()
	s.manager.Broadcast(roomID, out, c)
	s.publish(ctx, roomID, out)
	return nil
}

// GetDocument sends a snapshot read from the store.
func (s *CollabService) GetDocument(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	roomID, ok := subscribedRoom(c, msg.Type)
	if !ok {
		return nil
	}

	r, err := s.acquire(ctx, roomID)
	if err != nil {
		c.SendError(msgLoadFailed)
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	defer r.mu.Unlock()

	page, err := s.pages.FindByID(ctx, roomID)
	if err != nil {
		c.SendError(msgLoadFailed)
		return fmt.Errorf("read page %s: %w", roomID, err)
	}
	if page.Version != r.version {
		if err := r.reset(page); err != nil {
			c.SendError(msgLoadFailed)
			return err
		}
	}

	s.sendDocData(c, r, nil)
	return nil
}

// CheckVersion confirms the client's version, or brings it up to date with
// the missing diffs or a full snapshot.
func (s *CollabService) CheckVersion(ctx context.Context, c *websocket.Client, msg *websocket.Message) error {
	roomID, ok := subscribedRoom(c, msg.Type)
	if !ok {
		return nil
	}

	r, err := s.acquire(ctx, roomID)
	if err != nil {
		c.SendError(msgLoadFailed)
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	defer r.mu.Unlock()

	v := msg.VersionOr(-1)
	if v == r.version {
		c.SendMessage(websocket.NewVersionMessage(websocket.TypeConfirmVersion, v))
		return nil
	}

	missed, ok := r.diffsSince(v)
	if !ok {
		glog.V(2).Infof("client %s: version %d too old for %s at %d", c.ID, v, roomID, r.version)
		missed = nil
	}
	s.sendDocData(c, r, missed)
	return nil
}

func (s *CollabService) sendDocData(c *websocket.Client, r *docRoom, missed []*websocket.Message) {
	msg, err := websocket.NewDocData(r.docInfo(c.ID), r.content, missed)
	if err != nil {
		glog.Errorf("room %s: failed to build doc_data: %v", r.id, err)
		return
	}
	c.SendMessage(msg)
}

func (s *CollabService) publish(ctx context.Context, roomID string, msg *websocket.Message) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Publish(ctx, roomID, msg); err != nil {
		glog.Warningf("room %s: relay publish failed: %v", roomID, err)
	}
}

// HandleRelay applies a message published by another instance. A remote
// diff that does not line up with the cached room marks it stale so the next
// access reloads from the store.
func (s *CollabService) HandleRelay(ctx context.Context, env relay.Envelope) {
	var msg websocket.Message
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		glog.Warningf("relay: invalid message for %s: %v", env.RoomID, err)
		return
	}

	switch msg.Type {
	case websocket.TypeDiff:
		if r := s.cached(env.RoomID); r != nil {
			r.mu.Lock()
			s.applyRemoteDiff(r, &msg)
			r.mu.Unlock()
		}
	case websocket.TypeSelectionChange:
	default:
		glog.V(2).Infof("relay: ignoring %s for %s", msg.Type, env.RoomID)
		return
	}

	s.manager.Broadcast(env.RoomID, &msg, nil)
}

func (s *CollabService) applyRemoteDiff(r *docRoom, msg *websocket.Message) {
	if !r.loaded || r.stale || msg.V == nil || r.checkBase(*msg.V) != nil {
		r.stale = true
		return
	}
	node, err := r.next(msg)
	if err != nil {
		r.stale = true
		return
	}
	content, err := json.Marshal(node)
	if err != nil {
		r.stale = true
		return
	}
	r.commit(msg, node, content, r.version+1, r.updatedAt)
}
