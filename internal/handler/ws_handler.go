package handler

import (
	"context"
	"net/http"

	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/service"
	"collab-sync-server/internal/websocket"

	"github.com/golang/glog"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// WebSocketHandler upgrades /ws requests. Connections authenticate per
// subscribe message, so the upgrade itself is open.
type WebSocketHandler struct {
	manager  *websocket.Manager
	ctx      context.Context
	upgrader ws.Upgrader
}

// NewWebSocketHandler ties every accepted connection to ctx; cancelling it
// stops their read loops.
func NewWebSocketHandler(ctx context.Context, manager *websocket.Manager, readBuffer, writeBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		ctx:     ctx,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[%s] failed to upgrade connection: %v", requestID, err)
		return
	}

	client := h.manager.NewClient(uuid.New().String(), conn)
	glog.V(1).Infof("[%s] connection %s opened from %s", requestID, client.ID, r.RemoteAddr)

	if !h.manager.RegisterClient(client) {
		glog.V(1).Infof("[%s] manager stopped, closing connection %s", requestID, client.ID)
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(h.ctx)
}

// WebSocketMessageHandler routes sequenced client messages to the
// collaboration engine.
type WebSocketMessageHandler struct {
	collab *service.CollabService
}

func NewWebSocketMessageHandler(collab *service.CollabService) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		collab: collab,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSubscribe:
		return h.collab.Subscribe(ctx, client, msg)

	case websocket.TypeUnsubscribe:
		return h.collab.Unsubscribe(ctx, client, msg)

	case websocket.TypeDiff:
		return h.collab.HandleDiff(ctx, client, msg)

	case websocket.TypeSelectionChange:
		return h.collab.HandleSelection(ctx, client, msg)

	case websocket.TypeGetDocument:
		return h.collab.GetDocument(ctx, client, msg)

	case websocket.TypeCheckVersion:
		return h.collab.CheckVersion(ctx, client, msg)

	default:
		glog.V(1).Infof("client %s: unknown message type: %s", client.ID, msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) HandleDisconnect(ctx context.Context, client *websocket.Client) {
	h.collab.Disconnect(ctx, client)
}
