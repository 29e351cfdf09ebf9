package handler

import (
	"net/http"

	"collab-sync-server/internal/websocket"
	"collab-sync-server/pkg/response"
)

type HealthHandler struct {
	manager *websocket.Manager
	service string
}

func NewHealthHandler(manager *websocket.Manager, service string) *HealthHandler {
	return &HealthHandler{
		manager: manager,
		service: service,
	}
}

type healthStatus struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Connections int    `json:"connections"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	response.Success(w, healthStatus{
		Status:      "healthy",
		Service:     h.service,
		Connections: h.manager.ClientCount(),
	})
}
