package handler

import (
	"errors"
	"net/http"

	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/service"
	"collab-sync-server/pkg/response"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

type PageHandler struct {
	service *service.PageService
}

func NewPageHandler(service *service.PageService) *PageHandler {
	return &PageHandler{
		service: service,
	}
}

// Get returns the stored snapshot of a page to a reader.
func (h *PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	pageID := mux.Vars(r)["id"]
	if pageID == "" {
		response.BadRequest(w, "Page ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	snapshot, err := h.service.GetSnapshot(r.Context(), userID, pageID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPermissionDenied):
			response.Forbidden(w, "You do not have permission to view this page")
		case errors.Is(err, repository.ErrPageNotFound):
			response.NotFound(w, "Page not found")
		default:
			glog.Errorf("[%s] failed to load page %s: %v", middleware.GetRequestID(r.Context()), pageID, err)
			response.InternalError(w, "Failed to load page")
		}
		return
	}

	response.Success(w, snapshot)
}
