package service

import (
	"context"
	"encoding/json"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/prosemirror"
	"collab-sync-server/internal/rbac"
	"collab-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type PageService struct {
	pages       repository.PageRepository
	permissions *PermissionService
	validate    *validator.Validate
}

func NewPageService(pages repository.PageRepository, permissions *PermissionService) *PageService {
	return &PageService{
		pages:       pages,
		permissions: permissions,
		validate:    validator.New(),
	}
}

// GetSnapshot returns the stored page to a user allowed to read it.
func (s *PageService) GetSnapshot(ctx context.Context, userID, pageID string) (*domain.PageSnapshotResponse, error) {
	allowed, err := s.permissions.Can(ctx, userID, pageID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}

	page, err := s.pages.FindByID(ctx, pageID)
	if err != nil {
		return nil, err
	}

	content := page.Content
	if len(content) == 0 || string(content) == "null" {
		content, _ = json.Marshal(prosemirror.EmptyDoc())
	}

	return &domain.PageSnapshotResponse{
		ID:        page.ID,
		Title:     page.Title,
		Content:   content,
		Version:   page.Version,
		UpdatedAt: page.UpdatedAt,
		UpdatedBy: page.UpdatedBy,
	}, nil
}

// Create stores an empty page at version 0.
func (s *PageService) Create(ctx context.Context, req *domain.CreatePageRequest) (*domain.Page, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	content, err := json.Marshal(prosemirror.EmptyDoc())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	page := &domain.Page{
		ID:        id,
		SpaceID:   req.SpaceID,
		Title:     req.Title,
		Content:   content,
		Version:   0,
		CreatedBy: req.CreatedBy,
		UpdatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.pages.Create(ctx, page); err != nil {
		return nil, err
	}

	return page, nil
}
