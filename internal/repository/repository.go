package repository

import (
	"context"

	"collab-sync-server/internal/domain"
)

type PageRepository interface {
	Create(ctx context.Context, page *domain.Page) error
	FindByID(ctx context.Context, id string) (*domain.Page, error)
	// UpdateContent stores new content only if the stored version still
	// equals update.ExpectedVersion. The returned page carries the new
	// version. A moved version yields ErrVersionConflict.
	UpdateContent(ctx context.Context, update *domain.ContentUpdate) (*domain.Page, error)
}

type PermissionRepository interface {
	Grant(ctx context.Context, grant *domain.PermissionGrant) error
	// FindRole returns the role granted to userID on pageID, or
	// ErrGrantNotFound.
	FindRole(ctx context.Context, pageID, userID string) (string, error)
}
