package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/rbac"
	"collab-sync-server/internal/repository"
)

// PermissionService answers page access questions. The page creator is
// implicitly admin; everyone else needs a grant.
type PermissionService struct {
	pages repository.PageRepository
	perms repository.PermissionRepository
}

func NewPermissionService(pages repository.PageRepository, perms repository.PermissionRepository) *PermissionService {
	return &PermissionService{
		pages: pages,
		perms: perms,
	}
}

func (s *PermissionService) Role(ctx context.Context, userID, pageID string) (rbac.Role, error) {
	if userID == "" {
		return rbac.RoleNone, nil
	}

	page, err := s.pages.FindByID(ctx, pageID)
	if err != nil {
		return rbac.RoleNone, err
	}
	if page.CreatedBy == userID {
		return rbac.RoleAdmin, nil
	}

	role, err := s.perms.FindRole(ctx, pageID, userID)
	if errors.Is(err, repository.ErrGrantNotFound) {
		return rbac.RoleNone, nil
	}
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("failed to read role: %w", err)
	}

	return rbac.Parse(role), nil
}

func (s *PermissionService) Can(ctx context.Context, userID, pageID string, action rbac.Action) (bool, error) {
	role, err := s.Role(ctx, userID, pageID)
	if err != nil {
		return false, err
	}
	return rbac.Can(role, action), nil
}

func (s *PermissionService) CanEdit(ctx context.Context, userID, pageID string) (bool, error) {
	return s.Can(ctx, userID, pageID, rbac.ActionEditContent)
}

// Grant stores a role for a user on an existing page.
func (s *PermissionService) Grant(ctx context.Context, grant *domain.PermissionGrant) error {
	if !rbac.Valid(grant.Role) {
		return fmt.Errorf("unknown role %q", grant.Role)
	}
	if _, err := s.pages.FindByID(ctx, grant.PageID); err != nil {
		return err
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now()
	}
	return s.perms.Grant(ctx, grant)
}
