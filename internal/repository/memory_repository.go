package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collab-sync-server/internal/domain"
)

// MemoryStore keeps pages and grants in process. It backs the memory driver
// and the service tests.
type MemoryStore struct {
	mu     sync.RWMutex
	pages  map[string]domain.Page
	grants map[string]domain.PermissionGrant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:  make(map[string]domain.Page),
		grants: make(map[string]domain.PermissionGrant),
	}
}

func (s *MemoryStore) Create(ctx context.Context, page *domain.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pages[page.ID]; exists {
		return fmt.Errorf("page %s already exists", page.ID)
	}

	now := time.Now()
	stored := *page
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	s.pages[page.ID] = stored

	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*domain.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, ok := s.pages[id]
	if !ok {
		return nil, ErrPageNotFound
	}
	return &page, nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, update *domain.ContentUpdate) (*domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[update.PageID]
	if !ok {
		return nil, ErrPageNotFound
	}
	if page.Version != update.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	applyUpdate(&page, update, time.Now())
	s.pages[page.ID] = page

	return &page, nil
}

func (s *MemoryStore) Grant(ctx context.Context, grant *domain.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *grant
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.grants[grantDocID(grant.PageID, grant.UserID)] = stored

	return nil
}

func (s *MemoryStore) FindRole(ctx context.Context, pageID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantDocID(pageID, userID)]
	if !ok {
		return "", ErrGrantNotFound
	}
	return grant.Role, nil
}
