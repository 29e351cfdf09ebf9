package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"collab-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypePage  = "page"
	docTypeGrant = "grant"
)

type pageDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Page
}

type grantDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.PermissionGrant
}

type couchPageRepository struct {
	client *kivik.Client
	dbName string
}

func NewCouchPageRepository(client *kivik.Client, dbName string) PageRepository {
	return &couchPageRepository{
		client: client,
		dbName: dbName,
	}
}

func pageDocID(id string) string {
	return fmt.Sprintf("page:%s", id)
}

func (r *couchPageRepository) Create(ctx context.Context, page *domain.Page) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, pageDocID(page.ID), &pageDoc{DocType: docTypePage, Page: *page})
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return fmt.Errorf("page %s already exists: %w", page.ID, err)
		}
		return fmt.Errorf("failed to create page: %w", err)
	}

	return nil
}

func (r *couchPageRepository) get(ctx context.Context, id string) (*pageDoc, error) {
	db := r.client.DB(r.dbName)

	var doc pageDoc
	if err := db.Get(ctx, pageDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("failed to find page: %w", err)
	}

	return &doc, nil
}

func (r *couchPageRepository) FindByID(ctx context.Context, id string) (*domain.Page, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &doc.Page, nil
}

// UpdateContent checks the version field and then writes against the _rev it
// read, so a concurrent writer makes CouchDB answer 409.
func (r *couchPageRepository) UpdateContent(ctx context.Context, update *domain.ContentUpdate) (*domain.Page, error) {
	doc, err := r.get(ctx, update.PageID)
	if err != nil {
		return nil, err
	}
	if doc.Version != update.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	applyUpdate(&doc.Page, update, time.Now())

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, pageDocID(update.PageID), doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to update page: %w", err)
	}

	return &doc.Page, nil
}

type couchPermissionRepository struct {
	client *kivik.Client
	dbName string
}

func NewCouchPermissionRepository(client *kivik.Client, dbName string) PermissionRepository {
	return &couchPermissionRepository{
		client: client,
		dbName: dbName,
	}
}

func grantDocID(pageID, userID string) string {
	return fmt.Sprintf("grant:%s:%s", pageID, userID)
}

func (r *couchPermissionRepository) Grant(ctx context.Context, grant *domain.PermissionGrant) error {
	db := r.client.DB(r.dbName)
	docID := grantDocID(grant.PageID, grant.UserID)

	doc := &grantDoc{DocType: docTypeGrant, PermissionGrant: *grant}
	rev, err := db.Get(ctx, docID).Rev()
	switch {
	case err == nil:
		doc.Rev = rev
	case kivik.HTTPStatus(err) != http.StatusNotFound:
		return fmt.Errorf("failed to read grant: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}

	return nil
}

func (r *couchPermissionRepository) FindRole(ctx context.Context, pageID, userID string) (string, error) {
	db := r.client.DB(r.dbName)

	var doc grantDoc
	if err := db.Get(ctx, grantDocID(pageID, userID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", ErrGrantNotFound
		}
		return "", fmt.Errorf("failed to find grant: %w", err)
	}

	return doc.Role, nil
}

// EnsureCouchDB creates the database when it does not exist yet.
func EnsureCouchDB(ctx context.Context, client *kivik.Client, dbName string) (bool, error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := client.CreateDB(ctx, dbName); err != nil {
		if kivik.HTTPStatus(err) == http.StatusPreconditionFailed {
			return false, nil
		}
		return false, fmt.Errorf("failed to create database: %w", err)
	}
	return true, nil
}

// applyUpdate writes update into page and bumps the version.
func applyUpdate(page *domain.Page, update *domain.ContentUpdate, now time.Time) {
	page.Content = update.Content
	page.ContentText = update.ContentText
	if update.Title != nil {
		page.Title = *update.Title
	}
	page.Version = update.ExpectedVersion + 1
	page.UpdatedBy = update.UpdatedBy
	page.UpdatedAt = now
}
