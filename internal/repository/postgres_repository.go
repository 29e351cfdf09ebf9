package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-sync-server/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pages (
	id           UUID PRIMARY KEY,
	space_id     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	content      JSONB,
	content_text TEXT NOT NULL DEFAULT '',
	version      BIGINT NOT NULL DEFAULT 0,
	created_by   TEXT NOT NULL,
	updated_by   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS page_permissions (
	page_id    UUID NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (page_id, user_id)
);
`

const pageColumns = `id, space_id, title, COALESCE(content, 'null'::jsonb), content_text, version, created_by, updated_by, created_at, updated_at`

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

type postgresPageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPageRepository(pool *pgxpool.Pool) PageRepository {
	return &postgresPageRepository{pool: pool}
}

func scanPage(row pgx.Row) (*domain.Page, error) {
	var (
		page    domain.Page
		content json.RawMessage
	)
	err := row.Scan(
		&page.ID,
		&page.SpaceID,
		&page.Title,
		&content,
		&page.ContentText,
		&page.Version,
		&page.CreatedBy,
		&page.UpdatedBy,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	page.Content = content
	return &page, nil
}

func (r *postgresPageRepository) Create(ctx context.Context, page *domain.Page) error {
	now := time.Now()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = now
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO pages (id, space_id, title, content, content_text, version, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, page.ID, page.SpaceID, page.Title, nullableJSON(page.Content), page.ContentText, page.Version,
		page.CreatedBy, page.UpdatedBy, page.CreatedAt, page.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (r *postgresPageRepository) FindByID(ctx context.Context, id string) (*domain.Page, error) {
	page, err := scanPage(r.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return page, nil
}

func (r *postgresPageRepository) UpdateContent(ctx context.Context, update *domain.ContentUpdate) (*domain.Page, error) {
	page, err := scanPage(r.pool.QueryRow(ctx, `
		UPDATE pages
		SET content=$1, content_text=$2, title=COALESCE($3, title), version=version+1, updated_by=$4, updated_at=NOW()
		WHERE id=$5 AND version=$6
		RETURNING `+pageColumns,
		nullableJSON(update.Content), update.ContentText, update.Title, update.UpdatedBy, update.PageID, update.ExpectedVersion))
	if err == nil {
		return page, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update page: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE id=$1)`, update.PageID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check page: %w", err)
	}
	if !exists {
		return nil, ErrPageNotFound
	}
	return nil, ErrVersionConflict
}

type postgresPermissionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPermissionRepository(pool *pgxpool.Pool) PermissionRepository {
	return &postgresPermissionRepository{pool: pool}
}

func (r *postgresPermissionRepository) Grant(ctx context.Context, grant *domain.PermissionGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO page_permissions (page_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, grant.PageID, grant.UserID, grant.Role)
	if err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

func (r *postgresPermissionRepository) FindRole(ctx context.Context, pageID, userID string) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM page_permissions WHERE page_id=$1 AND user_id=$2`, pageID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrGrantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read grant: %w", err)
	}
	return role, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
