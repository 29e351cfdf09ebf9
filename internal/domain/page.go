package domain

import (
	"encoding/json"
	"time"
)

type Page struct {
	ID          string          `json:"id"`
	SpaceID     string          `json:"space_id"`
	Title       string          `json:"title"`
	Content     json.RawMessage `json:"content"`
	ContentText string          `json:"content_text"`
	Version     int64           `json:"version"`
	CreatedBy   string          `json:"created_by"`
	UpdatedBy   string          `json:"updated_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ContentUpdate replaces the content of a page if and only if the stored
// version still equals ExpectedVersion. The stored version becomes
// ExpectedVersion+1.
type ContentUpdate struct {
	PageID          string
	Content         json.RawMessage
	ContentText     string
	Title           *string
	ExpectedVersion int64
	UpdatedBy       string
}

type CreatePageRequest struct {
	ID        string `json:"id" validate:"omitempty,uuid"`
	SpaceID   string `json:"space_id"`
	Title     string `json:"title" validate:"required"`
	CreatedBy string `json:"created_by" validate:"required"`
}

type PageSnapshotResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by,omitempty"`
}
