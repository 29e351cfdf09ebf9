package domain

import "time"

type PermissionGrant struct {
	PageID    string    `json:"page_id" validate:"required,uuid"`
	UserID    string    `json:"user_id" validate:"required"`
	Role      string    `json:"role" validate:"required,oneof=viewer commenter editor admin"`
	CreatedAt time.Time `json:"created_at"`
}
