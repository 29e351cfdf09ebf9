package repository

import "errors"

var (
	ErrPageNotFound    = errors.New("page not found")
	ErrVersionConflict = errors.New("page version conflict")
	ErrGrantNotFound   = errors.New("permission grant not found")
)
