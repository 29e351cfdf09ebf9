package service

import (
	"errors"
	"fmt"
)

var ErrPermissionDenied = errors.New("permission denied")

// Client-facing error texts.
const (
	msgNoPermission = "You do not have permission to view this page"
	msgLoadFailed   = "There was an error loading the page! Please try again later."
)

// StaleVersionError reports a diff whose base version is not the room's
// current version.
type StaleVersionError struct {
	RoomID  string
	Base    int64
	Current int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("diff for %s based on version %d, current is %d", e.RoomID, e.Base, e.Current)
}
