package inventory

import "errors"

var (
	// ErrCameraNotFound is returned when a unique id is not in the inventory.
	ErrCameraNotFound = errors.New("inventory: camera not found")

	// ErrInvalidCamera is returned when a camera record is missing its
	// unique id or path.
	ErrInvalidCamera = errors.New("inventory: invalid camera")
)
