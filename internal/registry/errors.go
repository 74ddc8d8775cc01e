package registry

import "errors"

// Errors returned by the registry, liveness and legacy migration services.
// Callers match them with errors.Is.
var (
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrNotFound            = errors.New("not found")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrUnauthorized        = errors.New("device credentials rejected")
	ErrSlotTaken           = errors.New("slot already taken")
	ErrDuplicateName       = errors.New("project name already in use")
	ErrInvalidName         = errors.New("project name must not be empty")
	ErrInvalidSlot         = errors.New("slot out of range")
	ErrCapacityExceeded    = errors.New("identifier capacity exceeded")
	ErrMigrationFailure    = errors.New("legacy identifier migration failed")
)
