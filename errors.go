package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrItemNotFound = errors.New("conveyor: item not found")
	ErrStepNotFound = errors.New("conveyor: step not found")

	// Conflict errors.
	ErrItemAlreadyExists   = errors.New("conveyor: item already exists")
	ErrStepAlreadyExists   = errors.New("conveyor: step already exists")
	ErrConcurrencyConflict = errors.New("conveyor: concurrency conflict")

	// Argument errors.
	ErrInvalidOwner       = errors.New("conveyor: lease owner must not be empty")
	ErrInvalidLimit       = errors.New("conveyor: limit must be positive")
	ErrInvalidMaxAttempts = errors.New("conveyor: max attempts must be positive")
	ErrInvalidTable       = errors.New("conveyor: invalid table name")

	// State errors.
	ErrInvalidState = errors.New("conveyor: invalid state transition")
)
