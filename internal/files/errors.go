package files

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file or its parent unit does not exist, or when the
	// file belongs to a different unit.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when no caller identity is supplied.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports an upload rejected by policy before any physical write.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Filename == "" {
		return e.Reason
	}
	return fmt.Sprintf("file %q: %s", e.Filename, e.Reason)
}

// StorageWriteError reports that the backend rejected a file. No ledger row exists for it.
type StorageWriteError struct {
	Filename string
	Err      error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("file %q upload failed: %v", e.Filename, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}
