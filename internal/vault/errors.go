package vault

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to callers. The HTTP layer maps these to status
// codes; everything else is treated as an internal fault.
var (
	// ErrDuplicateFilename reports that the owner already has a live record
	// with the requested filename.
	ErrDuplicateFilename = errors.New("filename already exists for this owner")

	// ErrDuplicateContent reports that the owner already has a live record
	// pointing at identical content.
	ErrDuplicateContent = errors.New("identical content already uploaded by this owner")

	// ErrNotFound reports a missing file record or blob.
	ErrNotFound = errors.New("file not found")

	// ErrForbidden reports an ownership or visibility violation.
	ErrForbidden = errors.New("operation not permitted for this caller")

	// ErrBadRequest reports invalid caller input, such as an empty filename
	// on rename.
	ErrBadRequest = errors.New("invalid request")

	// ErrUnexpectedStorage reports an I/O failure talking to the blob or
	// metadata store.
	ErrUnexpectedStorage = errors.New("unexpected storage failure")
)

// storageError classifies a low-level failure as ErrUnexpectedStorage while
// keeping the cause in the error chain.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnexpectedStorage, err)
}
