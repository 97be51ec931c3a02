package types

import "errors"

// Lookup errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidStage  = errors.New("invalid stage")
)

// Source errors. The resolution engine treats these as fallback triggers
// and never surfaces them from Resolve.
var (
	ErrUnavailable        = errors.New("source unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoDirectory        = errors.New("no directory granted")
	ErrResolutionInFlight = errors.New("resolution already in flight")
	ErrReadOnlyMode       = errors.New("mode does not support writes")
)

// ValidateID rejects ids that cannot be used as a directory or record name.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." {
		return ErrInvalidID
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r == 0 {
			return ErrInvalidID
		}
	}
	return nil
}
