package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: no unexpired record for the id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict: the requested action is incompatible with the job's
	// current state (e.g. cancelling a terminal job). Informative, not
	// fatal; callers must be able to tell it apart from ErrNotFound.
	ErrConflict = errors.New("job already in a terminal state")

	// ErrNotReady: result requested before the job completed.
	ErrNotReady = errors.New("job not completed")

	// ErrStoreUnavailable: the result store or queue could not be
	// reached. Retryable; never recorded on the job itself.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError rejects a submission before anything is enqueued.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
