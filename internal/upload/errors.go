package upload

import "errors"

var (
	ErrNotFound          = errors.New("upload not found")
	ErrInvalidTransition = errors.New("invalid upload transition")
	ErrInvalidName       = errors.New("invalid file name")
	ErrClosed            = errors.New("upload machine closed")

	// ErrCancelled and ErrSimulatedFailure name the two ways a record can fail.
	ErrCancelled        = errors.New("upload cancelled")
	ErrSimulatedFailure = errors.New("simulated upload failure")
)

// Err returns the error matching a failed record's kind, nil otherwise.
func (r Record) Err() error {
	switch r.Failure {
	case FailureCancelled:
		return ErrCancelled
	case FailureSimulated:
		return ErrSimulatedFailure
	}
	return nil
}
