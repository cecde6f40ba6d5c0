package domain

import "errors"

// Error kinds surfaced to callers. Packages wrap their own errors with one of these
// so the transport layer can map them without knowing every sentinel.
var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrReadFailure          = errors.New("read failure")
	ErrWriteFailure         = errors.New("write failure")
	ErrCommitFailure        = errors.New("commit failure")
	ErrConfirmationDeclined = errors.New("confirmation declined")
)
