package examapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two remote outcomes the caller recovers from
// locally: duplicate-submission conflicts become success, not-ready results
// get retried.
var (
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrNotReady         = errors.New("result not yet ready")
)

// Remote error codes the platform returns in its envelope.
const (
	codeAlreadySubmitted = "ALREADY_SUBMITTED"
	codeResultNotReady   = "RESULT_NOT_READY"
)

// APIError is any other classified failure from the platform.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error %s (%d): %s", e.Code, e.StatusCode, e.Message)
}
