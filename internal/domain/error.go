package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Admission control (returned synchronously, never retried)
	ErrRateLimitExceeded = errors.New("account admission rate limit exceeded")
	ErrDuplicateRequest  = errors.New("duplicate delivery request for lead")

	// Delivery failures
	ErrTransientDelivery   = errors.New("transient delivery failure")
	ErrAuthExpired         = errors.New("access token expired or rejected")
	ErrCredentialsInvalid  = errors.New("account credentials invalid")
	ErrAuthorizationFailed = errors.New("automation session authorization failed")
	ErrElementNotFound     = errors.New("no locator matched the target element")
	ErrResourceExhausted   = errors.New("automation pool at capacity")
	ErrAPIDenied           = errors.New("messaging API unavailable for tenant")

	// Storage plumbing
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)

// IsTerminal reports whether err must not be retried by the delivery loop.
// Anything else, including unexpected errors, counts against the attempt
// budget and is retried with backoff.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrCredentialsInvalid) ||
		errors.Is(err, ErrAuthorizationFailed) ||
		errors.Is(err, ErrElementNotFound)
}

// IsRequeueWithoutAttempt reports whether err should put the job back in the
// queue without consuming an attempt (pool saturation, not a delivery fault).
func IsRequeueWithoutAttempt(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}
