package failures

import "errors"

// Sentinel errors surfaced by manual reprocessing operations. The ops layer
// maps each one onto a distinct client-visible status.
var (
	// ErrNotFound indicates no failure record exists for the given id.
	ErrNotFound = errors.New("failure record not found")
	// ErrInvalidState indicates the record is not pending reprocessing, or
	// has exhausted its attempt budget.
	ErrInvalidState = errors.New("failure record not eligible for reprocessing")
	// ErrRateLimited indicates the reprocessing cool-down window has not yet
	// elapsed.
	ErrRateLimited = errors.New("reprocessing blocked until cool-down elapses")
	// ErrMissingPayload indicates the stored envelope carries no payload to
	// republish.
	ErrMissingPayload = errors.New("failure record has no event payload to reprocess")
)
