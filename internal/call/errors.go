package call

import "errors"

var (
	// ErrNotFound is returned when a conversation does not exist for the
	// tenant. Cross-tenant lookups return this same error so callers cannot
	// distinguish "wrong tenant" from "does not exist".
	ErrNotFound = errors.New("conversation not found")

	// ErrCallbackNotFound is returned when no matching callback request exists.
	ErrCallbackNotFound = errors.New("callback request not found")

	// ErrRatingOutOfRange is returned when an analysis carries a rating
	// outside [1,10].
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 10")

	// ErrInvalidCallbackStatus is returned for a status outside the known set.
	ErrInvalidCallbackStatus = errors.New("invalid callback status")
)
