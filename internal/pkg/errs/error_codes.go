/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients, over HTTP
responses and websocket acknowledgements alike.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Voting and Identity Errors
const (
	// ErrUnknownCandidate indicates a vote for a candidate id that is not on the board.
	ErrUnknownCandidate = 2101

	// ErrVoteLimitReached indicates the identity has used all of its votes.
	ErrVoteLimitReached = 2102

	// ErrVoteFailed indicates the vote could not be durably recorded.
	ErrVoteFailed = 2103

	// ErrIdentityNotFound indicates the user token is not known to the identity store.
	ErrIdentityNotFound = 2201

	// ErrPayoutAddressUpdateFailed indicates the payout address could not be persisted.
	ErrPayoutAddressUpdateFailed = 2202
)

// 3xxx: Session and Security Errors
const (
	// ErrUnauthorized indicates a missing or wrong administrative secret.
	ErrUnauthorized = 3001

	// ErrSessionDropped indicates the connection was closed because it could not keep up.
	ErrSessionDropped = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates the durable store could not serve the request.
	ErrStoreUnavailable = 5001
)
