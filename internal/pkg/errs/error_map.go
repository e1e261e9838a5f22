/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, websocket failure signals and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Voting and Identity Errors
	ErrUnknownCandidate:          {Code: ErrUnknownCandidate, Message: "Unknown candidate."},
	ErrVoteLimitReached:          {Code: ErrVoteLimitReached, Message: "You have used all %d of your votes."},
	ErrVoteFailed:                {Code: ErrVoteFailed, Message: "Failed to record vote."},
	ErrIdentityNotFound:          {Code: ErrIdentityNotFound, Message: "Unknown user."},
	ErrPayoutAddressUpdateFailed: {Code: ErrPayoutAddressUpdateFailed, Message: "Failed to save payout address."},

	// 3xxx: Session and Security Errors
	ErrUnauthorized:   {Code: ErrUnauthorized, Message: "Unauthorized.", Status: http.StatusUnauthorized},
	ErrSessionDropped: {Code: ErrSessionDropped, Message: "Connection too slow, please reconnect."},

	// 5xxx: Internal System Errors
	ErrUnknown:          {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStoreUnavailable: {Code: ErrStoreUnavailable, Message: "Storage is temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
