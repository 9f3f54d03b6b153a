package storage

import "errors"

// Domain failures. They are local validation results and are never retried.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicateActive   = errors.New("an active connection already exists between these users")
	ErrNotFound          = errors.New("not found")
	ErrNotAuthorized     = errors.New("only the receiver may respond to this request")
	ErrInvalidTransition = errors.New("connection request has already been processed")
	ErrNotConnected      = errors.New("users are not connected")
	ErrNotAParty         = errors.New("user is not a party to this connection")
	ErrEmptyContent      = errors.New("message content is empty")
)

var domainErrors = map[error]string{
	ErrInvalidRequest:    "invalid_request",
	ErrDuplicateActive:   "duplicate_active",
	ErrNotFound:          "not_found",
	ErrNotAuthorized:     "not_authorized",
	ErrInvalidTransition: "invalid_transition",
	ErrNotConnected:      "not_connected",
	ErrNotAParty:         "not_a_party",
	ErrEmptyContent:      "empty_content",
}

// ErrorCode returns the stable code of a domain error, or "" for anything else.
func ErrorCode(err error) string {
	for target, code := range domainErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

// IsDomainError reports whether err wraps one of the domain failures.
func IsDomainError(err error) bool {
	return ErrorCode(err) != ""
}
