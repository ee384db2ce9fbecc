package models

import (
	"errors"
	"fmt"
)

// Error categories. Handlers map these to HTTP status codes.
const (
	CategoryAuthentication = "authentication"
	CategoryPairing        = "pairing"
	CategoryAuthorization  = "authorization"
	CategoryNotFound       = "not_found"
	CategoryValidation     = "validation"
	CategoryMalformed      = "malformed"
	CategoryTransient      = "transient"
	CategoryRateLimit      = "rate_limit"
)

// Error codes
const (
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeNotPaired         = "NOT_PAIRED"
	CodeAlreadyPaired     = "ALREADY_PAIRED"
	CodeInvalidFormat     = "INVALID_FORMAT"
	CodePairCodeNotFound  = "CODE_NOT_FOUND"
	CodePairCodeExpired   = "CODE_EXPIRED"
	CodePairCodeUsed      = "CODE_ALREADY_USED"
	CodeSelfRedemption    = "SELF_REDEMPTION"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeMalformedDocument = "MALFORMED_DOCUMENT"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeRateLimited       = "RATE_LIMITED"
)

// APIError is the error type surfaced to callers. Two APIErrors match under
// errors.Is when their codes are equal, so wrapped or detailed copies still
// match the sentinel values below.
type APIError struct {
	Code     string
	Message  string
	Category string
	Action   string
	Err      error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches on error code
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotAuthenticated = &APIError{
		Code:     CodeNotAuthenticated,
		Message:  "no identity present",
		Category: CategoryAuthentication,
		Action:   "Sign in again.",
	}
	ErrNotPaired = &APIError{
		Code:     CodeNotPaired,
		Message:  "pair not established",
		Category: CategoryPairing,
		Action:   "Pair with your partner first.",
	}
	ErrAlreadyPaired = &APIError{
		Code:     CodeAlreadyPaired,
		Message:  "user is already in a pair",
		Category: CategoryPairing,
		Action:   "Unpair before pairing with someone else.",
	}
	ErrInvalidFormat = &APIError{
		Code:     CodeInvalidFormat,
		Message:  "pairing code must be 8 letters or digits",
		Category: CategoryPairing,
		Action:   "Check the code and try again.",
	}
	ErrPairCodeNotFound = &APIError{
		Code:     CodePairCodeNotFound,
		Message:  "pairing code not found",
		Category: CategoryPairing,
		Action:   "Check the code and try again.",
	}
	ErrPairCodeExpired = &APIError{
		Code:     CodePairCodeExpired,
		Message:  "pairing code has expired",
		Category: CategoryPairing,
		Action:   "Ask your partner for a new code.",
	}
	ErrPairCodeUsed = &APIError{
		Code:     CodePairCodeUsed,
		Message:  "pairing code has already been used",
		Category: CategoryPairing,
		Action:   "Ask your partner for a new code.",
	}
	ErrSelfRedemption = &APIError{
		Code:     CodeSelfRedemption,
		Message:  "cannot pair with yourself",
		Category: CategoryPairing,
		Action:   "Enter the code on your partner's device.",
	}
	ErrForbidden = &APIError{
		Code:     CodeForbidden,
		Message:  "forbidden: not in this pair",
		Category: CategoryAuthorization,
		Action:   "You can only access data shared with your partner.",
	}
	ErrNotFound = &APIError{
		Code:     CodeNotFound,
		Message:  "not found",
		Category: CategoryNotFound,
		Action:   "Refresh and try again.",
	}
	ErrInvalidInput = &APIError{
		Code:     CodeInvalidInput,
		Message:  "invalid input",
		Category: CategoryValidation,
		Action:   "Check the submitted fields.",
	}
	ErrMalformedDocument = &APIError{
		Code:     CodeMalformedDocument,
		Message:  "stored document is malformed",
		Category: CategoryMalformed,
	}
	ErrStoreUnavailable = &APIError{
		Code:     CodeStoreUnavailable,
		Message:  "backing store unavailable",
		Category: CategoryTransient,
		Action:   "Try again in a moment.",
	}
	ErrRateLimited = &APIError{
		Code:     CodeRateLimited,
		Message:  "too many requests",
		Category: CategoryRateLimit,
		Action:   "Wait a minute and try again.",
	}
)

// NewInvalidInputError returns a validation error naming the offending field
func NewInvalidInputError(field, reason string) *APIError {
	return &APIError{
		Code:     CodeInvalidInput,
		Message:  fmt.Sprintf("invalid %s: %s", field, reason),
		Category: CategoryValidation,
		Action:   ErrInvalidInput.Action,
	}
}

// NewNotFoundError returns a not-found error for one document
func NewNotFoundError(collection, id string) *APIError {
	return &APIError{
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %s not found", collection, id),
		Category: CategoryNotFound,
		Action:   ErrNotFound.Action,
	}
}

// NewMalformedDocumentError reports a stored document that failed decoding
func NewMalformedDocumentError(collection, id string, cause error) *APIError {
	return &APIError{
		Code:     CodeMalformedDocument,
		Message:  fmt.Sprintf("%s document %s is malformed", collection, id),
		Category: CategoryMalformed,
		Err:      cause,
	}
}

// Transient wraps a backing store failure. Nil and already-typed errors pass through.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{
		Code:     CodeStoreUnavailable,
		Message:  ErrStoreUnavailable.Message,
		Category: CategoryTransient,
		Action:   ErrStoreUnavailable.Action,
		Err:      err,
	}
}

// CategoryOf returns the category of the first APIError in err's chain, or
// CategoryTransient for untyped errors.
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryTransient
}
