package token

import "errors"

var (
	// ErrInvalidSignature is returned when the token cannot be parsed or its signature does not verify.
	ErrInvalidSignature = errors.New("invalid token")
	// ErrExpired is returned when the token has no expiry or the expiry has passed.
	ErrExpired = errors.New("token has expired")
	// ErrTooOld is returned when the token was issued more than MaxTokenAge ago.
	ErrTooOld = errors.New("token is too old")
	// ErrInsufficientRole is returned when none of the required roles is present in the claims.
	ErrInsufficientRole = errors.New("insufficient permissions")
	// ErrOutsideAccessWindow is returned when the current time-of-day is outside the token's access window.
	ErrOutsideAccessWindow = errors.New("outside access window")
)

// AuthError carries one of the sentinel errors above plus a client facing message.
type AuthError struct {
	Kind    error
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Kind
}

func authErr(kind error, msg string) *AuthError {
	return &AuthError{Kind: kind, Message: msg}
}
