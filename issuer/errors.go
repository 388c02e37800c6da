package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes reported by backends.
const (
	CodeValidation          = "validation_failed"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeUserExists          = "user_already_exists"
	CodeUserNotFound        = "user_not_found"
	CodeWeakPassword        = "weak_password"
	CodeInvalidRefreshToken = "invalid_refresh_token"
	CodeSessionNotFound     = "session_not_found"
	CodeTokenExpired        = "token_expired"
	CodeInvalidToken        = "bad_jwt"
	CodeRateLimited         = "over_request_rate_limit"
	CodeUnexpected          = "unexpected_failure"
)

// Messages reported by [Local]. They follow the wording of hosted auth providers so
// the same message catalog can be used against either.
const (
	MsgInvalidCredentials  = "Invalid login credentials"
	MsgUserExists          = "User already registered"
	MsgUserNotFound        = "User not found"
	MsgInvalidEmail        = "Unable to validate email address: invalid format"
	MsgRefreshNotFound     = "Invalid Refresh Token: Refresh Token Not Found"
	MsgRefreshReused       = "Invalid Refresh Token: Already Used"
	MsgSessionNotFound     = "Session from session_id claim in JWT does not exist"
	MsgTokenExpired        = "Token has expired or is invalid"
	MsgInvalidJWT          = "invalid JWT: unable to parse or verify signature"
	MsgResetTokenInvalid   = "Reset link is invalid or has expired"
	MsgTooManyAttempts     = "Too many attempts, please try again later"
	MsgUnexpected          = "Unexpected failure, please check server logs for more information"
	msgWeakPasswordPattern = "Password should be at least %d characters."
)

// Error is a failure reported by the backend itself.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"msg"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("issuer: %s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("issuer: %s (status %d)", e.Message, e.Status)
}

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WeakPasswordError builds the error returned for passwords under min bytes.
func WeakPasswordError(min int) *Error {
	return newError(http.StatusUnprocessableEntity, CodeWeakPassword, fmt.Sprintf(msgWeakPasswordPattern, min))
}

// AsError unwraps err to an [*Error].
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsInvalidRefreshToken reports an explicit rejection of a refresh token. Retrying
// such a refresh cannot succeed.
func IsInvalidRefreshToken(err error) bool {
	e, ok := AsError(err)
	return ok && (e.Code == CodeInvalidRefreshToken || e.Code == CodeSessionNotFound)
}

// IsUnauthorized reports a 401 from the backend.
func IsUnauthorized(err error) bool {
	e, ok := AsError(err)
	return ok && e.Status == http.StatusUnauthorized
}

// IsTransient reports failures worth retrying: transport errors, timeouts and 5xx
// responses. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.Status >= http.StatusInternalServerError
	}
	return true
}
