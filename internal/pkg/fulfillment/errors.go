package fulfillment

import "fmt"

// Access failure reason codes. Client software branches on these, so they
// are part of the wire contract and must stay stable.
const (
	AccessCodeNotFound     = "NOT_FOUND"
	AccessCodeForbidden    = "FORBIDDEN"
	AccessCodeNotDelivered = "NOT_DELIVERED"
	AccessCodeExpired      = "ACCESS_EXPIRED"
	AccessCodeLimitReached = "ACCESS_LIMIT_REACHED"
)

// AccessError is a typed rejection from the access gateway.
type AccessError struct {
	Code    string
	Message string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied (%s): %s", e.Code, e.Message)
}

func newAccessError(code, message string) *AccessError {
	return &AccessError{Code: code, Message: message}
}

// IsAccessCode reports whether err is an AccessError with the given code.
func IsAccessCode(err error, code string) bool {
	ae, ok := err.(*AccessError)
	return ok && ae.Code == code
}
