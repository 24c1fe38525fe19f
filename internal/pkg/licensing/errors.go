package licensing

import "fmt"

// Rejection reason codes. Client software branches on these to present
// differentiated guidance, so they are a stable wire contract.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidKey          = "INVALID_KEY"
	CodeSuspended           = "SUSPENDED"
	CodeRevoked             = "REVOKED"
	CodeExpired             = "EXPIRED"
	CodeActivationLimit     = "ACTIVATION_LIMIT"
	CodeDomainNotAllowed    = "DOMAIN_NOT_ALLOWED"
	CodeIPNotAllowed        = "IP_NOT_ALLOWED"
	CodeMachineNotActivated = "MACHINE_NOT_ACTIVATED"
)

// Error is a typed license operation rejection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("license operation rejected (%s): %s", e.Code, e.Message)
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// IsCode reports whether err is a licensing Error with the given code.
func IsCode(err error, code string) bool {
	le, ok := err.(*Error)
	return ok && le.Code == code
}
