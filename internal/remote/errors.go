package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies remote failures so callers can branch on a stable tag
// instead of matching substrings of human-readable error text.
type ErrorKind int

const (
	// KindUnknown covers anything the boundary could not classify.
	KindUnknown ErrorKind = iota
	// KindPermissionDenied is a row-security or policy rejection.
	KindPermissionDenied
	// KindForeignKeyViolation is a referential-integrity rejection.
	KindForeignKeyViolation
	// KindUniqueViolation is a duplicate-key rejection.
	KindUniqueViolation
	// KindNetwork covers connectivity failures and timeouts.
	KindNetwork
	// KindValidation is a request-shape or constraint rejection.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindForeignKeyViolation:
		return "foreign_key_violation"
	case KindUniqueViolation:
		return "unique_violation"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified failure returned by the remote boundary.
type Error struct {
	Kind    ErrorKind
	Code    string // backend error code (SQLSTATE or API code), if any
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

// ErrNoRows is returned when a scoped mutation matched nothing, either
// because the row does not exist or row security hides it.
var ErrNoRows = &Error{Kind: KindUnknown, Message: "no rows matched"}

// KindOf extracts the classification from err, unwrapping as needed.
// Transport-level failures that never reached the backend count as network
// errors.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// classifyCode maps backend SQLSTATE codes onto error kinds.
func classifyCode(code string, status int) ErrorKind {
	switch code {
	case "42501":
		return KindPermissionDenied
	case "23503":
		return KindForeignKeyViolation
	case "23505":
		return KindUniqueViolation
	}
	switch {
	case status == 401 || status == 403:
		return KindPermissionDenied
	case status == 400 || status == 422:
		return KindValidation
	case status >= 500:
		return KindUnknown
	}
	return KindUnknown
}
