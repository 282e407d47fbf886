// Package apperr defines the error kinds shared by the payment, ledger, order
// and download layers, and how they surface over HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	GatewayUnavailable          Kind = "gateway_unavailable"
	InvalidInput                Kind = "invalid_input"
	SignatureVerificationFailed Kind = "signature_verification_failed"
	LedgerConflict              Kind = "ledger_conflict"
	OrderNotFound               Kind = "order_not_found"
	PermissionDenied            Kind = "permission_denied"
	FileUnavailable             Kind = "file_unavailable"
	NotFound                    Kind = "not_found"
	Internal                    Kind = "internal"
)

// Error is a classified failure. Op names the operation that failed and
// Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case GatewayUnavailable:
		return http.StatusBadGateway
	case InvalidInput, SignatureVerificationFailed:
		return http.StatusBadRequest
	case LedgerConflict:
		return http.StatusConflict
	case OrderNotFound, FileUnavailable, NotFound:
		return http.StatusNotFound
	case PermissionDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
