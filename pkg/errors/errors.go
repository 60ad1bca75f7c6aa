package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-facing error identifier.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// order and payment domain
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodePaymentNotSettled   Code = "PAYMENT_NOT_SETTLED"
	CodeAmountMismatch      Code = "AMOUNT_MISMATCH"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeReservationConflict Code = "RESERVATION_CONFLICT"
	CodeGatewayUnavailable  Code = "GATEWAY_UNAVAILABLE"
)

// Metadata drives how a code is rendered over HTTP and whether callers may
// retry it.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retry   = true
	details = true
)

func describe(status int, public string, retryable, withDetails bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, Retryable: retryable, DetailsAllowed: withDetails}
}

var registry = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", false, details),
	CodeUnauthorized:  describe(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:     describe(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict: describe(http.StatusUnprocessableEntity, "state transition disallowed", false, details),
	CodeIdempotency:   describe(http.StatusConflict, "idempotency key reused", false, details),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", false, false),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", retry, false),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", retry, details),

	CodeInvalidTransition:   describe(http.StatusUnprocessableEntity, "order status transition not allowed", false, details),
	CodePaymentNotSettled:   describe(http.StatusUnprocessableEntity, "payment has not settled", false, details),
	CodeAmountMismatch:      describe(http.StatusUnprocessableEntity, "payment amount does not match order total", false, details),
	CodeInvalidSignature:    describe(http.StatusUnauthorized, "invalid signature", false, false),
	CodeReservationConflict: describe(http.StatusConflict, "insufficient stock", false, details),
	CodeGatewayUnavailable:  describe(http.StatusServiceUnavailable, "payment gateway unavailable", retry, false),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := registry[code]; ok {
		return meta
	}
	return registry[CodeInternal]
}

// Error is a coded error. The message is internal; clients see the public
// message of the code plus details when the code allows them.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails mutates and returns e so it can be chained off New.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return As(err).codeOr("") == code
}

func (e *Error) codeOr(fallback Code) Code {
	if e == nil {
		return fallback
	}
	return e.code
}
