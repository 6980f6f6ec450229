// Package httperror implements the closed taxonomy of HTTP errors that the
// request pipeline lifts every raised value to before it reaches the wire.
package httperror

import (
	"fmt"
	"net/http"
	"time"
)

// Kind identifies one member of the closed error taxonomy.
type Kind string

// The closed set of kinds recognized by the pipeline.
const (
	BadRequest                   Kind = "BadRequest"
	Unauthorized                 Kind = "Unauthorized"
	PaymentRequired              Kind = "PaymentRequired"
	Forbidden                    Kind = "Forbidden"
	NotFound                     Kind = "NotFound"
	MethodNotAllowed             Kind = "MethodNotAllowed"
	NotAcceptable                Kind = "NotAcceptable"
	RequestTimeout               Kind = "RequestTimeout"
	Conflict                     Kind = "Conflict"
	Gone                         Kind = "Gone"
	LengthRequired               Kind = "LengthRequired"
	PreconditionFailed           Kind = "PreconditionFailed"
	PayloadTooLarge              Kind = "PayloadTooLarge"
	URITooLong                   Kind = "URITooLong"
	UnsupportedMediaType         Kind = "UnsupportedMediaType"
	RangeNotSatisfiable          Kind = "RangeNotSatisfiable"
	ExpectationFailed            Kind = "ExpectationFailed"
	ImATeapot                    Kind = "ImATeapot"
	MisdirectedRequest           Kind = "MisdirectedRequest"
	UnprocessableEntity          Kind = "UnprocessableEntity"
	Locked                       Kind = "Locked"
	FailedDependency             Kind = "FailedDependency"
	TooEarly                     Kind = "TooEarly"
	UpgradeRequired              Kind = "UpgradeRequired"
	PreconditionRequired         Kind = "PreconditionRequired"
	TooManyRequests              Kind = "TooManyRequests"
	RequestHeaderFieldsTooLarge  Kind = "RequestHeaderFieldsTooLarge"
	UnavailableForLegalReasons   Kind = "UnavailableForLegalReasons"
	InternalServerError         Kind = "InternalServerError"
	NotImplemented               Kind = "NotImplemented"
	BadGateway                   Kind = "BadGateway"
	ServiceUnavailable           Kind = "ServiceUnavailable"
	GatewayTimeout               Kind = "GatewayTimeout"
	HTTPVersionNotSupported      Kind = "HTTPVersionNotSupported"
	VariantAlsoNegotiates        Kind = "VariantAlsoNegotiates"
	InsufficientStorage          Kind = "InsufficientStorage"
	LoopDetected                 Kind = "LoopDetected"
	NotExtended                  Kind = "NotExtended"
	NetworkAuthenticationRequired Kind = "NetworkAuthenticationRequired"
)

var statusByKind = map[Kind]int{
	BadRequest:                    http.StatusBadRequest,
	Unauthorized:                  http.StatusUnauthorized,
	PaymentRequired:               http.StatusPaymentRequired,
	Forbidden:                     http.StatusForbidden,
	NotFound:                      http.StatusNotFound,
	MethodNotAllowed:              http.StatusMethodNotAllowed,
	NotAcceptable:                 http.StatusNotAcceptable,
	RequestTimeout:                http.StatusRequestTimeout,
	Conflict:                      http.StatusConflict,
	Gone:                          http.StatusGone,
	LengthRequired:                http.StatusLengthRequired,
	PreconditionFailed:            http.StatusPreconditionFailed,
	PayloadTooLarge:               http.StatusRequestEntityTooLarge,
	URITooLong:                    http.StatusRequestURITooLong,
	UnsupportedMediaType:          http.StatusUnsupportedMediaType,
	RangeNotSatisfiable:           http.StatusRequestedRangeNotSatisfiable,
	ExpectationFailed:             http.StatusExpectationFailed,
	ImATeapot:                     http.StatusTeapot,
	MisdirectedRequest:            http.StatusMisdirectedRequest,
	UnprocessableEntity:           http.StatusUnprocessableEntity,
	Locked:                        http.StatusLocked,
	FailedDependency:              http.StatusFailedDependency,
	TooEarly:                      http.StatusTooEarly,
	UpgradeRequired:               http.StatusUpgradeRequired,
	PreconditionRequired:          http.StatusPreconditionRequired,
	TooManyRequests:               http.StatusTooManyRequests,
	RequestHeaderFieldsTooLarge:   http.StatusRequestHeaderFieldsTooLarge,
	UnavailableForLegalReasons:    http.StatusUnavailableForLegalReasons,
	InternalServerError:          http.StatusInternalServerError,
	NotImplemented:                http.StatusNotImplemented,
	BadGateway:                    http.StatusBadGateway,
	ServiceUnavailable:            http.StatusServiceUnavailable,
	GatewayTimeout:                http.StatusGatewayTimeout,
	HTTPVersionNotSupported:       http.StatusHTTPVersionNotSupported,
	VariantAlsoNegotiates:         http.StatusVariantAlsoNegotiates,
	InsufficientStorage:           http.StatusInsufficientStorage,
	LoopDetected:                  http.StatusLoopDetected,
	NotExtended:                   http.StatusNotExtended,
	NetworkAuthenticationRequired: http.StatusNetworkAuthenticationRequired,
}

// Error is the taxonomy member carried through the pipeline and serialized
// to the client.
type Error struct {
	Kind      Kind
	Status    int
	Message   string
	Code      string
	Data      map[string]interface{}
	RequestID string
	Timestamp time.Time
	Stack     string
}

// New builds an Error of the given kind with the message.
func New(kind Kind, message string) *Error {
	status, ok := statusByKind[kind]
	if !ok {
		kind = InternalServerError
		status = http.StatusInternalServerError
	}
	return &Error{
		Kind:      kind,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithData attaches structured data to e and returns e for chaining.
func (e *Error) WithData(data map[string]interface{}) *Error {
	e.Data = data
	return e
}

// WithCode attaches an application error code to e and returns e for
// chaining.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithRequestID attaches the active request id to e and returns e for
// chaining.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// IsClientError reports whether e's status is in [400,500).
func (e *Error) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// IsServerError reports whether e's status is in [500,600).
func (e *Error) IsServerError() bool {
	return e.Status >= 500 && e.Status < 600
}

// IsRetryable reports whether a client may reasonably retry the request
// that produced e.
func (e *Error) IsRetryable() bool {
	if e.IsServerError() {
		return true
	}
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Envelope is the JSON shape written to the client.
type Envelope struct {
	Error EnvelopeError `json:"error"`
}

// EnvelopeError is the body of an Envelope.
type EnvelopeError struct {
	Name      string                 `json:"name"`
	Status    int                    `json:"status"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Code      string                 `json:"code,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// Envelope renders e into the wire envelope. includeStack gates the stack
// trace field, which must only be set in development.
func (e *Error) Envelope(includeStack bool) Envelope {
	env := Envelope{Error: EnvelopeError{
		Name:      string(e.Kind),
		Status:    e.Status,
		Message:   e.Message,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Code:      e.Code,
		Data:      e.Data,
		RequestID: e.RequestID,
	}}
	if includeStack {
		env.Error.Stack = e.Stack
	}
	return env
}

// Lift converts an arbitrary error value into the taxonomy. A value that is
// already an *Error passes through unchanged; anything else becomes an
// InternalServerError carrying the original error in Data.originalError.
func Lift(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(InternalServerError, http.StatusText(http.StatusInternalServerError)).
		WithData(map[string]interface{}{"originalError": err.Error()})
}
