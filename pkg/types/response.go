package types

// RequestIDHeader carries the request id on every response so clients and
// payment gateways can quote it back.
const RequestIDHeader = "X-Request-Id"

// DataEnvelope wraps every 2xx body.
type DataEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the public part of a failed request. Retryable tells a
// gateway or client that the same request may succeed later.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
