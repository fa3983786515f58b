package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Coordinator communication errors
// 21000-21999: Item source errors
const (
	Success             ErrorCode = 10000
	InternalServerError ErrorCode = 10001
	InvalidConfig       ErrorCode = 10002
	NotFound            ErrorCode = 10004
	CacheError          ErrorCode = 10200

	// Coordinator (20000-20099)
	TransportFailed ErrorCode = 20000
	DecodeFailed    ErrorCode = 20001
	EncodeFailed    ErrorCode = 20002

	// Item source (21000-21099)
	UnexpectedStatus ErrorCode = 21000
	MetadataMissing  ErrorCode = 21001
	BodyReadFailed   ErrorCode = 21002
	ItemPanicked     ErrorCode = 21003
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal error",
	InvalidConfig:       "Invalid configuration",
	NotFound:            "Resource not found",
	CacheError:          "Cache operation failed",

	TransportFailed: "Transport request failed",
	DecodeFailed:    "Failed to decode response body",
	EncodeFailed:    "Failed to encode request body",

	UnexpectedStatus: "Unexpected response status",
	MetadataMissing:  "Submission metadata missing",
	BodyReadFailed:   "Failed to read response body",
	ItemPanicked:     "Item processing panicked",
}

// Message returns the default message of the code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the code onto the status served by the status endpoint.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return 200
	case NotFound:
		return 404
	default:
		return 500
	}
}

// Retryable reports whether the failure is a network-layer one that the
// resilient transport should repeat.
func (c ErrorCode) Retryable() bool {
	return c == TransportFailed
}
