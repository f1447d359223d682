package types

import "fmt"

// Kind classifies an error for clients. The REST layer maps kinds to HTTP
// statuses; the WebSocket layer echoes them in ERROR frames.
type Kind string

const (
	KindUnknownSymbol         Kind = "UNKNOWN_SYMBOL"
	KindInvalidOrder          Kind = "INVALID_ORDER"
	KindInsufficientBalance   Kind = "INSUFFICIENT_BALANCE"
	KindInsufficientLiquidity Kind = "INSUFFICIENT_LIQUIDITY"
	KindNotFound              Kind = "NOT_FOUND"
	KindForbidden             Kind = "FORBIDDEN"
	KindFOKUnfillable         Kind = "FOK_UNFILLABLE"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindMalformed             Kind = "MALFORMED"
	KindUnknownMessageType    Kind = "UNKNOWN_MESSAGE_TYPE"
	KindInternal              Kind = "INTERNAL"
)

// Error is a kind-carrying error. Validation failures are reported, never
// retried, so the message is written for the client that sent the request.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds an *Error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error, defaulting to INTERNAL.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
