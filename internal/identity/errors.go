package identity

import (
	"errors"
	"fmt"
)

// Kind classifies why an identity call failed.
type Kind int

const (
	// KindTransport covers network failures, timeouts and cancellation.
	KindTransport Kind = iota + 1
	// KindFormat is a response that is not the JSON document the contract promises.
	KindFormat
	// KindServer is a non-2xx answer from the identity service.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFormat:
		return "format"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

const msgUnexpectedFormat = "Unexpected response format"

type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed", e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an identity error of kind k.
func IsKind(err error, k Kind) bool {
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Kind == k
	}
	return false
}
