package truenas

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// Sentinel errors for client state.
var (
	ErrNotConnected   = errors.New("websocket is not connected")
	ErrClientClosed   = errors.New("client is closed")
	ErrNotReady       = errors.New("session is not connected and authenticated")
	ErrConnectionLost = errors.New("connection lost before a response arrived")
	ErrDuplicateKey   = errors.New("a request with this key is already in flight")
)

// ConnectionError represents a failure to establish or maintain the
// connection to the TrueNAS system.
type ConnectionError struct {
	URL    string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// RPCError represents a well-formed error response to a specific
// request. It affects only the request awaiting that key.
type RPCError struct {
	Key     string
	Payload []byte
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error [%s]: %s", e.Key, e.Payload)
}

// ErrorKind classifies client-level errors that cannot be returned to
// a direct caller.
type ErrorKind int

const (
	ErrProtocolViolation ErrorKind = iota // frame missing id or result/error
	ErrDecodeFailure                      // inbound frame wasn't valid JSON
	ErrHandlerPanic                       // a registered handler panicked
	ErrRPCFailure                         // error response during a refresh batch
	ErrLoginFailure                       // authentication rejected
	ErrTransportClosed                    // listen loop ended
)

var errorKindNames = [...]string{
	ErrProtocolViolation: "ErrProtocolViolation",
	ErrDecodeFailure:     "ErrDecodeFailure",
	ErrHandlerPanic:      "ErrHandlerPanic",
	ErrRPCFailure:        "ErrRPCFailure",
	ErrLoginFailure:      "ErrLoginFailure",
	ErrTransportClosed:   "ErrTransportClosed",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// ClientError represents an error the client could not deliver to a
// direct caller. These errors are routed to the ErrorHandler provided
// at construction.
type ClientError struct {
	Kind      ErrorKind
	Key       string // request key, if known
	Cause     error
	Raw       []byte // raw frame (for protocol/decode failures)
	Timestamp time.Time
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (key=%s)", e.Kind, e.Cause, e.Key)
	}
	return fmt.Sprintf("%s (key=%s)", e.Kind, e.Key)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorHandler is called for every client-level error that cannot be
// returned to a direct caller. It MUST be provided when creating a
// transport or coordinator.
type ErrorHandler func(ClientError)

// LogErrors returns an ErrorHandler that logs all client errors to the
// given logger.
func LogErrors(logger *log.Logger) ErrorHandler {
	return func(e ClientError) {
		if e.Cause != nil {
			logger.Printf("[truenas] %s: %v (key=%s)", e.Kind, e.Cause, e.Key)
		} else {
			logger.Printf("[truenas] %s (key=%s)", e.Kind, e.Key)
		}
	}
}
