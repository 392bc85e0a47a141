package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrGatewayCallFailed is returned once transient failures exhausted the
	// retry budget or the circuit breaker refused the call.
	ErrGatewayCallFailed = errors.New("payment gateway call failed")
	// ErrCalledInsideTransaction guards against holding row locks across
	// network I/O.
	ErrCalledInsideTransaction = errors.New("payment gateway called inside a database transaction")
	ErrCircuitOpen             = errors.New("payment gateway circuit open")
)

// FailureCodeCallFailed is recorded on payments whose gateway call never
// produced an answer.
const FailureCodeCallFailed = "GATEWAY_CALL_FAILED"

// TransientError is an I/O failure, timeout or retryable HTTP status.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway transient failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DeclinedError is a terminal answer from the gateway, such as a card decline.
type DeclinedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("gateway declined payment: %s: %s", e.Code, e.Message)
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var declined *DeclinedError
	if errors.As(err, &declined) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrCalledInsideTransaction) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsDeclined reports whether err is a gateway decline and returns it.
func IsDeclined(err error) (*DeclinedError, bool) {
	var declined *DeclinedError
	if errors.As(err, &declined) {
		return declined, true
	}
	return nil, false
}
