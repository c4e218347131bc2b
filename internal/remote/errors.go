package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransient marks server overload and other retryable remote failures.
	ErrTransient = errors.New("transient_remote_error")
	// ErrValidation marks payload rejections that must not be retried.
	ErrValidation = errors.New("validation_error")
	// ErrConnectivity marks network-level failures (dial, reset, timeout).
	ErrConnectivity = errors.New("connectivity_error")
)

// APIError is a non-2xx response from the remote store.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusRequestEntityTooLarge,
		e.Status == http.StatusTooManyRequests,
		e.Status >= http.StatusInternalServerError:
		return ErrTransient
	case e.Status == http.StatusBadRequest,
		e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// IsRetryable reports whether the write should be retried or replayed later.
// Connectivity failures and transient server errors qualify; validation
// rejections never do.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConnectivity)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// classifyTransportErr folds net-level failures into the taxonomy. Timeouts
// are treated identically to connection failures.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}
