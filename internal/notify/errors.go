package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrTransportUnconfigured = errors.New("email transport not configured")
	ErrQueueFull             = errors.New("email queue full")
	ErrDispatcherStopped     = errors.New("email dispatcher not running")
)

// DeliveryError is a failure for one recipient only; other recipients are unaffected.
type DeliveryError struct {
	Recipient string
	Timeout   bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("delivery to %s timed out: %s", e.Recipient, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed: %s", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// TransportError means the mail server cannot be used at all (dial, tls, auth).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email transport failure: %s", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsTransportFailure(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) || errors.Is(err, ErrTransportUnconfigured)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify makes sure every send error is either a transport or a delivery error.
// Unknown errors are treated as per-recipient failures.
func classify(recipient string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransportFailure(err) {
		return err
	}
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return err
	}
	return &DeliveryError{
		Recipient: recipient,
		Timeout:   isTimeout(err),
		Err:       err,
	}
}
