package notify

import "context"

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=notify_test
type Transport interface {
	// Send delivers one message. Errors should be *DeliveryError or *TransportError.
	Send(ctx context.Context, msg *Message) error
	Configured() bool
}
