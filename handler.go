package sqlqueue

import "context"

// Handler processes a single received message.
type Handler interface {
	// Handle processes msg and returns an error to roll the receive back.
	// Under a Receiver, ConnFromContext(ctx) yields the receive transaction.
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return fn(ctx, msg)
}

// FailureHandler is called when a handler returns an error.
type FailureHandler func(ctx context.Context, msg *Message, err error)
