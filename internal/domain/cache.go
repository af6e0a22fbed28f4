package domain

import "context"

// BookCache mirrors top-of-book state for out-of-process readers.
type BookCache interface {
	SetTop(ctx context.Context, top TopOfBook) error
	GetTop(ctx context.Context, tradingPair string) (TopOfBook, error)
}

// SignalBus fans serialized domain events out to consumers running outside
// the connector process. Publish is the write side used by the connector;
// Subscribe is the matching read side for in-process consumers of another
// instance's channel.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of raw payloads for the given bus channel.
	// The returned channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
