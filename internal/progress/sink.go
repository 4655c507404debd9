package progress

import "context"

// Sink receives coalesced batches of run events from a Hub. Consume must
// respect ctx; Close is called once after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the runner's view of a Hub.
type Emitter interface {
	Emit(evt Event)
}
