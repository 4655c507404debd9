// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the runner uses to report pipeline runs. Events are batched on a
// background goroutine and fanned out to sinks such as the zap logger,
// Prometheus collectors, or the run-history store.
package progress
