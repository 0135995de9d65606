package graph

import "context"

type drainKey struct{}

// WithDrain attaches a drain signal to ctx. Once drain is closed, live
// subscriptions started with ctx stop taking new events, forward the ones
// already published and then end.
func WithDrain(ctx context.Context, drain <-chan struct{}) context.Context {
	return context.WithValue(ctx, drainKey{}, drain)
}

// DrainSignal returns the drain signal attached to ctx, or nil.
func DrainSignal(ctx context.Context) <-chan struct{} {
	drain, _ := ctx.Value(drainKey{}).(<-chan struct{})
	return drain
}
