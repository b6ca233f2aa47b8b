package framework

import (
	"context"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Ticker receives periodic ticks from a Clock.
type Ticker interface {
	Tick(n uint32)
}

// TickFunc is the func form of Ticker.
type TickFunc func(uint32)

// Tick implements Ticker.
func (f TickFunc) Tick(n uint32) {
	f(n)
}
