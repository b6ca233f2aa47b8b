package framework

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultTickInterval is the tick period used when Clock.Interval is zero.
const DefaultTickInterval = time.Millisecond

// Clock is the periodic tick source. Every Interval it delivers the number
// of whole ticks elapsed since the previous delivery, so a late wakeup is
// caught up instead of lost.
type Clock struct {
	Interval time.Duration
	Target   Ticker
}

// NewClock creates a Clock.
func NewClock(interval time.Duration, target Ticker) *Clock {
	return &Clock{Interval: interval, Target: target}
}

// Name implements Named.
func (c *Clock) Name() string {
	return "clock"
}

// Run implements Runnable.
func (c *Clock) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	glog.V(4).Infof("clock started, interval %v", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n := uint32(now.Sub(last) / interval)
			if n == 0 {
				continue
			}
			last = last.Add(time.Duration(n) * interval)
			c.Target.Tick(n)
		}
	}
}
