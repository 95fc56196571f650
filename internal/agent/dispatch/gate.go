package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// serviceGate is the only mutable state shared between in-flight turns: an
// in-flight slot cap, an optional request pacer, and the rate-limit cooldown
// window. All three are safe under concurrent use.
type serviceGate struct {
	slots   chan struct{}
	limiter *rate.Limiter

	mu            sync.Mutex
	cooldownUntil time.Time
}

func newServiceGate(maxInFlight int, limiter *rate.Limiter) *serviceGate {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &serviceGate{
		slots:   make(chan struct{}, maxInFlight),
		limiter: limiter,
	}
}

// coolingDown reports whether the service is inside a rate-limit cooldown
// window. Attempts made during the window short-circuit without a network
// call rather than compound the limit violation.
func (g *serviceGate) coolingDown(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.cooldownUntil)
}

// openCooldown closes the service for the given window. A shorter concurrent
// request never truncates a longer window already in place.
func (g *serviceGate) openCooldown(now time.Time, window time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := now.Add(window)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
}

// acquire takes an in-flight slot and waits for the pacer. Invocations queue
// behind the cap instead of failing fast.
func (g *serviceGate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			<-g.slots
			return err
		}
	}
	return nil
}

func (g *serviceGate) release() {
	<-g.slots
}
