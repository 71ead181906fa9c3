// Package retry provides the one retry policy used for every network and
// OCR call in the pipeline: a small fixed attempt budget with a backoff
// function, instead of per-call-site sleep loops with drifting constants.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff maps a zero-based attempt number to the delay before the next
// attempt.
type Backoff func(attempt int) time.Duration

// Linear grows the delay by step per attempt: step, 2*step, 3*step...
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration { return time.Duration(attempt+1) * step }
}

// Exponential doubles the delay per attempt: base, 2*base, 4*base...
func Exponential(base time.Duration) Backoff {
	return func(attempt int) time.Duration { return base << attempt }
}

// Policy is an attempt budget plus a backoff curve.
type Policy struct {
	// Attempts is the total attempt budget. Default: 3.
	Attempts int
	// Backoff computes inter-attempt delays. Default: Linear(500ms).
	Backoff Backoff
}

func (p *Policy) defaults() {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff == nil {
		p.Backoff = Linear(500 * time.Millisecond)
	}
}

// Do runs fn until it succeeds or the attempt budget is spent. A timeout
// inside fn is an ordinary failure subject to the same budget, never a
// distinct fatal condition. Context cancellation stops retrying
// immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p.defaults()
	var last error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == p.Attempts-1 {
			break
		}
		if err := sleepCtx(ctx, p.Backoff(attempt)); err != nil {
			return fmt.Errorf("retry: cancelled while waiting: %w", err)
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", p.Attempts, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
