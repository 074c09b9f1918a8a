package server

import (
	"context"
	"fmt"
)

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name returns the label.
func (c CheckFunc) Name() string { return c.Label }

// CheckReady calls Fn.
func (c CheckFunc) CheckReady(ctx context.Context) error { return c.Fn(ctx) }

// BacklogChecker reports not ready while more than Limit samples are queued.
// A growing backlog means some participant stopped taking writes.
type BacklogChecker struct {
	Pending func() int
	Limit   int
}

// Name returns "backlog".
func (BacklogChecker) Name() string { return "backlog" }

// CheckReady compares the current backlog with the limit.
func (c BacklogChecker) CheckReady(context.Context) error {
	if n := c.Pending(); c.Limit > 0 && n > c.Limit {
		return fmt.Errorf("%d samples queued, limit %d", n, c.Limit)
	}
	return nil
}
