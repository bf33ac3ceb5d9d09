package orm

import (
	"context"
	"time"
)

// Clock provides the current time. Implementations can return fixed
// times for deterministic testing.
type Clock interface {
	Now() time.Time
}

type clockKey struct{}

// WithClock returns a child context carrying the given Clock.
// Insert, Update and Patch use this Clock instead of time.Now() when
// stamping a model's CreatedAt and UpdatedAt fields.
func WithClock(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, c)
}

// FixedClock is a Clock that always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// now returns the current time from the Clock in ctx, or time.Now()
// if no Clock is present. The result is truncated to microseconds, the
// finest precision MySQL and PostgreSQL store.
func now(ctx context.Context) time.Time {
	if c, ok := ctx.Value(clockKey{}).(Clock); ok {
		return c.Now()
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}
