package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("condition not met before timeout")

const DefaultInterval = time.Second

type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	// IgnoreErrors keeps polling when the condition returns an error.
	IgnoreErrors bool
	// OnTick is called after every unsuccessful attempt with the time spent so far.
	OnTick func(elapsed time.Duration)
}

// Until evaluates cond right away and then every Interval until it reports true,
// fails, or the Timeout is spent. A non-positive Timeout means a single attempt.
// cond receives a context that expires with the Timeout, so a blocking attempt
// cannot outlive it.
func Until(ctx context.Context, opts Options, cond func(ctx context.Context) (bool, error)) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()
	deadline := start.Add(opts.Timeout)

	condCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		condCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var lastErr error
	for {
		ok, err := cond(condCtx)
		if err == nil && ok {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && condCtx.Err() != nil {
			// the attempt was cut by the deadline
			return fmt.Errorf("%w after %s: %w", ErrTimeout, time.Since(start).Round(time.Millisecond), err)
		}
		switch {
		case err != nil && !opts.IgnoreErrors:
			return err
		case err != nil:
			lastErr = err
		}

		elapsed := time.Since(start)
		if opts.OnTick != nil {
			opts.OnTick(elapsed)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %w", ErrTimeout, elapsed.Round(time.Millisecond), lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, elapsed.Round(time.Millisecond))
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Found is Until for callers that want a boolean, like the UI checks that report
// a missing text instead of failing right away.
func Found(ctx context.Context, opts Options, cond func(ctx context.Context) (bool, error)) (bool, error) {
	err := Until(ctx, opts, cond)
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}

	return err == nil, err
}
