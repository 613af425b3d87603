package probe

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loop probes until ctx ends or an attempt fails. Each iteration runs one
// attempt and an interval timer together and advances only when both are
// done, so attempts start at most once per interval. report is called with
// each result as soon as its attempt resolves.
//
// Loop returns ctx.Err() when ctx ends, otherwise the fault that stopped it.
func (e *Engine) Loop(ctx context.Context, report func(Result)) error {
	for {
		start := e.now()
		if err := e.iterate(ctx, start, report); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if e.logger != nil {
				e.logger.Error("probe loop stopped", "start", FormatTimestamp(start), "error", err)
			}
			return err
		}
	}
}

func (e *Engine) iterate(ctx context.Context, start time.Time, report func(Result)) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := e.Probe(gctx)
		if err != nil {
			return err
		}
		if report != nil {
			report(Result{Start: start, Outcome: out})
		}
		return nil
	})

	g.Go(func() error {
		t := time.NewTimer(e.settings.Interval)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	return g.Wait()
}
