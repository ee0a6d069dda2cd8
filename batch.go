package kinfit

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Hypothesis builds the Fitter of one candidate. It runs on the worker that
// fits it, so any state it creates is private to that worker.
type Hypothesis func() (*Fitter, error)

// Outcome is the fit of one hypothesis. Err carries that hypothesis' setup
// error, or its *ConsistencyError.
type Outcome struct {
	Result *Result
	Err    error
}

// FitAll fits independent hypotheses on up to workers goroutines and
// returns the outcomes in input order. workers <= 0 uses GOMAXPROCS.
//
// Invalid inputs stay local to their outcome. A *ConsistencyError stops the
// batch and is returned, as does cancellation of ctx; hypotheses that were
// not started then have zero outcomes.
func FitAll(ctx context.Context, hyps []Hypothesis, workers int) ([]Outcome, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Outcome, len(hyps))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i, h := range hyps {
		if gctx.Err() != nil {
			break
		}
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fitOne(h)
			var cerr *ConsistencyError
			if errors.As(out[i].Err, &cerr) {
				return fmt.Errorf("kinfit: hypothesis %d: %w", i, cerr)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

func fitOne(h Hypothesis) Outcome {
	if h == nil {
		return Outcome{Err: invalidf("", "nil hypothesis")}
	}
	f, err := h()
	if err != nil {
		return Outcome{Err: err}
	}
	if f == nil {
		return Outcome{Err: invalidf("", "hypothesis built no fitter")}
	}
	res, err := f.Fit()
	return Outcome{Result: res, Err: err}
}

// IsInvalidInput reports whether err stems from a malformed fit setup.
func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}
