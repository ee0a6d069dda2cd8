package kinfit

import (
	"errors"
	"fmt"
)

// ErrNotReset is returned by Fit when the fitter already ran and was not
// Reset since.
var ErrNotReset = errors.New("kinfit: fitter must be reset before fitting again")

// InvalidInputError reports a malformed fit setup: a bad covariance,
// mismatched dimensions or an inconsistent constraint. It is detected before
// any iteration; the usual response is to discard the candidate.
type InvalidInputError struct {
	Object string // particle or constraint name
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Object == "" {
		return "kinfit: invalid input: " + e.Reason
	}
	return fmt.Sprintf("kinfit: invalid input for %q: %s", e.Object, e.Reason)
}

func invalidf(object, format string, args ...interface{}) error {
	return &InvalidInputError{Object: object, Reason: fmt.Sprintf(format, args...)}
}

// ConsistencyError reports a negative chi-square, which cannot happen for
// valid covariances. Nothing computed by the fit should be trusted.
type ConsistencyError struct {
	ChiSquare float64
	Iteration int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("kinfit: negative chi-square %g after iteration %d", e.ChiSquare, e.Iteration)
}
