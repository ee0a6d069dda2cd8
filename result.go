package kinfit

import (
	"fmt"

	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Status is the outcome of a fit.
type Status int

const (
	Converged Status = iota
	NotConverged
)

func (s Status) String() string {
	if s == Converged {
		return "converged"
	}
	return "not converged"
}

// Reason details why a fit did not converge.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonMaxIterations: the iteration budget ran out.
	ReasonMaxIterations
	// ReasonSingular: a linear system of the iteration could not be solved.
	ReasonSingular
	// ReasonNonFinite: the iteration left the finite domain.
	ReasonNonFinite
	// ReasonNegativeChiSquare: the chi-square became negative. Fit
	// also returns a *ConsistencyError in this case.
	ReasonNegativeChiSquare
)

var reasonNames = [...]string{
	ReasonNone:              "none",
	ReasonMaxIterations:     "iteration limit reached",
	ReasonSingular:          "singular system",
	ReasonNonFinite:         "non-finite values",
	ReasonNegativeChiSquare: "negative chi-square",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("Reason(%d)", int(r))
	}
	return reasonNames[r]
}

// FittedParticle is a particle's state after the fit.
type FittedParticle struct {
	Name       string
	P4         fmom.PxPyPzE
	Parameters []float64
	Initial    []float64
	Pulls      []float64
	Unmeasured []bool
	// Covariance of the fitted coordinates, nil when the final system was
	// singular.
	Covariance *mat.SymDense
}

// FittedConstraint is a constraint's state after the fit.
type FittedConstraint struct {
	Name  string
	Value float64
	// Aux is the fitted auxiliary parameter of a soft constraint and
	// AuxPull its pull; both are zero for hard constraints.
	Aux     float64
	HasAux  bool
	AuxPull float64
}

// Result is what a Fit hands back to the client.
type Result struct {
	Status     Status
	Reason     Reason
	Iterations int

	// ChiSquare is the quadratic part of the minimum function, including
	// the squared auxiliary parameters of soft constraints.
	ChiSquare float64
	// S adds the Lagrange term 2*lambda.f; it equals ChiSquare at a
	// feasible point.
	S float64
	// NDF is the number of constraint equations minus the number of
	// unmeasured coordinates.
	NDF int
	// MaxViolation is the largest |f| at the final point.
	MaxViolation float64

	Particles   []FittedParticle
	Constraints []FittedConstraint
}

// Converged reports whether the fit met both convergence criteria.
func (r *Result) Converged() bool { return r.Status == Converged }

// Probability returns the chi-square survival probability at NDF, or zero
// when NDF is not positive.
func (r *Result) Probability() float64 {
	if r.NDF <= 0 {
		return 0
	}
	return distuv.ChiSquared{K: float64(r.NDF)}.Survival(r.ChiSquare)
}

// Particle looks up a fitted particle by name.
func (r *Result) Particle(name string) (FittedParticle, bool) {
	for _, p := range r.Particles {
		if p.Name == name {
			return p, true
		}
	}
	return FittedParticle{}, false
}

// Constraint looks up a fitted constraint by name.
func (r *Result) Constraint(name string) (FittedConstraint, bool) {
	for _, c := range r.Constraints {
		if c.Name == name {
			return c, true
		}
	}
	return FittedConstraint{}, false
}
