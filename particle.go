package kinfit

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// symmetryTol is the relative asymmetry tolerated in an input covariance.
const symmetryTol = 1e-9

// Particle is a measured object whose momentum is fitted in one of the
// Parameterization charts with a fixed mass.
//
// A Particle belongs to exactly one Fitter; constraints only refer to it.
type Particle struct {
	Name string

	chart      Parameterization
	mass       float64
	initial    [nParams]float64
	current    [nParams]float64
	cov        *mat.SymDense
	unmeasured [nParams]bool
	pulls      [nParams]float64
}

// NewParticle creates a particle from a measured 3-momentum, a mass
// hypothesis and the covariance of the chart coordinates.
//
// The covariance must be a symmetric 3x3 matrix with finite entries.
// Positive definiteness of the measured block is checked when the fit is set
// up, since coordinates flagged unmeasured are excluded from it.
func NewParticle(name string, chart Parameterization, p r3.Vec, mass float64, cov mat.Matrix) (*Particle, error) {
	if !chart.valid() {
		return nil, invalidf(name, "unknown parameterization %d", int(chart))
	}
	if math.IsNaN(mass) || math.IsInf(mass, 0) || mass < 0 {
		return nil, invalidf(name, "mass %v is not a finite non-negative number", mass)
	}
	if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
		return nil, invalidf(name, "momentum %v is not finite", p)
	}
	if math.Hypot(p.X, p.Y) == 0 {
		return nil, invalidf(name, "transverse momentum is zero")
	}

	sym, err := symmetricCov(name, cov)
	if err != nil {
		return nil, err
	}

	par := chart.fromMomentum(p)
	return &Particle{
		Name:    name,
		chart:   chart,
		mass:    mass,
		initial: par,
		current: par,
		cov:     sym,
	}, nil
}

func symmetricCov(name string, cov mat.Matrix) (*mat.SymDense, error) {
	if cov == nil {
		return nil, invalidf(name, "covariance is nil")
	}
	r, c := cov.Dims()
	if r != nParams || c != nParams {
		return nil, invalidf(name, "covariance is %dx%d, want %dx%d", r, c, nParams, nParams)
	}
	sym := mat.NewSymDense(nParams, nil)
	for i := 0; i < nParams; i++ {
		for j := i; j < nParams; j++ {
			a, b := cov.At(i, j), cov.At(j, i)
			if !finite(a) || !finite(b) {
				return nil, invalidf(name, "covariance element (%d,%d) is not finite", i, j)
			}
			if math.Abs(a-b) > symmetryTol*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return nil, invalidf(name, "covariance is not symmetric at (%d,%d): %v != %v", i, j, a, b)
			}
			sym.SetSym(i, j, a)
		}
	}
	return sym, nil
}

// Parameterization returns the chart the particle is fitted in.
func (p *Particle) Parameterization() Parameterization { return p.chart }

// Mass returns the fixed mass hypothesis.
func (p *Particle) Mass() float64 { return p.mass }

// Parameters returns the current (fitted) chart coordinates.
func (p *Particle) Parameters() []float64 {
	out := p.current
	return out[:]
}

// InitialParameters returns the measured chart coordinates.
func (p *Particle) InitialParameters() []float64 {
	out := p.initial
	return out[:]
}

// Covariance returns a copy of the input covariance.
func (p *Particle) Covariance() *mat.SymDense {
	return mat.NewSymDense(nParams, append([]float64(nil), p.cov.RawSymmetric().Data...))
}

// SetInitial replaces the measured coordinates and resets the current ones
// to them. It is meant for smearing in pseudo-experiments and for seeding
// unmeasured coordinates before a fit.
func (p *Particle) SetInitial(par []float64) error {
	if len(par) != nParams {
		return invalidf(p.Name, "got %d parameters, want %d", len(par), nParams)
	}
	for i, v := range par {
		if !finite(v) {
			return invalidf(p.Name, "parameter %d is not finite", i)
		}
		p.initial[i] = v
	}
	p.current = p.initial
	p.pulls = [nParams]float64{}
	return nil
}

// ParametersFromP4 returns the chart coordinates of an arbitrary 4-vector.
func (p *Particle) ParametersFromP4(v fmom.P4) []float64 {
	par := p.chart.fromMomentum(r3.Vec{X: v.Px(), Y: v.Py(), Z: v.Pz()})
	return par[:]
}

// SetUnmeasured flags coordinate i as carrying no prior information. Only
// constraints move such a coordinate and its covariance entries are ignored.
func (p *Particle) SetUnmeasured(i int) error {
	if i < 0 || i >= nParams {
		return invalidf(p.Name, "parameter index %d out of range", i)
	}
	p.unmeasured[i] = true
	return nil
}

// Unmeasured reports whether coordinate i is flagged unmeasured.
func (p *Particle) Unmeasured(i int) bool {
	return i >= 0 && i < nParams && p.unmeasured[i]
}

// P4 returns the 4-momentum at the current coordinates.
func (p *Particle) P4() fmom.PxPyPzE {
	v := p.chart.fourMomentum(p.current[:], p.mass)
	return fmom.NewPxPyPzE(v[0], v[1], v[2], v[3])
}

// InitialP4 returns the 4-momentum at the measured coordinates.
func (p *Particle) InitialP4() fmom.PxPyPzE {
	v := p.chart.fourMomentum(p.initial[:], p.mass)
	return fmom.NewPxPyPzE(v[0], v[1], v[2], v[3])
}

func (p *Particle) vec4(initial bool) [4]float64 {
	if initial {
		return p.chart.fourMomentum(p.initial[:], p.mass)
	}
	return p.chart.fourMomentum(p.current[:], p.mass)
}

func (p *Particle) p4(initial bool) fmom.PxPyPzE {
	if initial {
		return p.InitialP4()
	}
	return p.P4()
}

// Jacobian returns the 4x3 matrix d(px,py,pz,E)/d(parameters) at the
// current coordinates.
func (p *Particle) Jacobian() *mat.Dense {
	j := p.chart.jacobian(p.current[:], p.mass)
	m := mat.NewDense(4, nParams, nil)
	for r := range j {
		m.SetRow(r, j[r][:])
	}
	return m
}

// Pulls returns (fitted - initial) / sigma(fitted - initial) per coordinate
// as computed by the last fit. Undefined pulls, including those of
// unmeasured coordinates, are zero.
func (p *Particle) Pulls() []float64 {
	out := p.pulls
	return out[:]
}

// measuredCov returns the covariance restricted to the measured coordinates
// together with their indices.
func (p *Particle) measuredCov() (*mat.SymDense, []int) {
	var idx []int
	for i := 0; i < nParams; i++ {
		if !p.unmeasured[i] {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, nil
	}
	sub := mat.NewSymDense(len(idx), nil)
	for a, i := range idx {
		for b := a; b < len(idx); b++ {
			sub.SetSym(a, b, p.cov.At(i, idx[b]))
		}
	}
	return sub, idx
}

// validate checks the measured covariance block: every variance must be
// positive and the block positive definite.
func (p *Particle) validate() error {
	sub, idx := p.measuredCov()
	if sub == nil {
		return nil
	}
	names := p.chart.ParameterNames()
	for a, i := range idx {
		if v := sub.At(a, a); v <= 0 {
			return invalidf(p.Name, "variance of measured %s is %v", names[i], v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sub); !ok {
		return invalidf(p.Name, "covariance of measured coordinates is not positive definite")
	}
	return nil
}

func (p *Particle) String() string {
	names := p.chart.ParameterNames()
	return fmt.Sprintf("%s[%s]{%s=%g %s=%g %s=%g m=%g}", p.Name, p.chart,
		names[0], p.current[0], names[1], p.current[1], names[2], p.current[2], p.mass)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
