package kinfit

import (
	"math"

	"go-hep.org/x/hep/fmom"
)

// Constraint is one scalar equation f = 0 coupling particles.
//
// The set of implementations is closed: MassConstraint, MomentumConstraint
// and EtaConstraint.
type Constraint interface {
	Name() string

	// Particles returns every distinct particle the constraint depends on.
	Particles() []*Particle

	// Value evaluates f from the particles' initial or current momenta and
	// the auxiliary parameter's initial or current value.
	Value(initial bool) float64

	// Jacobian returns df/d(px,py,pz,E) of particle p at the current point.
	// It is zero for particles the constraint does not depend on.
	Jacobian(p *Particle) [4]float64

	// AuxJacobian returns df/d(aux) at the current point, zero when the
	// constraint has no auxiliary parameter.
	AuxJacobian() float64

	// Aux returns the auxiliary parameter, ok is false when there is none.
	Aux() (value float64, ok bool)

	aux() *auxParam
	validate() error
}

// auxParam is the standard-normal nuisance parameter of a soft constraint.
// It starts at zero and enters the chi-square as value^2.
type auxParam struct {
	enabled bool
	value   float64
}

func (a *auxParam) get(initial bool) float64 {
	if initial {
		return 0
	}
	return a.value
}

// sumP4 adds up the momenta of a particle list.
func sumP4(ps []*Particle, initial bool) fmom.PxPyPzE {
	var sum fmom.PxPyPzE
	for _, p := range ps {
		v := p.p4(initial)
		fmom.IAdd(&sum, &v)
	}
	return sum
}

// massOf returns the signed invariant mass of a particle list, negative for
// space-like sums.
func massOf(ps []*Particle, initial bool) float64 {
	if len(ps) == 0 {
		return 0
	}
	sum := sumP4(ps, initial)
	return sum.M()
}

// massGradient returns dM/d(px,py,pz,E) of any member of ps at the current
// point. A vanishing mass has no defined gradient and yields zero.
func massGradient(ps []*Particle) [4]float64 {
	if len(ps) == 0 {
		return [4]float64{}
	}
	sum := sumP4(ps, false)
	m := math.Abs(sum.M())
	if m == 0 {
		return [4]float64{}
	}
	return [4]float64{-sum.Px() / m, -sum.Py() / m, -sum.Pz() / m, sum.E() / m}
}

// checkGroups rejects nil particles and particles listed twice in a group.
func checkGroups(name string, groups ...[]*Particle) error {
	for _, g := range groups {
		for i, p := range g {
			if p == nil {
				return invalidf(name, "nil particle")
			}
			if contains(g[:i], p) {
				return invalidf(name, "particle %q listed twice in one group", p.Name)
			}
		}
	}
	return nil
}

func contains(ps []*Particle, p *Particle) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

func distinct(lists ...[]*Particle) []*Particle {
	var out []*Particle
	for _, l := range lists {
		for _, p := range l {
			if !contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func scale4(v [4]float64, s float64) [4]float64 {
	return [4]float64{v[0] * s, v[1] * s, v[2] * s, v[3] * s}
}

func sub4(a, b [4]float64) [4]float64 {
	return [4]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2], a[3] - b[3]}
}
