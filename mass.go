package kinfit

import (
	"fmt"
	"math"
)

// MassKind selects how a MassConstraint shapes its residual.
type MassKind int

const (
	// MassExact requires M = target exactly.
	MassExact MassKind = iota
	// MassGaussian lets M follow a Gaussian of the given width around
	// target: f = M - target - width*alpha with alpha ~ N(0,1).
	MassGaussian
	// MassBreitWigner lets M follow a Breit-Wigner by matching
	// probabilities: f = F_BW(M) - Phi(mu).
	MassBreitWigner
	// MassBreitWignerInverse is the same law with the Breit-Wigner CDF
	// inverted analytically: f = M - F_BW^-1(Phi(mu)).
	MassBreitWignerInverse
)

var massKindNames = [...]string{
	MassExact:              "exact",
	MassGaussian:           "gaussian",
	MassBreitWigner:        "breit-wigner",
	MassBreitWignerInverse: "breit-wigner-inverse",
}

func (k MassKind) String() string {
	if k < 0 || int(k) >= len(massKindNames) {
		return fmt.Sprintf("MassKind(%d)", int(k))
	}
	return massKindNames[k]
}

// massShape holds the pure functions defining one MassKind in terms of the
// invariant mass m and the auxiliary parameter mu.
type massShape struct {
	soft     bool
	twoSided bool
	value    func(c *MassConstraint, m, mu float64) float64
	dm       func(c *MassConstraint, m float64) float64
	dmu      func(c *MassConstraint, mu float64) float64
}

var massShapes = [...]massShape{
	MassExact: {
		twoSided: true,
		value:    func(c *MassConstraint, m, _ float64) float64 { return m - c.mass },
		dm:       func(*MassConstraint, float64) float64 { return 1 },
		dmu:      func(*MassConstraint, float64) float64 { return 0 },
	},
	MassGaussian: {
		soft:     true,
		twoSided: true,
		value:    func(c *MassConstraint, m, alpha float64) float64 { return m - c.mass - c.width*alpha },
		dm:       func(*MassConstraint, float64) float64 { return 1 },
		dmu:      func(c *MassConstraint, _ float64) float64 { return -c.width },
	},
	MassBreitWigner: {
		soft:  true,
		value: func(c *MassConstraint, m, mu float64) float64 { return c.bw().CDF(m) - unitNormal.CDF(mu) },
		dm:    func(c *MassConstraint, m float64) float64 { return c.bw().Prob(m) },
		dmu:   func(_ *MassConstraint, mu float64) float64 { return -unitNormal.Prob(mu) },
	},
	MassBreitWignerInverse: {
		soft:  true,
		value: func(c *MassConstraint, m, mu float64) float64 { return m - c.bw().quantileOfNormal(mu) },
		dm:    func(*MassConstraint, float64) float64 { return 1 },
		dmu:   func(c *MassConstraint, mu float64) float64 { return -c.bw().dQuantileOfNormal(mu) },
	},
}

// MassConstraint ties the invariant mass of a particle group to a pole
// mass. With a second group (exact and Gaussian kinds only) the difference
// M1 - M2 is constrained instead, e.g. equal top masses in ttbar.
type MassConstraint struct {
	name         string
	kind         MassKind
	mass, width  float64
	side1, side2 []*Particle
	alpha        auxParam
}

// NewMassConstraint creates a mass constraint. Width is ignored for
// MassExact.
func NewMassConstraint(name string, kind MassKind, mass, width float64) *MassConstraint {
	c := &MassConstraint{name: name, kind: kind, mass: mass, width: width}
	if c.known() {
		c.alpha.enabled = massShapes[kind].soft
	}
	return c
}

// AddParticles1 appends particles to the first group.
func (c *MassConstraint) AddParticles1(ps ...*Particle) *MassConstraint {
	c.side1 = append(c.side1, ps...)
	return c
}

// AddParticles2 appends particles to the second group.
func (c *MassConstraint) AddParticles2(ps ...*Particle) *MassConstraint {
	c.side2 = append(c.side2, ps...)
	return c
}

func (c *MassConstraint) Name() string    { return c.name }
func (c *MassConstraint) Kind() MassKind  { return c.kind }
func (c *MassConstraint) Target() float64 { return c.mass }
func (c *MassConstraint) Width() float64  { return c.width }

func (c *MassConstraint) known() bool {
	return c.kind >= 0 && int(c.kind) < len(massShapes)
}

func (c *MassConstraint) bw() breitWigner {
	return breitWigner{Mass: c.mass, Width: c.width}
}

// Mass returns M1 - M2 from the initial or current momenta.
func (c *MassConstraint) Mass(initial bool) float64 {
	return massOf(c.side1, initial) - massOf(c.side2, initial)
}

func (c *MassConstraint) Particles() []*Particle {
	return distinct(c.side1, c.side2)
}

func (c *MassConstraint) Value(initial bool) float64 {
	if !c.known() {
		return math.NaN()
	}
	return massShapes[c.kind].value(c, c.Mass(initial), c.alpha.get(initial))
}

func (c *MassConstraint) Jacobian(p *Particle) [4]float64 {
	var g [4]float64
	if !c.known() {
		return g
	}
	if contains(c.side1, p) {
		g = massGradient(c.side1)
	}
	if contains(c.side2, p) {
		g = sub4(g, massGradient(c.side2))
	}
	return scale4(g, massShapes[c.kind].dm(c, c.Mass(false)))
}

func (c *MassConstraint) AuxJacobian() float64 {
	if !c.alpha.enabled || !c.known() {
		return 0
	}
	return massShapes[c.kind].dmu(c, c.alpha.value)
}

func (c *MassConstraint) Aux() (float64, bool) {
	return c.alpha.value, c.alpha.enabled
}

func (c *MassConstraint) aux() *auxParam { return &c.alpha }

func (c *MassConstraint) validate() error {
	if !c.known() {
		return invalidf(c.name, "unknown mass constraint kind %d", int(c.kind))
	}
	shape := massShapes[c.kind]
	if len(c.side1) == 0 {
		return invalidf(c.name, "no particles in the first group")
	}
	if len(c.side2) > 0 && !shape.twoSided {
		return invalidf(c.name, "%s mass constraint takes a single particle group", c.kind)
	}
	if !finite(c.mass) {
		return invalidf(c.name, "target mass %v is not finite", c.mass)
	}
	if shape.soft && (!finite(c.width) || c.width <= 0) {
		return invalidf(c.name, "%s mass constraint needs a positive width, got %v", c.kind, c.width)
	}
	return checkGroups(c.name, c.side1, c.side2)
}
