package kinfit

import (
	"fmt"
	"math"
)

// Component is one entry of a 4-momentum.
type Component int

const (
	Px Component = iota
	Py
	Pz
	E
)

func (c Component) String() string {
	switch c {
	case Px:
		return "px"
	case Py:
		return "py"
	case Pz:
		return "pz"
	case E:
		return "E"
	}
	return fmt.Sprintf("Component(%d)", int(c))
}

// MomentumConstraint requires one 4-momentum component of the summed first
// group minus the summed second group to equal a target, e.g. transverse
// momentum balance. A positive width makes it soft:
//
//	f = sum1 - sum2 - target - width*alpha,  alpha ~ N(0,1)
type MomentumConstraint struct {
	name         string
	comp         Component
	target       float64
	width        float64
	side1, side2 []*Particle
	alpha        auxParam
}

// NewMomentumConstraint creates a hard constraint if width is zero and a
// Gaussian-smeared one otherwise.
func NewMomentumConstraint(name string, comp Component, target, width float64) *MomentumConstraint {
	c := &MomentumConstraint{name: name, comp: comp, target: target, width: width}
	c.alpha.enabled = width != 0
	return c
}

func (c *MomentumConstraint) AddParticles1(ps ...*Particle) *MomentumConstraint {
	c.side1 = append(c.side1, ps...)
	return c
}

func (c *MomentumConstraint) AddParticles2(ps ...*Particle) *MomentumConstraint {
	c.side2 = append(c.side2, ps...)
	return c
}

func (c *MomentumConstraint) Name() string           { return c.name }
func (c *MomentumConstraint) Component() Component   { return c.comp }
func (c *MomentumConstraint) Particles() []*Particle { return distinct(c.side1, c.side2) }

func (c *MomentumConstraint) component(ps []*Particle, initial bool) float64 {
	var s float64
	for _, p := range ps {
		v := p.vec4(initial)
		s += v[c.comp]
	}
	return s
}

func (c *MomentumConstraint) Value(initial bool) float64 {
	if c.comp < Px || c.comp > E {
		return math.NaN()
	}
	v := c.component(c.side1, initial) - c.component(c.side2, initial) - c.target
	if c.alpha.enabled {
		v -= c.width * c.alpha.get(initial)
	}
	return v
}

func (c *MomentumConstraint) Jacobian(p *Particle) [4]float64 {
	var g [4]float64
	if c.comp < Px || c.comp > E {
		return g
	}
	if contains(c.side1, p) {
		g[c.comp]++
	}
	if contains(c.side2, p) {
		g[c.comp]--
	}
	return g
}

func (c *MomentumConstraint) AuxJacobian() float64 {
	if !c.alpha.enabled {
		return 0
	}
	return -c.width
}

func (c *MomentumConstraint) Aux() (float64, bool) {
	return c.alpha.value, c.alpha.enabled
}

func (c *MomentumConstraint) aux() *auxParam { return &c.alpha }

func (c *MomentumConstraint) validate() error {
	if c.comp < Px || c.comp > E {
		return invalidf(c.name, "unknown momentum component %d", int(c.comp))
	}
	if len(c.side1)+len(c.side2) == 0 {
		return invalidf(c.name, "no particles")
	}
	if !finite(c.target) {
		return invalidf(c.name, "target %v is not finite", c.target)
	}
	if !finite(c.width) || c.width < 0 {
		return invalidf(c.name, "width %v is not a finite non-negative number", c.width)
	}
	return checkGroups(c.name, c.side1, c.side2)
}
