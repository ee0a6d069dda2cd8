package kinfit

import (
	"math"

	"go-hep.org/x/hep/hbook"
)

// EtaConstraint is a soft constraint pulling |eta| of one particle towards
// the most probable value of a template distribution. The template's CDF F
// is matched against the standard normal CDF of the auxiliary y:
//
//	f = F(|eta|) - Phi(y + delta)
//
// where delta maps y = 0 onto the template's mode. The constraint is
// strongly non-linear, so chi-square probabilities of fits using it are
// not calibrated.
type EtaConstraint struct {
	name     string
	particle *Particle

	lo, width float64
	density   []float64 // normalised bin contents per unit |eta|
	cdf       []float64 // cumulative probability at each bin's upper edge
	delta     float64

	y auxParam
}

// NewEtaConstraint builds the constraint from a uniformly binned histogram
// of |eta| with a single maximum.
func NewEtaConstraint(name string, p *Particle, template *hbook.H1D) (*EtaConstraint, error) {
	if p == nil {
		return nil, invalidf(name, "nil particle")
	}
	if template == nil || template.Len() == 0 {
		return nil, invalidf(name, "empty |eta| template")
	}

	n := template.Len()
	c := &EtaConstraint{
		name:     name,
		particle: p,
		lo:       template.XMin(),
		width:    (template.XMax() - template.XMin()) / float64(n),
		density:  make([]float64, n),
		cdf:      make([]float64, n),
		y:        auxParam{enabled: true},
	}

	var total float64
	for i := 0; i < n; i++ {
		v := template.Value(i)
		if v < 0 || !finite(v) {
			return nil, invalidf(name, "template bin %d has content %v", i, v)
		}
		total += v
	}
	if total == 0 {
		return nil, invalidf(name, "template has no entries")
	}

	var run float64
	mode := 0
	for i := 0; i < n; i++ {
		v := template.Value(i) / total
		run += v
		c.cdf[i] = run
		c.density[i] = v / c.width
		if v > c.density[mode]*c.width {
			mode = i
		}
	}
	c.cdf[n-1] = 1

	if c.cdf[mode] >= 1 {
		return nil, invalidf(name, "template maximum is in the last bin")
	}
	c.delta = unitNormal.Quantile(c.cdf[mode])
	return c, nil
}

func (c *EtaConstraint) Name() string           { return c.name }
func (c *EtaConstraint) Particles() []*Particle { return []*Particle{c.particle} }

// Delta returns the offset mapping y = 0 onto the template's mode.
func (c *EtaConstraint) Delta() float64 { return c.delta }

func (c *EtaConstraint) bin(absEta float64) int {
	i := int(math.Floor((absEta - c.lo) / c.width))
	switch {
	case i < 0:
		return -1
	case i >= len(c.cdf):
		return len(c.cdf)
	}
	return i
}

func (c *EtaConstraint) primitive(absEta float64) float64 {
	i := c.bin(absEta)
	switch {
	case i < 0:
		return 0
	case i >= len(c.cdf):
		return 1
	}
	return c.cdf[i]
}

func (c *EtaConstraint) Value(initial bool) float64 {
	v := c.particle.p4(initial)
	return c.primitive(math.Abs(v.Eta())) - unitNormal.CDF(c.y.get(initial)+c.delta)
}

// Jacobian uses the template density as dF/d|eta| and the exact gradient of
// eta with respect to the 3-momentum.
func (c *EtaConstraint) Jacobian(p *Particle) [4]float64 {
	if p != c.particle {
		return [4]float64{}
	}
	v := p.P4()
	eta := v.Eta()
	i := c.bin(math.Abs(eta))
	if i < 0 || i >= len(c.density) {
		return [4]float64{}
	}
	dens := c.density[i]
	if eta < 0 {
		dens = -dens
	}

	px, py, pz := v.Px(), v.Py(), v.Pz()
	pt2 := px*px + py*py
	mag := math.Sqrt(pt2 + pz*pz)
	if pt2 == 0 || mag == 0 {
		return [4]float64{}
	}
	return [4]float64{
		-dens * px * pz / (pt2 * mag),
		-dens * py * pz / (pt2 * mag),
		dens / mag,
		0,
	}
}

func (c *EtaConstraint) AuxJacobian() float64 {
	return -unitNormal.Prob(c.y.value + c.delta)
}

func (c *EtaConstraint) Aux() (float64, bool) { return c.y.value, true }

func (c *EtaConstraint) aux() *auxParam { return &c.y }

func (c *EtaConstraint) validate() error { return nil }
