package kinfit

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// breitWigner is the non-relativistic Breit-Wigner (Cauchy) distribution of
// a resonance mass with pole Mass and full width Width.
type breitWigner struct {
	Mass, Width float64
}

func (bw breitWigner) Prob(m float64) float64 {
	hw := 0.5 * bw.Width
	d := m - bw.Mass
	return hw / (math.Pi * (d*d + hw*hw))
}

func (bw breitWigner) CDF(m float64) float64 {
	return math.Atan(2*(m-bw.Mass)/bw.Width)/math.Pi + 0.5
}

// quantileOfNormal returns CDF^-1(Phi(mu)), written through erf so that
// no intermediate probability has to be formed.
func (bw breitWigner) quantileOfNormal(mu float64) float64 {
	return bw.Mass + 0.5*bw.Width*math.Tan(0.5*math.Pi*math.Erf(mu/math.Sqrt2))
}

// dQuantileOfNormal is d/dmu of quantileOfNormal.
func (bw breitWigner) dQuantileOfNormal(mu float64) float64 {
	c := math.Cos(0.5 * math.Pi * math.Erf(mu/math.Sqrt2))
	return 0.5 * bw.Width * math.Sqrt(math.Pi/2) * math.Exp(-0.5*mu*mu) / (c * c)
}

// unitNormal gives the standard normal CDF and density used to map the
// auxiliary parameters onto probability space.
var unitNormal = distuv.UnitNormal
