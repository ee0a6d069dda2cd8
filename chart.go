package kinfit

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Parameterization selects the coordinate chart a particle's momentum is
// fitted in. Both charts carry three free parameters and a fixed mass.
type Parameterization int

const (
	// PtEtaPhi fits (pT, eta, phi).
	PtEtaPhi Parameterization = iota
	// PtThetaPhi fits (pT, theta, phi). Use it when the polar coordinate is
	// left unmeasured, e.g. for a neutrino built from missing ET.
	PtThetaPhi
)

const nParams = 3

func (c Parameterization) String() string {
	switch c {
	case PtEtaPhi:
		return "PtEtaPhi"
	case PtThetaPhi:
		return "PtThetaPhi"
	}
	return "Parameterization(?)"
}

func (c Parameterization) valid() bool {
	return c == PtEtaPhi || c == PtThetaPhi
}

// ParameterNames returns the names of the chart's coordinates in order.
func (c Parameterization) ParameterNames() [nParams]string {
	if c == PtThetaPhi {
		return [nParams]string{"pt", "theta", "phi"}
	}
	return [nParams]string{"pt", "eta", "phi"}
}

// fromMomentum maps a 3-momentum onto the chart.
func (c Parameterization) fromMomentum(p r3.Vec) [nParams]float64 {
	pt := math.Hypot(p.X, p.Y)
	phi := math.Atan2(p.Y, p.X)
	if c == PtThetaPhi {
		return [nParams]float64{pt, math.Atan2(pt, p.Z), phi}
	}
	return [nParams]float64{pt, math.Asinh(p.Z / pt), phi}
}

// fourMomentum evaluates (px, py, pz, E) at the given chart coordinates.
func (c Parameterization) fourMomentum(par []float64, mass float64) [4]float64 {
	pt, phi := par[0], par[2]
	px := pt * math.Cos(phi)
	py := pt * math.Sin(phi)

	var pz, p2 float64
	switch c {
	case PtThetaPhi:
		sin := math.Sin(par[1])
		pz = pt * math.Cos(par[1]) / sin
		p2 = pt * pt / (sin * sin)
	default:
		pz = pt * math.Sinh(par[1])
		cosh := math.Cosh(par[1])
		p2 = pt * pt * cosh * cosh
	}
	return [4]float64{px, py, pz, math.Sqrt(p2 + mass*mass)}
}

// jacobian returns d(px,py,pz,E)/d(parameters) as a row-major 4x3 array.
func (c Parameterization) jacobian(par []float64, mass float64) [4][nParams]float64 {
	pt, phi := par[0], par[2]
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)
	e := c.fourMomentum(par, mass)[3]

	var j [4][nParams]float64
	j[0][0] = cosPhi
	j[1][0] = sinPhi
	j[0][2] = -pt * sinPhi
	j[1][2] = pt * cosPhi

	switch c {
	case PtThetaPhi:
		sin := math.Sin(par[1])
		sin2 := sin * sin
		cot := math.Cos(par[1]) / sin
		j[2][0] = cot
		j[3][0] = pt / (e * sin2)
		j[2][1] = -pt / sin2
		j[3][1] = -pt * pt * cot / (e * sin2)
	default:
		sinh, cosh := math.Sinh(par[1]), math.Cosh(par[1])
		j[2][0] = sinh
		j[3][0] = pt * cosh * cosh / e
		j[2][1] = pt * cosh
		j[3][1] = pt * pt * cosh * sinh / e
	}
	return j
}
