package toymc

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/decibelcooper/kinfit"
)

// Resolution is a diagonal detector response in the chart coordinates:
// a relative pT resolution and absolute angular resolutions.
type Resolution struct {
	PtFrac float64
	Angle  float64 // eta or theta, depending on the chart
	Phi    float64
}

var (
	electronResolution = Resolution{PtFrac: 0.02, Angle: 0.01, Phi: 0.01}
	jetResolution      = Resolution{PtFrac: 0.10, Angle: 0.01, Phi: 0.01}
	// The polar angle of the neutrino is not measured; its entry only
	// keeps the matrix regular.
	neutrinoResolution = Resolution{PtFrac: 0.25, Angle: 1, Phi: 0.01}
)

// Covariance returns the diagonal covariance for a particle of transverse
// momentum pt.
func (r Resolution) Covariance(pt float64) *mat.SymDense {
	s := [3]float64{r.PtFrac * pt, r.Angle, r.Phi}
	cov := mat.NewSymDense(3, nil)
	for i, v := range s {
		cov.SetSym(i, i, v*v)
	}
	return cov
}

// Object is one simulated final-state particle.
type Object struct {
	True     r3.Vec
	Chart    kinfit.Parameterization
	Mass     float64
	Cov      *mat.SymDense
	Measured []float64 // smeared chart coordinates
}

// particle creates the fit particle at the smeared coordinates.
func (o Object) particle(name string) (*kinfit.Particle, error) {
	p, err := kinfit.NewParticle(name, o.Chart, o.True, o.Mass, o.Cov)
	if err != nil {
		return nil, err
	}
	if err := p.SetInitial(o.Measured); err != nil {
		return nil, err
	}
	return p, nil
}

// smear draws measured coordinates around the true ones. Only coordinates
// listed in measured are smeared; a non-positive pT is drawn again.
func smear(src rand.Source, o *Object, measured ...int) {
	var truth [3]float64
	copy(truth[:], chartCoords(o.Chart, o.True))

	o.Measured = make([]float64, 3)
	copy(o.Measured, truth[:])
	for _, i := range measured {
		g := distuv.Normal{Mu: truth[i], Sigma: math.Sqrt(o.Cov.At(i, i)), Src: src}
		v := g.Rand()
		for i == 0 && v <= 0 {
			v = g.Rand()
		}
		o.Measured[i] = v
	}
	o.Measured[2] = wrapPhi(o.Measured[2])
}

func chartCoords(chart kinfit.Parameterization, p r3.Vec) []float64 {
	pt := math.Hypot(p.X, p.Y)
	angle := math.Asinh(p.Z / pt)
	if chart == kinfit.PtThetaPhi {
		angle = math.Atan2(pt, p.Z)
	}
	return []float64{pt, angle, math.Atan2(p.Y, p.X)}
}

func wrapPhi(phi float64) float64 {
	return math.Remainder(phi, 2*math.Pi)
}

// isotropic returns a vector of length p with a uniformly distributed
// direction.
func isotropic(src rand.Source, p float64) r3.Vec {
	cos := distuv.Uniform{Min: -1, Max: 1, Src: src}.Rand()
	phi := distuv.Uniform{Min: -math.Pi, Max: math.Pi, Src: src}.Rand()
	sin := math.Sqrt(1 - cos*cos)
	return r3.Vec{X: p * sin * math.Cos(phi), Y: p * sin * math.Sin(phi), Z: p * cos}
}

// breitWigner samples a resonance mass. The non-relativistic Breit-Wigner
// is a Cauchy law, i.e. Student's t with one degree of freedom and scale
// width/2.
func breitWigner(src rand.Source, r Resonance) float64 {
	return distuv.StudentsT{Mu: r.Mass, Sigma: 0.5 * r.Width, Nu: 1, Src: src}.Rand()
}
