// Package neutrino seeds the pseudorapidity of a neutrino reconstructed
// from missing transverse energy in leptonic W and top decays.
//
// Only the neutrino's transverse momentum is measured, so its eta is
// usually left unmeasured in the fit and has to start somewhere sensible.
// The mass of the lepton-neutrino system as a function of the neutrino eta
// has a single minimum at the rapidity of the visible system, and a pole
// mass above that minimum is reached at two values of eta.
package neutrino

import (
	"math"

	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/spatial/r2"
)

// Roots are the solutions of m(visible + neutrino) = mass in the neutrino
// eta for a fixed neutrino transverse momentum.
type Roots struct {
	// N is the number of solutions, 0 or 2. The two may coincide when the
	// mass equals the minimum exactly.
	N int
	// Eta1 <= Eta2 are the solutions when N is 2.
	Eta1, Eta2 float64
	// Minimum is the eta minimising the mass.
	Minimum float64
}

// EtaRoots solves for the eta of a massless neutrino with transverse
// momentum met such that the invariant mass of vis plus the neutrino equals
// mass. vis may be a single lepton or a summed system like lepton+b-jet.
func EtaRoots(vis fmom.P4, met r2.Vec, mass float64) Roots {
	e, pz := vis.E(), vis.Pz()
	k2 := e*e - pz*pz
	if k2 <= 0 {
		return Roots{}
	}
	k := math.Sqrt(k2)
	y := 0.5 * math.Log((e+pz)/(e-pz))

	r := Roots{Minimum: y}
	ptnu := math.Hypot(met.X, met.Y)
	if ptnu == 0 {
		return r
	}

	m2vis := e*e - pz*pz - vis.Px()*vis.Px() - vis.Py()*vis.Py()
	dot := vis.Px()*met.X + vis.Py()*met.Y
	a := (mass*mass - m2vis + 2*dot) / (2 * ptnu)

	// k cosh(eta - y) = a
	if a < k {
		return r
	}
	d := math.Acosh(a / k)
	r.N = 2
	r.Eta1, r.Eta2 = y-d, y+d
	return r
}

// Mass returns the invariant mass of vis plus a massless neutrino with
// transverse momentum met at the given eta.
func Mass(vis fmom.P4, met r2.Vec, eta float64) float64 {
	ptnu := math.Hypot(met.X, met.Y)
	nu := fmom.NewPxPyPzE(met.X, met.Y, ptnu*math.Sinh(eta), ptnu*math.Cosh(eta))
	sum := fmom.NewPxPyPzE(vis.Px(), vis.Py(), vis.Pz(), vis.E())
	fmom.IAdd(&sum, &nu)
	return sum.M()
}

// GuessEta combines the W and top mass equations of a leptonic top decay
// into one starting eta and energy for the neutrino:
//
//   - without any solution it averages both minima,
//   - with solutions of one equation only it averages the solution nearest
//     to the other equation's minimum with that minimum,
//   - otherwise it averages the closest W/top pair of solutions.
//
// The energy is that of a massless neutrino, |met| cosh(eta).
func GuessEta(lepton, bjet fmom.P4, met r2.Vec, mW, mTop float64) (eta, energy float64) {
	sum := fmom.NewPxPyPzE(
		lepton.Px()+bjet.Px(),
		lepton.Py()+bjet.Py(),
		lepton.Pz()+bjet.Pz(),
		lepton.E()+bjet.E(),
	)
	w := EtaRoots(lepton, met, mW)
	top := EtaRoots(&sum, met, mTop)

	switch {
	case w.N == 0 && top.N == 0:
		eta = 0.5 * (w.Minimum + top.Minimum)
	case w.N == 0:
		eta = 0.5 * (nearest(top, w.Minimum) + w.Minimum)
	case top.N == 0:
		eta = 0.5 * (nearest(w, top.Minimum) + top.Minimum)
	default:
		pairs := [4][2]float64{
			{w.Eta1, top.Eta1},
			{w.Eta1, top.Eta2},
			{w.Eta2, top.Eta1},
			{w.Eta2, top.Eta2},
		}
		best := pairs[0]
		for _, p := range pairs[1:] {
			if math.Abs(p[0]-p[1]) < math.Abs(best[0]-best[1]) {
				best = p
			}
		}
		eta = 0.5 * (best[0] + best[1])
	}
	return eta, math.Hypot(met.X, met.Y) * math.Cosh(eta)
}

func nearest(r Roots, to float64) float64 {
	if math.Abs(r.Eta1-to) < math.Abs(r.Eta2-to) {
		return r.Eta1
	}
	return r.Eta2
}

// Theta converts a pseudorapidity into the polar angle.
func Theta(eta float64) float64 {
	return 2 * math.Atan(math.Exp(-eta))
}
