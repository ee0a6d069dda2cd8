package toymc

import (
	"math"
	"math/rand/v2"

	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/decibelcooper/kinfit"
	"github.com/decibelcooper/kinfit/neutrino"
)

// SingleTop simulates t -> W b -> e nu b with the top at rest and fits it
// with a W and a top mass constraint. The neutrino theta is unmeasured and
// seeded with neutrino.GuessEta.
type SingleTop struct {
	Top, W Resonance
	Kind   kinfit.MassKind
	Fit    kinfit.Config
}

// NewSingleTop configures the toy from a run file.
func NewSingleTop(cfg RunConfig) (*SingleTop, error) {
	kind, err := ParseMassKind(cfg.MassConstraint)
	if err != nil {
		return nil, err
	}
	return &SingleTop{Top: cfg.Top, W: cfg.W, Kind: kind, Fit: cfg.Fit}, nil
}

// SingleTopEvent is one pseudo-experiment.
type SingleTopEvent struct {
	TopMass, WMass             float64
	Electron, Neutrino, BQuark Object
}

// Generate draws the true decay, smears it and seeds the neutrino.
func (g *SingleTop) Generate(src rand.Source) SingleTopEvent {
	var ev SingleTopEvent
	for {
		ev.TopMass = breitWigner(src, g.Top)
		ev.WMass = breitWigner(src, g.W)
		if ev.WMass > 0 && ev.TopMass > ev.WMass {
			break
		}
	}

	// massless b quark recoiling against the W
	p := (ev.TopMass*ev.TopMass - ev.WMass*ev.WMass) / (2 * ev.TopMass)
	pb := isotropic(src, p)
	pw := r3.Scale(-1, pb)
	beta := r3.Scale(1/math.Sqrt(ev.WMass*ev.WMass+p*p), pw)

	pe := isotropic(src, ev.WMass/2)
	e := fmom.NewPxPyPzE(pe.X, pe.Y, pe.Z, ev.WMass/2)
	nu := fmom.NewPxPyPzE(-pe.X, -pe.Y, -pe.Z, ev.WMass/2)

	ev.BQuark = Object{True: pb, Chart: kinfit.PtEtaPhi}
	ev.Electron = Object{True: boost(&e, beta), Chart: kinfit.PtEtaPhi}
	ev.Neutrino = Object{True: boost(&nu, beta), Chart: kinfit.PtThetaPhi}

	ev.BQuark.Cov = jetResolution.Covariance(math.Hypot(pb.X, pb.Y))
	ev.Electron.Cov = electronResolution.Covariance(math.Hypot(ev.Electron.True.X, ev.Electron.True.Y))
	ev.Neutrino.Cov = neutrinoResolution.Covariance(math.Hypot(ev.Neutrino.True.X, ev.Neutrino.True.Y))

	smear(src, &ev.Electron, 0, 1, 2)
	smear(src, &ev.BQuark, 0, 1, 2)
	smear(src, &ev.Neutrino, 0, 2)

	lep := ptEtaPhiP4(ev.Electron.Measured, 0)
	b := ptEtaPhiP4(ev.BQuark.Measured, 0)
	met := r2.Vec{
		X: ev.Neutrino.Measured[0] * math.Cos(ev.Neutrino.Measured[2]),
		Y: ev.Neutrino.Measured[0] * math.Sin(ev.Neutrino.Measured[2]),
	}
	eta, _ := neutrino.GuessEta(&lep, &b, met, g.W.Mass, g.Top.Mass)
	ev.Neutrino.Measured[1] = neutrino.Theta(eta)
	return ev
}

// Build sets up the fitter of an event. The event is not modified.
func (g *SingleTop) Build(ev SingleTopEvent) (*kinfit.Fitter, error) {
	e, err := ev.Electron.particle("electron")
	if err != nil {
		return nil, err
	}
	nu, err := ev.Neutrino.particle("neutrino")
	if err != nil {
		return nil, err
	}
	if err := nu.SetUnmeasured(1); err != nil {
		return nil, err
	}
	b, err := ev.BQuark.particle("b quark")
	if err != nil {
		return nil, err
	}

	w := kinfit.NewMassConstraint("W mass", g.Kind, g.W.Mass, g.W.Width).
		AddParticles1(e, nu)
	top := kinfit.NewMassConstraint("top mass", g.Kind, g.Top.Mass, g.Top.Width).
		AddParticles1(e, nu, b)

	f := kinfit.NewFitter(g.Fit)
	f.AddMeasured(e, nu, b)
	f.AddConstraint(w, top)
	return f, nil
}

// Hypothesis defers Build for kinfit.FitAll.
func (g *SingleTop) Hypothesis(ev SingleTopEvent) kinfit.Hypothesis {
	return func() (*kinfit.Fitter, error) { return g.Build(ev) }
}

// Masses returns the reconstructed W and top masses of a fitted event.
func (g *SingleTop) Masses(res *kinfit.Result) (mW, mTop float64) {
	return invariantMass(res, "electron", "neutrino"), invariantMass(res, "electron", "neutrino", "b quark")
}

func boost(p *fmom.PxPyPzE, beta r3.Vec) r3.Vec {
	b := fmom.Boost(p, beta)
	return r3.Vec{X: b.Px(), Y: b.Py(), Z: b.Pz()}
}

func ptEtaPhiP4(par []float64, m float64) fmom.PxPyPzE {
	pt, eta, phi := par[0], par[1], par[2]
	px, py, pz := pt*math.Cos(phi), pt*math.Sin(phi), pt*math.Sinh(eta)
	return fmom.NewPxPyPzE(px, py, pz, math.Sqrt(px*px+py*py+pz*pz+m*m))
}

// invariantMass sums the fitted momenta of the named particles.
func invariantMass(res *kinfit.Result, names ...string) float64 {
	var sum fmom.PxPyPzE
	for _, n := range names {
		fp, ok := res.Particle(n)
		if !ok {
			return math.NaN()
		}
		fmom.IAdd(&sum, &fp.P4)
	}
	return sum.M()
}
