package toymc

import (
	"math"
	"math/rand/v2"

	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/decibelcooper/kinfit"
)

const electronMass = 0.000511

// Zee simulates Z -> e+ e- with a Gaussian transverse motion of the Z and
// fits it with a Gaussian Z mass constraint and soft transverse momentum
// balance.
type Zee struct {
	Z       Resonance
	PtWidth float64
	Fit     kinfit.Config
}

// NewZee configures the toy from a run file.
func NewZee(cfg RunConfig) *Zee {
	return &Zee{Z: cfg.Z, PtWidth: cfg.ZPtWidth, Fit: cfg.Fit}
}

// ZeeEvent is one pseudo-experiment.
type ZeeEvent struct {
	ZMass              float64
	ZPt                r3.Vec
	Electron, Positron Object
}

func (g *Zee) Generate(src rand.Source) ZeeEvent {
	var ev ZeeEvent
	for ev.ZMass <= 2*electronMass {
		ev.ZMass = breitWigner(src, g.Z)
	}

	pt := distuv.Normal{Mu: 0, Sigma: g.PtWidth, Src: src}
	ev.ZPt = r3.Vec{X: pt.Rand(), Y: pt.Rand()}
	ez := math.Sqrt(ev.ZMass*ev.ZMass + r3.Norm2(ev.ZPt))
	beta := r3.Scale(1/ez, ev.ZPt)

	var objs [2]Object
	for {
		p := math.Sqrt(ev.ZMass*ev.ZMass/4 - electronMass*electronMass)
		pe := isotropic(src, p)
		em := fmom.NewPxPyPzE(pe.X, pe.Y, pe.Z, ev.ZMass/2)
		ep := fmom.NewPxPyPzE(-pe.X, -pe.Y, -pe.Z, ev.ZMass/2)
		objs[0] = Object{True: boost(&em, beta), Chart: kinfit.PtEtaPhi, Mass: electronMass}
		objs[1] = Object{True: boost(&ep, beta), Chart: kinfit.PtEtaPhi, Mass: electronMass}
		if math.Hypot(objs[0].True.X, objs[0].True.Y) > 0 && math.Hypot(objs[1].True.X, objs[1].True.Y) > 0 {
			break
		}
	}
	for i := range objs {
		objs[i].Cov = electronResolution.Covariance(math.Hypot(objs[i].True.X, objs[i].True.Y))
		smear(src, &objs[i], 0, 1, 2)
	}
	ev.Electron, ev.Positron = objs[0], objs[1]
	return ev
}

// Build sets up the fitter of an event: a Gaussian Z mass constraint and
// px, py of the pair matching zero within PtWidth.
func (g *Zee) Build(ev ZeeEvent) (*kinfit.Fitter, error) {
	em, err := ev.Electron.particle("electron")
	if err != nil {
		return nil, err
	}
	ep, err := ev.Positron.particle("positron")
	if err != nil {
		return nil, err
	}

	mz := kinfit.NewMassConstraint("Z mass", kinfit.MassGaussian, g.Z.Mass, g.Z.Width).
		AddParticles1(em, ep)
	px := kinfit.NewMomentumConstraint("px balance", kinfit.Px, 0, g.PtWidth).
		AddParticles1(em, ep)
	py := kinfit.NewMomentumConstraint("py balance", kinfit.Py, 0, g.PtWidth).
		AddParticles1(em, ep)

	f := kinfit.NewFitter(g.Fit)
	f.AddMeasured(em, ep)
	f.AddConstraint(mz, px, py)
	return f, nil
}

func (g *Zee) Hypothesis(ev ZeeEvent) kinfit.Hypothesis {
	return func() (*kinfit.Fitter, error) { return g.Build(ev) }
}

// Mass returns the fitted pair mass.
func (g *Zee) Mass(res *kinfit.Result) float64 {
	return invariantMass(res, "electron", "positron")
}
