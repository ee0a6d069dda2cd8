package neutrino

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/spatial/r2"
)

func ptEtaPhiM(pt, eta, phi, m float64) fmom.PxPyPzE {
	px, py, pz := pt*math.Cos(phi), pt*math.Sin(phi), pt*math.Sinh(eta)
	return fmom.NewPxPyPzE(px, py, pz, math.Sqrt(px*px+py*py+pz*pz+m*m))
}

func TestEtaRootsReproduceMass(t *testing.T) {
	lep := ptEtaPhiM(35, 0.4, 0.3, 0.000511)
	const etaNu = -0.8
	met := r2.Vec{X: 30 * math.Cos(2.5), Y: 30 * math.Sin(2.5)}

	mW := Mass(&lep, met, etaNu)
	r := EtaRoots(&lep, met, mW)
	require.Equal(t, 2, r.N)
	assert.LessOrEqual(t, r.Eta1, r.Eta2)

	found := math.Abs(r.Eta1-etaNu) < 1e-8 || math.Abs(r.Eta2-etaNu) < 1e-8
	assert.True(t, found, "roots %v do not contain %v", r, etaNu)

	assert.InDelta(t, mW, Mass(&lep, met, r.Eta1), 1e-8)
	assert.InDelta(t, mW, Mass(&lep, met, r.Eta2), 1e-8)
	assert.InDelta(t, 0.5*(r.Eta1+r.Eta2), r.Minimum, 1e-12)
}

func TestEtaRootsMinimum(t *testing.T) {
	lep := ptEtaPhiM(40, 1.1, -0.7, 0)
	met := r2.Vec{X: -25, Y: 10}

	r := EtaRoots(&lep, met, 80.4)
	m0 := Mass(&lep, met, r.Minimum)
	for _, d := range []float64{-0.5, -0.01, 0.01, 0.5} {
		assert.Greater(t, Mass(&lep, met, r.Minimum+d), m0)
	}

	below := EtaRoots(&lep, met, 0.5*m0)
	assert.Equal(t, 0, below.N)
	assert.InDelta(t, r.Minimum, below.Minimum, 1e-12)
}

func TestEtaRootsDegenerate(t *testing.T) {
	lep := ptEtaPhiM(40, 0.2, 0, 0)
	r := EtaRoots(&lep, r2.Vec{}, 80.4)
	assert.Equal(t, 0, r.N)
	assert.InDelta(t, 0.2, r.Minimum, 1e-12)
}

func TestGuessEtaConsistentEvent(t *testing.T) {
	lep := ptEtaPhiM(45, 0.3, 0.1, 0)
	b := ptEtaPhiM(60, -0.6, 2.8, 4.8)
	const etaNu = 0.9
	met := r2.Vec{X: 38 * math.Cos(-1.9), Y: 38 * math.Sin(-1.9)}

	mW := Mass(&lep, met, etaNu)
	sum := fmom.NewPxPyPzE(lep.Px()+b.Px(), lep.Py()+b.Py(), lep.Pz()+b.Pz(), lep.E()+b.E())
	mTop := Mass(&sum, met, etaNu)

	eta, e := GuessEta(&lep, &b, met, mW, mTop)
	assert.InDelta(t, etaNu, eta, 1e-8)
	assert.InDelta(t, 38*math.Cosh(etaNu), e, 1e-6)
}

func TestGuessEtaWithoutRoots(t *testing.T) {
	lep := ptEtaPhiM(45, 0.3, 0.1, 0)
	b := ptEtaPhiM(60, -0.6, 2.8, 4.8)
	met := r2.Vec{X: 10, Y: 0}

	sum := fmom.NewPxPyPzE(lep.Px()+b.Px(), lep.Py()+b.Py(), lep.Pz()+b.Pz(), lep.E()+b.E())
	w := EtaRoots(&lep, met, 0)
	top := EtaRoots(&sum, met, 0)
	require.Equal(t, 0, w.N)
	require.Equal(t, 0, top.N)

	eta, _ := GuessEta(&lep, &b, met, 0, 0)
	assert.InDelta(t, 0.5*(w.Minimum+top.Minimum), eta, 1e-12)
}

func TestTheta(t *testing.T) {
	assert.InDelta(t, math.Pi/2, Theta(0), 1e-15)
	for _, eta := range []float64{-2, -0.3, 0.7, 3} {
		assert.InDelta(t, eta, -math.Log(math.Tan(Theta(eta)/2)), 1e-12)
	}
}
