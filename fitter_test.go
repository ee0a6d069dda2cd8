package kinfit

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/fmom"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"
)

const zMass = 91.1876

func tightConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIterations = 200
	cfg.MaxDeltaS = 1e-10
	cfg.MaxConstraintViolation = 1e-10
	return cfg
}

// requireFeasible checks every constraint of a converged fit.
func requireFeasible(t *testing.T, f *Fitter, res *Result) {
	t.Helper()
	require.True(t, res.Converged(), "status %v, reason %v", res.Status, res.Reason)
	for _, c := range f.Constraints() {
		assert.Less(t, math.Abs(c.Value(false)), f.Config().MaxConstraintViolation, c.Name())
	}
	for _, c := range res.Constraints {
		assert.Less(t, math.Abs(c.Value), f.Config().MaxConstraintViolation, c.Name)
	}
	assert.Less(t, res.MaxViolation, f.Config().MaxConstraintViolation)
}

func TestFitZeeExactMass(t *testing.T) {
	e1, e2 := zPair(t)
	mz := NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2)

	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(mz)
	res, err := f.Fit()
	require.NoError(t, err)

	requireFeasible(t, f, res)
	assert.LessOrEqual(t, res.Iterations, 50)
	assert.Equal(t, res.Iterations, f.Iterations())
	assert.GreaterOrEqual(t, res.ChiSquare, 0.0)
	assert.Equal(t, 1, res.NDF)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.InDelta(t, zMass, mz.Mass(false), 1e-4)

	// The 27 GeV pair is pulled up hard, mostly through the momenta.
	fe1, ok := res.Particle("e1")
	require.True(t, ok)
	assert.Greater(t, fe1.Parameters[0], 80.0)
	assert.Greater(t, fe1.Pulls[0], 3.0)
	assert.InDeltaSlice(t, []float64{40, 1.2, 0.3}, fe1.Initial, 1e-9)
	require.NotNil(t, fe1.Covariance)
	for i := 0; i < 3; i++ {
		// Constraining can only shrink the variances.
		assert.LessOrEqual(t, fe1.Covariance.At(i, i), e1.cov.At(i, i)*(1+1e-9))
	}
	assert.Equal(t, fe1.Pulls, e1.Pulls())
}

func TestFitUnmeasuredAngleDrivenByConstraint(t *testing.T) {
	// reference: theta of e2 measured
	r1, r2 := zPair(t)
	ref := NewFitter(DefaultConfig())
	ref.AddMeasured(r1, r2)
	refMass := NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(r1, r2)
	ref.AddConstraint(refMass)
	refRes, err := ref.Fit()
	require.NoError(t, err)
	require.True(t, refRes.Converged())

	e1, e2 := zPair(t)
	require.NoError(t, e2.SetInitial([]float64{35, 0.01, -0.4}))
	require.NoError(t, e2.SetUnmeasured(1))
	mz := NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2)

	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(mz)
	res, err := f.Fit()
	require.NoError(t, err)
	requireFeasible(t, f, res)

	assert.Equal(t, 0, res.NDF)
	assert.InDelta(t, refMass.Mass(false), mz.Mass(false), 2e-4)
	assert.InDelta(t, zMass, mz.Mass(false), 1e-4)

	// Only the unmeasured angle moves.
	assert.InDelta(t, 0, res.ChiSquare, 1e-12)
	assert.InDeltaSlice(t, []float64{40, 1.2, 0.3}, e1.Parameters(), 1e-9)
	assert.InDelta(t, 35, e2.Parameters()[0], 1e-9)
	assert.InDelta(t, -0.4, e2.Parameters()[2], 1e-9)
	assert.Greater(t, e2.Parameters()[1], 0.01)
	assert.Equal(t, []bool{false, true, false}, res.Particles[1].Unmeasured)
	assert.Zero(t, e2.Pulls()[1])
}

func TestFitRejectsZeroVariance(t *testing.T) {
	e1 := mustParticle(t, "e1", PtThetaPhi, [3]float64{40, 1.2, 0.3}, 0.000511, diagCov(2, 0.01, 0.01))
	e2 := mustParticle(t, "e2", PtThetaPhi, [3]float64{35, 1.0, -0.4}, 0.000511, diagCov(2, 0, 0.01))

	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))

	res, err := f.Fit()
	assert.Nil(t, res)
	var inv *InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "e2", inv.Object)
	assert.True(t, IsInvalidInput(err))
	assert.Zero(t, f.Iterations())
	assert.InDeltaSlice(t, []float64{35, 1.0, -0.4}, e2.Parameters(), 1e-12)

	// Still rejected, not mistaken for a finished fit.
	_, err = f.Fit()
	assert.ErrorAs(t, err, &inv)
}

// leptonicTop is a leptonic top decay with an unmeasured neutrino theta.
func leptonicTop(t testing.TB, kind MassKind) (*Fitter, []*Particle) {
	e := mustParticle(t, "e", PtEtaPhi, [3]float64{45, 0.3, 0.1}, 0, diagCov(0.9, 0.01, 0.01))
	nu := mustParticle(t, "nu", PtThetaPhi, [3]float64{38, 1.2, -1.9}, 0, diagCov(9.5, 1, 0.01))
	require.NoError(t, nu.SetUnmeasured(1))
	b := mustParticle(t, "b", PtEtaPhi, [3]float64{60, -0.6, 2.8}, 0, diagCov(6, 0.01, 0.01))

	w := NewMassConstraint("W", kind, 80.4, 2.14).AddParticles1(e, nu)
	top := NewMassConstraint("top", kind, 175, 2).AddParticles1(e, nu, b)

	f := NewFitter(tightConfig())
	f.AddMeasured(e, nu, b)
	f.AddConstraint(w, top)
	return f, []*Particle{e, nu, b}
}

// At the minimum the chi-square gradient over all coordinates must be a
// combination of both constraint gradients, including the rows of the
// electron shared between them.
func TestFitSharedParticleStationarity(t *testing.T) {
	f, ps := leptonicTop(t, MassGaussian)
	res, err := f.Fit()
	require.NoError(t, err)
	requireFeasible(t, f, res)
	assert.Equal(t, 1, res.NDF)

	cons := f.Constraints()
	var rows [][]float64
	var grad []float64
	for _, p := range ps {
		jac := p.Jacobian()
		for i := 0; i < nParams; i++ {
			row := make([]float64, len(cons))
			for j, c := range cons {
				d := c.Jacobian(p)
				for r := 0; r < 4; r++ {
					row[j] += d[r] * jac.At(r, i)
				}
			}
			rows = append(rows, row)
			g := 0.0
			if !p.Unmeasured(i) {
				g = (p.current[i] - p.initial[i]) / p.cov.At(i, i)
			}
			grad = append(grad, g)
		}
	}
	for j, c := range cons {
		row := make([]float64, len(cons))
		row[j] = c.AuxJacobian()
		rows = append(rows, row)
		aux, _ := c.Aux()
		grad = append(grad, aux)
	}

	n := len(rows)
	bt := mat.NewDense(n, len(cons), nil)
	rhs := mat.NewVecDense(n, nil)
	for i, row := range rows {
		bt.SetRow(i, row)
		rhs.SetVec(i, -grad[i])
	}
	var lambda mat.VecDense
	require.NoError(t, lambda.SolveVec(bt, rhs))

	var resid mat.VecDense
	resid.MulVec(bt, &lambda)
	resid.SubVec(&resid, rhs)
	assert.Less(t, mat.Norm(&resid, 2), 1e-4*mat.Norm(rhs, 2))

	// both multipliers are active
	assert.Greater(t, math.Abs(lambda.AtVec(0)), 1e-3)
	assert.Greater(t, math.Abs(lambda.AtVec(1)), 1e-3)

	// the electron moved under both constraints
	fe, _ := res.Particle("e")
	assert.NotEqual(t, fe.Initial[0], fe.Parameters[0])
}

func TestFitBreitWignerEncodingsAgree(t *testing.T) {
	fit := func(kind MassKind) (*Result, []*Particle) {
		e := mustParticle(t, "e", PtEtaPhi, [3]float64{40, 0.2, 0.1}, 0, diagCov(0.8, 0.01, 0.01))
		nu := mustParticle(t, "nu", PtEtaPhi, [3]float64{38, 0.7, 2.9}, 0, diagCov(4, 0.05, 0.02))
		b := mustParticle(t, "b", PtEtaPhi, [3]float64{55, -0.4, -1.5}, 0, diagCov(5.5, 0.02, 0.02))

		cfg := tightConfig()
		cfg.MaxDeltaS = 1e-11
		cfg.MaxConstraintViolation = 1e-11
		f := NewFitter(cfg)
		f.AddMeasured(e, nu, b)
		f.AddConstraint(
			NewMassConstraint("W", kind, 80.4, 2.14).AddParticles1(e, nu),
			NewMassConstraint("top", kind, 175, 2).AddParticles1(e, nu, b),
		)
		res, err := f.Fit()
		require.NoError(t, err)
		requireFeasible(t, f, res)
		return res, []*Particle{e, nu, b}
	}

	cdf, cdfParts := fit(MassBreitWigner)
	inv, invParts := fit(MassBreitWignerInverse)

	assert.InDelta(t, inv.ChiSquare, cdf.ChiSquare, 1e-8*math.Max(1, inv.ChiSquare))
	assert.Equal(t, inv.NDF, cdf.NDF)
	for k := range cdfParts {
		assert.InDeltaSlice(t, invParts[k].Parameters(), cdfParts[k].Parameters(), 1e-6, cdfParts[k].Name)
	}
	for j := range cdf.Constraints {
		assert.InDelta(t, inv.Constraints[j].Aux, cdf.Constraints[j].Aux, 1e-6, cdf.Constraints[j].Name)
	}
}

func TestFitResetReproducesResult(t *testing.T) {
	f, _ := leptonicTop(t, MassGaussian)
	first, err := f.Fit()
	require.NoError(t, err)
	require.True(t, first.Converged())

	_, err = f.Fit()
	require.ErrorIs(t, err, ErrNotReset)

	f.Reset()
	assert.Zero(t, f.Iterations())
	for _, p := range f.Particles() {
		assert.Equal(t, p.InitialParameters(), p.Parameters())
		assert.Equal(t, []float64{0, 0, 0}, p.Pulls())
	}
	for _, c := range f.Constraints() {
		aux, _ := c.Aux()
		assert.Zero(t, aux)
	}

	second, err := f.Fit()
	require.NoError(t, err)

	opts := cmp.Options{
		cmp.Comparer(func(a, b *mat.SymDense) bool {
			if a == nil || b == nil {
				return a == b
			}
			return mat.Equal(a, b)
		}),
		cmp.Comparer(func(a, b fmom.PxPyPzE) bool {
			return a.Px() == b.Px() && a.Py() == b.Py() && a.Pz() == b.Pz() && a.E() == b.E()
		}),
	}
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Fatalf("refit differs (-first +second):\n%s", diff)
	}
}

func TestFitDegreesOfFreedom(t *testing.T) {
	// a nearly balanced pair close to the Z pole
	e1 := mustParticle(t, "e1", PtThetaPhi, [3]float64{45, 1.2, 0.3}, 0.000511, diagCov(2, 0.01, 0.01))
	e2 := mustParticle(t, "e2", PtThetaPhi, [3]float64{44, 1.9, 0.25 + math.Pi}, 0.000511, diagCov(2, 0.01, 0.01))
	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(
		NewMassConstraint("Z", MassGaussian, zMass, 2.4952).AddParticles1(e1, e2),
		NewMomentumConstraint("px", Px, 0, 8.1).AddParticles1(e1, e2),
		NewMomentumConstraint("py", Py, 0, 8.1).AddParticles1(e1, e2),
	)
	res, err := f.Fit()
	require.NoError(t, err)
	assert.Equal(t, 3, res.NDF)
	requireFeasible(t, f, res)
	for _, c := range res.Constraints {
		assert.True(t, c.HasAux, c.Name)
	}
	assert.Greater(t, res.Probability(), 0.0)
	assert.LessOrEqual(t, res.Probability(), 1.0)

	g, _ := leptonicTop(t, MassGaussian)
	res, err = g.Fit()
	require.NoError(t, err)
	assert.Equal(t, 2-1, res.NDF)
}

func TestFitWithoutConstraints(t *testing.T) {
	e1, e2 := zPair(t)
	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	res, err := f.Fit()
	require.NoError(t, err)
	assert.True(t, res.Converged())
	assert.Zero(t, res.Iterations)
	assert.Zero(t, res.ChiSquare)
	assert.Zero(t, res.NDF)
	assert.Zero(t, res.Probability())
	assert.Len(t, res.Particles, 2)
	assert.Nil(t, res.Particles[0].Covariance)
}

func TestFitSingularConstraints(t *testing.T) {
	e1, e2 := zPair(t)
	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(
		NewMomentumConstraint("px", Px, 0, 0).AddParticles1(e1, e2),
		NewMomentumConstraint("px again", Px, 0, 0).AddParticles1(e1, e2),
	)
	res, err := f.Fit()
	require.NoError(t, err)
	assert.Equal(t, NotConverged, res.Status)
	assert.Equal(t, ReasonSingular, res.Reason)
	assert.Zero(t, res.Iterations)
	assert.Nil(t, res.Particles[0].Covariance)
	assert.Equal(t, []float64{0, 0, 0}, res.Particles[0].Pulls)
}

func TestFitIterationLimit(t *testing.T) {
	e1, e2 := zPair(t)
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	f := NewFitter(cfg)
	f.AddMeasured(e1, e2)
	f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
	res, err := f.Fit()
	require.NoError(t, err)
	assert.Equal(t, NotConverged, res.Status)
	assert.Equal(t, ReasonMaxIterations, res.Reason)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "iteration limit reached", res.Reason.String())
}

func TestFitInvalidSetup(t *testing.T) {
	build := map[string]func(t *testing.T) *Fitter{
		"too many unmeasured": func(t *testing.T) *Fitter {
			e1, e2 := zPair(t)
			require.NoError(t, e2.SetUnmeasured(0))
			require.NoError(t, e2.SetUnmeasured(1))
			f := NewFitter(DefaultConfig())
			f.AddMeasured(e1, e2)
			f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
			return f
		},
		"unknown particle": func(t *testing.T) *Fitter {
			e1, e2 := zPair(t)
			f := NewFitter(DefaultConfig())
			f.AddMeasured(e1)
			f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
			return f
		},
		"duplicate particle": func(t *testing.T) *Fitter {
			e1, _ := zPair(t)
			f := NewFitter(DefaultConfig())
			f.AddMeasured(e1, e1)
			return f
		},
		"nothing measured": func(t *testing.T) *Fitter {
			e1, _ := zPair(t)
			for i := 0; i < 3; i++ {
				require.NoError(t, e1.SetUnmeasured(i))
			}
			f := NewFitter(DefaultConfig())
			f.AddMeasured(e1)
			return f
		},
		"nil constraint": func(t *testing.T) *Fitter {
			e1, _ := zPair(t)
			f := NewFitter(DefaultConfig())
			f.AddMeasured(e1)
			f.AddConstraint(nil)
			return f
		},
		"bad config": func(t *testing.T) *Fitter {
			e1, _ := zPair(t)
			cfg := DefaultConfig()
			cfg.MaxDeltaS = 0
			f := NewFitter(cfg)
			f.AddMeasured(e1)
			return f
		},
	}
	for name, b := range build {
		t.Run(name, func(t *testing.T) {
			res, err := b(t).Fit()
			assert.Nil(t, res)
			assert.True(t, IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestNegativeChiSquareIsAConsistencyViolation(t *testing.T) {
	f := NewFitter(DefaultConfig())

	res := &Result{Status: Converged, ChiSquare: -1e-6, S: -1e-6}
	f.checkConsistency(res)
	assert.Equal(t, Converged, res.Status, "rounding below MaxDeltaS is tolerated")

	res = &Result{Status: Converged, ChiSquare: -1, S: -1}
	f.checkConsistency(res)
	assert.Equal(t, NotConverged, res.Status)
	assert.Equal(t, ReasonNegativeChiSquare, res.Reason)

	// A diverging fit may have any S far from the constraint surface.
	res = &Result{Status: NotConverged, Reason: ReasonMaxIterations, ChiSquare: 12, S: -1.4e19}
	f.checkConsistency(res)
	assert.Equal(t, ReasonMaxIterations, res.Reason)

	var err error = &ConsistencyError{ChiSquare: -1, Iteration: 3}
	var cerr *ConsistencyError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, err.Error(), "chi-square -1 after iteration 3")
	assert.False(t, IsInvalidInput(err))
}

// corruptedZFit is a Z fit whose chi-square evaluation is broken to return
// a negative value.
func corruptedZFit(t testing.TB) *Fitter {
	e1, e2 := zPair(t)
	f := NewFitter(DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
	f.chi2 = func(*layout, *mat.VecDense) float64 { return -1 }
	return f
}

func TestFitReportsNegativeChiSquare(t *testing.T) {
	f := corruptedZFit(t)
	res, err := f.Fit()

	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, -1.0, cerr.ChiSquare)
	assert.Equal(t, 1, cerr.Iteration)
	assert.False(t, IsInvalidInput(err))

	require.NotNil(t, res)
	assert.Equal(t, NotConverged, res.Status)
	assert.Equal(t, ReasonNegativeChiSquare, res.Reason)
	assert.Equal(t, 1, res.Iterations)
}

// Far from the constraint surface the Lagrange term drives S negative; that
// is ordinary non-convergence.
func TestFitNegativeSIsNotInconsistent(t *testing.T) {
	f, _ := leptonicTop(t, MassBreitWigner)
	f.cfg = DefaultConfig()
	f.cfg.MaxIterations = 3

	res, err := f.Fit()
	require.NoError(t, err)
	assert.Less(t, res.S, -f.cfg.MaxDeltaS)
	assert.GreaterOrEqual(t, res.ChiSquare, 0.0)
	assert.Equal(t, NotConverged, res.Status)
	assert.Equal(t, ReasonMaxIterations, res.Reason)
}

// Once the halvings are used up the step is taken even though it raises both
// S and the constraint violation, and iterating goes on from there.
func TestFitAcceptsWorseStepAfterHalvings(t *testing.T) {
	run := func(iterations int) *Result {
		f, _ := leptonicTop(t, MassBreitWigner)
		f.cfg = DefaultConfig()
		f.cfg.MaxStepHalvings = 0
		f.cfg.MaxIterations = iterations
		res, err := f.Fit()
		require.NoError(t, err)
		return res
	}

	before, after := run(2), run(3)
	assert.Greater(t, after.S, before.S)
	assert.Greater(t, after.MaxViolation, before.MaxViolation)
	assert.Equal(t, 3, after.Iterations)
	assert.Equal(t, NotConverged, after.Status)
	assert.Equal(t, ReasonMaxIterations, after.Reason)

	f, _ := leptonicTop(t, MassBreitWigner)
	f.cfg.MaxStepHalvings = 0
	res, err := f.Fit()
	require.NoError(t, err)
	assert.Greater(t, res.Iterations, 3)
	assert.NotEqual(t, ReasonNonFinite, res.Reason)
}

func TestResultProbability(t *testing.T) {
	assert.Zero(t, (&Result{NDF: 0, ChiSquare: 1}).Probability())
	assert.InDelta(t, math.Exp(-1), (&Result{NDF: 2, ChiSquare: 2}).Probability(), 1e-12)
	assert.InDelta(t, 1, (&Result{NDF: 3}).Probability(), 1e-12)

	_, ok := (&Result{}).Particle("missing")
	assert.False(t, ok)
	_, ok = (&Result{}).Constraint("missing")
	assert.False(t, ok)
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "Reason(17)", Reason(17).String())
}

func TestFitLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultConfig()
	cfg.Logger = zap.New(core)

	e1, e2 := zPair(t)
	f := NewFitter(cfg)
	f.AddMeasured(e1, e2)
	f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
	_, err := f.Fit()
	require.NoError(t, err)
	assert.Zero(t, logs.Len(), "silent at verbosity 0")

	cfg.Verbosity = 2
	f = NewFitter(cfg)
	e1, e2 = zPair(t)
	f.AddMeasured(e1, e2)
	f.AddConstraint(NewMassConstraint("Z", MassExact, zMass, 0).AddParticles1(e1, e2))
	res, err := f.Fit()
	require.NoError(t, err)

	assert.Equal(t, res.Iterations, logs.FilterMessage("kinematic fit iteration").Len())
	done := logs.FilterMessage("kinematic fit finished").All()
	require.Len(t, done, 1)
	assert.Equal(t, "converged", done[0].ContextMap()["status"])
	assert.Equal(t, int64(1), done[0].ContextMap()["ndf"])
}
