package kinfit

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Fitter solves one constrained least-squares problem: it owns the
// particles and constraints of a single candidate hypothesis.
//
// The minimum function is
//
//	S = (y - y0)^T V^-1 (y - y0) + 2 lambda^T f(y, a)
//
// over the measured coordinates y (particle coordinates and auxiliary
// parameters of soft constraints) and unmeasured coordinates a. Each
// iteration linearises f about the current point and solves the resulting
// linear problem for the update and the Lagrange multipliers.
//
// A Fitter is not safe for concurrent use; independent hypotheses get
// independent Fitters.
type Fitter struct {
	cfg Config
	log *zap.Logger

	particles   []*Particle
	constraints []Constraint

	done  bool
	nIter int

	// chi2 evaluates the quadratic part of S; tests replace it.
	chi2 func(l *layout, y *mat.VecDense) float64
}

// NewFitter creates an empty fitter with the given limits.
func NewFitter(cfg Config) *Fitter {
	return &Fitter{cfg: cfg, log: cfg.logger(), chi2: chiSquare}
}

// Config returns the fitter's limits.
func (f *Fitter) Config() Config { return f.cfg }

// AddMeasured adds particles carrying a measurement and its covariance.
func (f *Fitter) AddMeasured(ps ...*Particle) {
	f.particles = append(f.particles, ps...)
}

// AddConstraint adds constraints on particles added to this fitter.
func (f *Fitter) AddConstraint(cs ...Constraint) {
	f.constraints = append(f.constraints, cs...)
}

// Particles returns the particles in insertion order.
func (f *Fitter) Particles() []*Particle { return f.particles }

// Constraints returns the constraints in insertion order.
func (f *Fitter) Constraints() []Constraint { return f.constraints }

// Iterations returns the number of iterations of the last fit.
func (f *Fitter) Iterations() int { return f.nIter }

// Reset restores all particles and auxiliary parameters to their initial
// values so that Fit can run again.
func (f *Fitter) Reset() {
	for _, p := range f.particles {
		if p == nil {
			continue
		}
		p.current = p.initial
		p.pulls = [nParams]float64{}
	}
	for _, c := range f.constraints {
		if c == nil {
			continue
		}
		c.aux().value = 0
	}
	f.nIter = 0
	f.done = false
}

// Fit runs the iteration.
//
// Setup problems are returned as *InvalidInputError before any iteration
// and leave the fitter untouched. Non-convergence is not an error: it is
// reported through Result.Status. A negative chi-square is reported both as
// ReasonNegativeChiSquare and as a *ConsistencyError.
func (f *Fitter) Fit() (*Result, error) {
	if f.done {
		return nil, ErrNotReset
	}
	if err := f.cfg.validate(); err != nil {
		return nil, err
	}
	lay, err := f.setup()
	if err != nil {
		return nil, err
	}
	f.done = true

	res := f.iterate(lay)
	f.finish(lay, res)

	if f.cfg.Verbosity >= 1 {
		f.log.Debug("kinematic fit finished",
			zap.Stringer("status", res.Status),
			zap.Stringer("reason", res.Reason),
			zap.Int("iterations", res.Iterations),
			zap.Float64("chi2", res.ChiSquare),
			zap.Int("ndf", res.NDF),
		)
	}
	if res.Reason == ReasonNegativeChiSquare {
		return res, &ConsistencyError{ChiSquare: res.ChiSquare, Iteration: res.Iterations}
	}
	return res, nil
}

// layout maps particle coordinates and auxiliary parameters onto the
// measured vector y and the unmeasured vector a.
type layout struct {
	index  map[*Particle]int
	yIdx   [][nParams]int // -1 for unmeasured coordinates
	aIdx   [][nParams]int // -1 for measured coordinates
	auxIdx []int          // -1 for hard constraints

	ny, na, nc int

	v    *mat.SymDense
	vinv *mat.SymDense
	y0   *mat.VecDense
}

func (f *Fitter) setup() (*layout, error) {
	l := &layout{
		index:  make(map[*Particle]int, len(f.particles)),
		yIdx:   make([][nParams]int, len(f.particles)),
		aIdx:   make([][nParams]int, len(f.particles)),
		auxIdx: make([]int, len(f.constraints)),
		nc:     len(f.constraints),
	}

	for k, p := range f.particles {
		if p == nil {
			return nil, invalidf("", "nil particle at position %d", k)
		}
		if _, dup := l.index[p]; dup {
			return nil, invalidf(p.Name, "particle added twice")
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		l.index[p] = k
		for i := 0; i < nParams; i++ {
			l.yIdx[k][i], l.aIdx[k][i] = -1, -1
			if p.unmeasured[i] {
				l.aIdx[k][i] = l.na
				l.na++
			} else {
				l.yIdx[k][i] = l.ny
				l.ny++
			}
		}
	}

	for j, c := range f.constraints {
		if c == nil {
			return nil, invalidf("", "nil constraint at position %d", j)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		for _, p := range c.Particles() {
			if _, ok := l.index[p]; !ok {
				return nil, invalidf(c.Name(), "particle %q is not part of the fit", p.Name)
			}
		}
		l.auxIdx[j] = -1
		if c.aux().enabled {
			l.auxIdx[j] = l.ny
			l.ny++
		}
	}

	if l.ny == 0 {
		return nil, invalidf("", "no measured parameters")
	}
	if l.na > l.nc {
		return nil, invalidf("", "%d unmeasured parameters but only %d constraints", l.na, l.nc)
	}

	l.v = mat.NewSymDense(l.ny, nil)
	l.y0 = mat.NewVecDense(l.ny, nil)
	for k, p := range f.particles {
		for i := 0; i < nParams; i++ {
			yi := l.yIdx[k][i]
			if yi < 0 {
				continue
			}
			l.y0.SetVec(yi, p.initial[i])
			for m := i; m < nParams; m++ {
				if ym := l.yIdx[k][m]; ym >= 0 {
					l.v.SetSym(yi, ym, p.cov.At(i, m))
				}
			}
		}
	}
	for _, yi := range l.auxIdx {
		if yi >= 0 {
			l.v.SetSym(yi, yi, 1)
		}
	}

	vinv, ok := invertSPD(l.v, math.Inf(1))
	if !ok {
		return nil, invalidf("", "covariance of the measured parameters is numerically singular")
	}
	l.vinv = vinv
	return l, nil
}

// state reads the current measured and unmeasured vectors.
func (f *Fitter) state(l *layout) (y, a *mat.VecDense) {
	y = mat.NewVecDense(l.ny, nil)
	if l.na > 0 {
		a = mat.NewVecDense(l.na, nil)
	}
	for k, p := range f.particles {
		for i := 0; i < nParams; i++ {
			if yi := l.yIdx[k][i]; yi >= 0 {
				y.SetVec(yi, p.current[i])
			} else {
				a.SetVec(l.aIdx[k][i], p.current[i])
			}
		}
	}
	for j, c := range f.constraints {
		if yi := l.auxIdx[j]; yi >= 0 {
			y.SetVec(yi, c.aux().value)
		}
	}
	return y, a
}

// apply writes y and a back into the particles and constraints.
func (f *Fitter) apply(l *layout, y, a *mat.VecDense) {
	for k, p := range f.particles {
		for i := 0; i < nParams; i++ {
			if yi := l.yIdx[k][i]; yi >= 0 {
				p.current[i] = y.AtVec(yi)
			} else {
				p.current[i] = a.AtVec(l.aIdx[k][i])
			}
		}
	}
	for j, c := range f.constraints {
		if yi := l.auxIdx[j]; yi >= 0 {
			c.aux().value = y.AtVec(yi)
		}
	}
}

func (f *Fitter) values() *mat.VecDense {
	v := mat.NewVecDense(len(f.constraints), nil)
	for j, c := range f.constraints {
		v.SetVec(j, c.Value(false))
	}
	return v
}

// linear is the problem linearised about the current point.
type linear struct {
	b  *mat.Dense    // df/dy, nc x ny
	a  *mat.Dense    // df/da, nc x na, nil without unmeasured coordinates
	f  *mat.VecDense // f at the current point
	vb *mat.SymDense // (B V B^T)^-1
	va *mat.SymDense // (A^T VB A)^-1, nil without unmeasured coordinates
}

// linearize chains each constraint's 4-momentum derivative with the
// particles' chart Jacobians. ok is false when a system is singular.
func (f *Fitter) linearize(l *layout) (lin *linear, ok bool) {
	lin = &linear{
		b: mat.NewDense(l.nc, l.ny, nil),
		f: f.values(),
	}
	if l.na > 0 {
		lin.a = mat.NewDense(l.nc, l.na, nil)
	}

	for j, c := range f.constraints {
		for _, p := range c.Particles() {
			k := l.index[p]
			d := c.Jacobian(p)
			jac := p.chart.jacobian(p.current[:], p.mass)
			for i := 0; i < nParams; i++ {
				var v float64
				for r := 0; r < 4; r++ {
					v += d[r] * jac[r][i]
				}
				if yi := l.yIdx[k][i]; yi >= 0 {
					lin.b.Set(j, yi, lin.b.At(j, yi)+v)
				} else {
					ai := l.aIdx[k][i]
					lin.a.Set(j, ai, lin.a.At(j, ai)+v)
				}
			}
		}
		if yi := l.auxIdx[j]; yi >= 0 {
			lin.b.Set(j, yi, c.AuxJacobian())
		}
	}
	if !finiteDense(lin.b) || (lin.a != nil && !finiteDense(lin.a)) {
		return lin, false
	}

	var bv, w mat.Dense
	bv.Mul(lin.b, l.v)
	w.Mul(&bv, lin.b.T())
	lin.vb, ok = invertSPD(symmetrize(&w), f.cfg.MaxCondition)
	if !ok {
		return lin, false
	}

	if lin.a != nil {
		var at, c mat.Dense
		at.Mul(lin.a.T(), lin.vb)
		c.Mul(&at, lin.a)
		lin.va, ok = invertSPD(symmetrize(&c), f.cfg.MaxCondition)
		if !ok {
			return lin, false
		}
	}
	return lin, true
}

func (f *Fitter) iterate(l *layout) *Result {
	res := &Result{Status: NotConverged, NDF: l.nc - l.na}

	y, a := f.state(l)
	sPrev := f.chi2(l, y)
	res.S, res.ChiSquare = sPrev, sPrev
	if l.nc == 0 {
		res.Status = Converged
		return res
	}
	fPrev := maxAbs(f.values())
	res.MaxViolation = fPrev

	for f.nIter < f.cfg.MaxIterations {
		lin, ok := f.linearize(l)
		if !ok {
			res.Reason = ReasonSingular
			break
		}

		// r = f + B (y0 - y)
		var dy0, r mat.VecDense
		dy0.SubVec(l.y0, y)
		r.MulVec(lin.b, &dy0)
		r.AddVec(&r, lin.f)

		var da *mat.VecDense
		rr := mat.VecDenseCopyOf(&r)
		if lin.a != nil {
			var t, u mat.VecDense
			t.MulVec(lin.vb, &r)
			u.MulVec(lin.a.T(), &t)
			da = mat.NewVecDense(l.na, nil)
			da.MulVec(lin.va, &u)
			da.ScaleVec(-1, da)

			var ada mat.VecDense
			ada.MulVec(lin.a, da)
			rr.AddVec(rr, &ada)
		}

		var lambda, btl, vbtl, yNew mat.VecDense
		lambda.MulVec(lin.vb, rr)
		btl.MulVec(lin.b.T(), &lambda)
		vbtl.MulVec(l.v, &btl)
		yNew.SubVec(l.y0, &vbtl)

		var dy mat.VecDense
		dy.SubVec(&yNew, y)

		step := 1.0
		var (
			yTry, aTry      *mat.VecDense
			chi, sNew, fNew float64
		)
		for h := 0; ; h++ {
			yTry = mat.VecDenseCopyOf(y)
			yTry.AddScaledVec(yTry, step, &dy)
			if a != nil {
				aTry = mat.VecDenseCopyOf(a)
				aTry.AddScaledVec(aTry, step, da)
			}
			f.apply(l, yTry, aTry)

			vals := f.values()
			chi = f.chi2(l, yTry)
			sNew = chi + 2*mat.Dot(&lambda, vals)
			fNew = maxAbs(vals)

			worse := !finite(sNew) || !finite(fNew) || (sNew > sPrev && fNew > fPrev)
			if !worse || h >= f.cfg.MaxStepHalvings {
				break
			}
			step /= 2
		}
		f.nIter++

		if f.cfg.Verbosity >= 2 {
			f.log.Debug("kinematic fit iteration",
				zap.Int("iteration", f.nIter),
				zap.Float64("S", sNew),
				zap.Float64("chi2", chi),
				zap.Float64("maxF", fNew),
				zap.Float64("step", step),
			)
		}

		if !finite(sNew) || !finite(fNew) {
			res.Reason = ReasonNonFinite
			break
		}

		converged := math.Abs(sNew-sPrev) < f.cfg.MaxDeltaS && fNew < f.cfg.MaxConstraintViolation
		y, a = yTry, aTry
		sPrev, fPrev = sNew, fNew
		res.S, res.ChiSquare, res.MaxViolation = sNew, chi, fNew
		if chi < -f.cfg.MaxDeltaS {
			res.Reason = ReasonNegativeChiSquare
			break
		}
		if converged {
			res.Status = Converged
			break
		}
	}
	res.Iterations = f.nIter

	// Restore the last accepted point after a rejected iteration.
	f.apply(l, y, a)

	if res.Status != Converged && res.Reason == ReasonNone {
		res.Reason = ReasonMaxIterations
	}
	f.checkConsistency(res)
	return res
}

// checkConsistency flags a negative chi-square, which a positive definite
// covariance rules out. S itself is not checked: away from a feasible point
// the Lagrange term may take any sign. Values above -MaxDeltaS are treated
// as rounding.
func (f *Fitter) checkConsistency(res *Result) {
	if res.Reason == ReasonNegativeChiSquare || res.ChiSquare < -f.cfg.MaxDeltaS {
		res.Status = NotConverged
		res.Reason = ReasonNegativeChiSquare
	}
}

// finish fills pulls, covariances and per-object results from the final
// point.
func (f *Fitter) finish(l *layout, res *Result) {
	y, _ := f.state(l)

	var (
		d   *mat.Dense // V - V_fit over y
		cya *mat.Dense // cov(y_fit, a_fit)
		va  *mat.SymDense
	)
	if l.nc > 0 {
		if lin, ok := f.linearize(l); ok {
			d, cya = correction(l, lin)
			va = lin.va
		}
	}

	pull := func(yi int) float64 {
		if d == nil {
			return 0
		}
		v := d.At(yi, yi)
		if !(v > 0) {
			return 0
		}
		return (y.AtVec(yi) - l.y0.AtVec(yi)) / math.Sqrt(v)
	}

	res.Particles = make([]FittedParticle, len(f.particles))
	for k, p := range f.particles {
		for i := 0; i < nParams; i++ {
			p.pulls[i] = 0
			if yi := l.yIdx[k][i]; yi >= 0 {
				p.pulls[i] = pull(yi)
			}
		}

		var cov *mat.SymDense
		if d != nil {
			cov = mat.NewSymDense(nParams, nil)
			for i := 0; i < nParams; i++ {
				for m := i; m < nParams; m++ {
					cov.SetSym(i, m, fittedCov(l, k, i, m, d, cya, va))
				}
			}
		}

		unmeas := p.unmeasured
		res.Particles[k] = FittedParticle{
			Name:       p.Name,
			P4:         p.P4(),
			Parameters: p.Parameters(),
			Initial:    p.InitialParameters(),
			Pulls:      p.Pulls(),
			Unmeasured: unmeas[:],
			Covariance: cov,
		}
	}

	res.Constraints = make([]FittedConstraint, len(f.constraints))
	for j, c := range f.constraints {
		fc := FittedConstraint{Name: c.Name(), Value: c.Value(false)}
		if yi := l.auxIdx[j]; yi >= 0 {
			fc.HasAux = true
			fc.Aux = c.aux().value
			fc.AuxPull = pull(yi)
		}
		res.Constraints[j] = fc
	}
}

// correction returns D = V - V_fit over the measured coordinates and the
// covariance between fitted measured and unmeasured coordinates:
//
//	D    = V B^T VB B V - V B^T VB A VA A^T VB B V
//	Cya  = -V B^T VB A VA
func correction(l *layout, lin *linear) (d, cya *mat.Dense) {
	var vbt, g mat.Dense
	vbt.Mul(l.v, lin.b.T())
	g.Mul(&vbt, lin.vb)

	d = new(mat.Dense)
	d.Mul(&g, vbt.T())

	if lin.a != nil {
		var h, hva, d2 mat.Dense
		h.Mul(&g, lin.a)
		hva.Mul(&h, lin.va)
		d2.Mul(&hva, h.T())
		d.Sub(d, &d2)

		cya = new(mat.Dense)
		cya.Scale(-1, &hva)
	}
	return d, cya
}

func fittedCov(l *layout, k, i, m int, d, cya *mat.Dense, va *mat.SymDense) float64 {
	yi, ym := l.yIdx[k][i], l.yIdx[k][m]
	ai, am := l.aIdx[k][i], l.aIdx[k][m]
	switch {
	case yi >= 0 && ym >= 0:
		return l.v.At(yi, ym) - d.At(yi, ym)
	case ai >= 0 && am >= 0:
		return va.At(ai, am)
	case yi >= 0:
		return cya.At(yi, am)
	default:
		return cya.At(ym, ai)
	}
}

func chiSquare(l *layout, y *mat.VecDense) float64 {
	var dy mat.VecDense
	dy.SubVec(y, l.y0)
	return mat.Inner(&dy, l.vinv, &dy)
}
