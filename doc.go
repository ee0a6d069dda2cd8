// Package kinfit implements constrained kinematic fitting of particle
// 4-momenta.
//
// Measured particles are described in a (pT, eta, phi) or (pT, theta, phi)
// chart with a covariance matrix. Mass, momentum and |eta| constraints tie
// them together, optionally smeared by a Gaussian or Breit-Wigner law. A
// Fitter minimises the chi-square subject to the constraints with Lagrange
// multipliers, iterating linearised solutions, and reports the fitted
// momenta, pulls, covariances, chi-square and the number of degrees of
// freedom.
//
// A typical W boson fit reads:
//
//	lep, _ := kinfit.NewParticle("e", kinfit.PtEtaPhi, pe, 0.000511, covE)
//	nu, _ := kinfit.NewParticle("nu", kinfit.PtThetaPhi, pnu, 0, covNu)
//	nu.SetUnmeasured(1)
//
//	mw := kinfit.NewMassConstraint("W", kinfit.MassExact, 80.4, 0).
//		AddParticles1(lep, nu)
//
//	f := kinfit.NewFitter(kinfit.DefaultConfig())
//	f.AddMeasured(lep, nu)
//	f.AddConstraint(mw)
//	res, err := f.Fit()
package kinfit
