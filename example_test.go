package kinfit_test

import (
	"fmt"
	"log"

	"github.com/decibelcooper/kinfit"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func ExampleFitter() {
	cov := mat.NewSymDense(3, []float64{
		4, 0, 0,
		0, 1e-4, 0,
		0, 0, 1e-4,
	})
	e1, err := kinfit.NewParticle("e1", kinfit.PtEtaPhi, r3.Vec{X: 42, Y: 13, Z: 8}, 0.000511, cov)
	if err != nil {
		log.Fatal(err)
	}
	e2, err := kinfit.NewParticle("e2", kinfit.PtEtaPhi, r3.Vec{X: -40, Y: -10, Z: -15}, 0.000511, cov)
	if err != nil {
		log.Fatal(err)
	}

	mz := kinfit.NewMassConstraint("Z", kinfit.MassExact, 91.1876, 0).AddParticles1(e1, e2)

	f := kinfit.NewFitter(kinfit.DefaultConfig())
	f.AddMeasured(e1, e2)
	f.AddConstraint(mz)
	res, err := f.Fit()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%v ndf=%d mass=%.2f\n", res.Status, res.NDF, mz.Mass(false))
	// Output:
	// converged ndf=1 mass=91.19
}
