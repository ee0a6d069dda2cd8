package kinfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// invertSPD inverts a symmetric positive definite matrix through its
// Cholesky factor. ok is false when the factorisation fails or the
// condition number exceeds maxCond.
func invertSPD(a *mat.SymDense, maxCond float64) (inv *mat.SymDense, ok bool) {
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, false
	}
	if c := chol.Cond(); math.IsNaN(c) || c > maxCond {
		return nil, false
	}
	inv = mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}
	return inv, true
}

// symmetrize averages a square matrix with its transpose, removing the
// rounding asymmetry of products like B V B^T.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func finiteDense(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !finite(m.At(i, j)) {
				return false
			}
		}
	}
	return true
}

// maxAbs returns the infinity norm of v, or NaN if any entry is NaN.
func maxAbs(v mat.Vector) float64 {
	var max float64
	for i := 0; i < v.Len(); i++ {
		x := math.Abs(v.AtVec(i))
		if math.IsNaN(x) {
			return x
		}
		if x > max {
			max = x
		}
	}
	return max
}
