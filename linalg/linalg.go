// Copyright 2025 isa Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linalg collects the dense linear algebra used by overcomplete
// models: row orthogonalization, null space bases, matrix square roots and
// covariance whitening. Everything is built on gonum; no kernels are
// hand-rolled here.
package linalg

import (
	stderrors "errors"
	"math"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// rank tolerance for eigenvalue-based decompositions
const eigTol = 1e-12

// Solve solves a·x = b, tolerating ill-conditioned but non-singular systems.
func Solve(a, b mat.Matrix) (*mat.Dense, error) {
	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		var cond mat.Condition
		if !stderrors.As(err, &cond) {
			return nil, errors.Trace(err)
		}
	}
	return &x, nil
}

// LogDet returns log|det a| for a square matrix.
func LogDet(a mat.Matrix) (float64, error) {
	var lu mat.LU
	lu.Factorize(a)
	logDet, _ := lu.LogDet()
	if math.IsInf(logDet, -1) || math.IsNaN(logDet) {
		return 0, errors.New("matrix is singular")
	}
	return logDet, nil
}

// Gram returns a·aᵀ as a symmetric matrix.
func Gram(a mat.Matrix) *mat.SymDense {
	r, _ := a.Dims()
	var g mat.Dense
	g.Mul(a, a.T())
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, g.At(i, j))
		}
	}
	return sym
}

// eigPow returns V·diag(f(λ))·Vᵀ for a symmetric positive semi-definite
// matrix, skipping eigenvalues below the rank tolerance.
func eigPow(a *mat.SymDense, f func(float64) float64) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, errors.New("symmetric eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := len(vals)
	result := mat.NewDense(n, n, nil)
	col := make([]float64, n)
	rank := 0
	for k := 0; k < n; k++ {
		if vals[k] < eigTol {
			continue
		}
		rank++
		fv := f(vals[k])
		mat.Col(col, k, &vecs)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				result.Set(i, j, result.At(i, j)+fv*col[i]*col[j])
			}
		}
	}
	if rank == 0 {
		return nil, errors.New("matrix has no positive eigenvalues")
	}
	return result, nil
}

// SqrtPSD computes the symmetric square root of a positive semi-definite
// matrix.
func SqrtPSD(a *mat.SymDense) (*mat.Dense, error) {
	return eigPow(a, math.Sqrt)
}

// InvSqrtPSD computes the inverse symmetric square root of a positive
// semi-definite matrix, eliminating directions with vanishing eigenvalues.
func InvSqrtPSD(a *mat.SymDense) (*mat.Dense, error) {
	return eigPow(a, func(v float64) float64 { return 1 / math.Sqrt(v) })
}

// Orthonormalize replaces b with the nearest matrix having orthonormal rows,
// b ← (b·bᵀ)^(-1/2)·b. The row space is preserved.
func Orthonormalize(b *mat.Dense) error {
	invSqrt, err := InvSqrtPSD(Gram(b))
	if err != nil {
		return errors.Trace(err)
	}
	var result mat.Dense
	result.Mul(invSqrt, b)
	b.Copy(&result)
	return nil
}

// NullspaceBasis returns an orthonormal basis of the orthogonal complement
// of the row space of b. For a full-rank r×c matrix with r < c the result
// has c−r rows. Computed from the eigenvectors of the null space projector
// I − bᵀ(b·bᵀ)⁻¹b.
func NullspaceBasis(b *mat.Dense) (*mat.Dense, error) {
	rows, cols := b.Dims()
	if rows >= cols {
		return nil, errors.New("matrix has no null space")
	}
	// projector onto the orthogonal complement of the row space
	pinv, err := PseudoInverse(b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var proj mat.Dense
	proj.Mul(pinv, b)
	projector := mat.NewSymDense(cols, nil)
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			v := -0.5 * (proj.At(i, j) + proj.At(j, i))
			if i == j {
				v++
			}
			projector.SetSym(i, j, v)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(projector, true) {
		return nil, errors.New("symmetric eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	basis := mat.NewDense(cols-rows, cols, nil)
	row := 0
	col := make([]float64, cols)
	for k := 0; k < cols; k++ {
		if vals[k] > 0.5 {
			if row >= cols-rows {
				return nil, errors.New("matrix is rank deficient")
			}
			mat.Col(col, k, &vecs)
			basis.SetRow(row, col)
			row++
		}
	}
	if row != cols-rows {
		return nil, errors.New("matrix is rank deficient")
	}
	return basis, nil
}

// PseudoInverse computes bᵀ(b·bᵀ)⁻¹ for a full row rank matrix.
func PseudoInverse(b *mat.Dense) (*mat.Dense, error) {
	var gramInv mat.Dense
	if err := gramInv.Inverse(Gram(b)); err != nil {
		var cond mat.Condition
		if !stderrors.As(err, &cond) {
			return nil, errors.Trace(err)
		}
	}
	var pinv mat.Dense
	pinv.Mul(b.T(), &gramInv)
	return &pinv, nil
}

// Covariance estimates the covariance matrix of data whose columns are
// observations and rows are variables.
func Covariance(data *mat.Dense) *mat.SymDense {
	_, n := data.Dims()
	rows, _ := data.Dims()
	cov := mat.NewSymDense(rows, nil)
	if n < 2 {
		return cov
	}
	stat.CovarianceMatrix(cov, data.T(), nil)
	return cov
}
