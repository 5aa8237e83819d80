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

package isa

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNew(t *testing.T) {
	m, err := New(3, WithNumHiddens(7), WithSubspaceSize(2), WithSeed(42))
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumVisibles())
	assert.Equal(t, 7, m.NumHiddens())
	// 7 hidden units in subspaces of 2 leave a trailing singleton
	dims := make([]int, 0)
	for _, gsm := range m.Subspaces() {
		dims = append(dims, gsm.Dim)
	}
	assert.Equal(t, []int{2, 2, 2, 1}, dims)

	_, err = New(0)
	assert.ErrorAs(t, err, new(*ConfigurationError))
	_, err = New(3, WithNumHiddens(2))
	assert.ErrorAs(t, err, new(*ConfigurationError))
	_, err = New(3, WithSubspaceSize(0))
	assert.ErrorAs(t, err, new(*ConfigurationError))
	_, err = New(3, WithSubspaceSize(4))
	assert.ErrorAs(t, err, new(*ConfigurationError))
}

func TestModel_SubspacesNoAliasing(t *testing.T) {
	m, err := New(2, WithNumHiddens(4), WithSeed(0))
	require.NoError(t, err)
	first := m.Subspaces()
	first[0].Scales[0] = 1e9
	second := m.Subspaces()
	assert.NotEqual(t, 1e9, second[0].Scales[0])
	// two calls never return the same storage
	assert.NotSame(t, first[1], second[1])
}

func TestModel_SetSubspaces(t *testing.T) {
	m, err := New(2, WithNumHiddens(4), WithSeed(0))
	require.NoError(t, err)
	a, err := NewGSM(3, 5)
	require.NoError(t, err)
	b, err := NewGSM(1, 5)
	require.NoError(t, err)
	require.NoError(t, m.SetSubspaces([]*GSM{a, b}))
	dims := make([]int, 0)
	for _, gsm := range m.Subspaces() {
		dims = append(dims, gsm.Dim)
	}
	assert.Equal(t, []int{3, 1}, dims)
	// dimensions must sum to the number of hidden units
	assert.ErrorAs(t, m.SetSubspaces([]*GSM{a}), new(*ConfigurationError))
}

func TestModel_SetBasis(t *testing.T) {
	m, err := New(2, WithNumHiddens(4), WithSeed(0))
	require.NoError(t, err)
	basis := mat.NewDense(2, 4, newTestRNG(1).NormalVector(8, 0, 1))
	require.NoError(t, m.SetBasis(basis))
	assert.InDelta(t, 0, maxAbsEntry(subDense(m.Basis(), basis)), 1e-15)
	// returned basis is a copy
	returned := m.Basis()
	returned.Set(0, 0, 1e9)
	assert.NotEqual(t, 1e9, m.Basis().At(0, 0))
	assert.ErrorAs(t, m.SetBasis(mat.NewDense(3, 4, nil)), new(*DimensionMismatchError))
}

func TestModel_NullspaceBasis(t *testing.T) {
	m, err := New(3, WithNumHiddens(7), WithSeed(5))
	require.NoError(t, err)
	nullspace, err := m.NullspaceBasis()
	require.NoError(t, err)
	rows, cols := nullspace.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 7, cols)
	// orthogonal to the basis rows
	var cross mat.Dense
	cross.Mul(m.Basis(), nullspace.T())
	assert.Less(t, maxAbsEntry(&cross), 1e-10)
	// mutually orthonormal
	var gram mat.Dense
	gram.Mul(nullspace, nullspace.T())
	eye := identityDense(rows)
	assert.Less(t, maxAbsEntry(subDense(&gram, eye)), 1e-10)

	determined, err := New(3, WithSeed(5))
	require.NoError(t, err)
	_, err = determined.NullspaceBasis()
	assert.ErrorAs(t, err, new(*ConfigurationError))
}

func TestModel_Orthogonalize(t *testing.T) {
	m, err := New(3, WithNumHiddens(6), WithSeed(9))
	require.NoError(t, err)
	require.NoError(t, m.Orthogonalize())
	var gram mat.Dense
	basis := m.Basis()
	gram.Mul(basis, basis.T())
	assert.Less(t, maxAbsEntry(subDense(&gram, identityDense(3))), 1e-10)
}

func TestModel_InitializeOrthonormal(t *testing.T) {
	m, err := New(4, WithNumHiddens(8), WithSeed(2))
	require.NoError(t, err)
	// whitened data keeps the colored basis row-orthonormal
	rng := newTestRNG(2)
	whitened := mat.NewDense(4, 100000, rng.NormalVector(400000, 0, 1))
	require.NoError(t, m.Initialize(whitened))
	basis := m.Basis()
	var gram mat.Dense
	gram.Mul(basis, basis.T())
	deviation := 0.0
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			expected := 0.0
			if r == c {
				expected = 1
			}
			d := gram.At(r, c) - expected
			deviation += d * d
		}
	}
	assert.Less(t, deviation, 1e-3)
}

func TestModel_InitializeKeepsBasisWithoutData(t *testing.T) {
	m, err := New(2, WithNumHiddens(4), WithSeed(30))
	require.NoError(t, err)
	before := m.Basis()
	require.NoError(t, m.Initialize(nil))
	assert.InDelta(t, 0, maxAbsEntry(subDense(m.Basis(), before)), 1e-15)
}

func TestModel_InitializePriorMarginalsLaplace(t *testing.T) {
	m, err := New(2, WithNumHiddens(4), WithSeed(31))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(nil))
	prior := m.SamplePrior(5000)
	pValue := ksTestOneSample(flatten(prior), laplaceCDF(1/math.Sqrt2))
	assert.Greater(t, pValue, 1e-4)
}

func TestModel_InitializeColoredByData(t *testing.T) {
	// data with anisotropic covariance diag(1, 16)
	rng := newTestRNG(13)
	n := 20000
	data := mat.NewDense(2, n, nil)
	for j := 0; j < n; j++ {
		data.Set(0, j, rng.NormFloat64())
		data.Set(1, j, 4*rng.NormFloat64())
	}
	m, err := New(2, WithNumHiddens(4), WithSeed(13))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(data))
	// basis·basisᵀ approximates the data covariance
	basis := m.Basis()
	var gram mat.Dense
	gram.Mul(basis, basis.T())
	assert.InDelta(t, 1, gram.At(0, 0), 0.2)
	assert.InDelta(t, 16, gram.At(1, 1), 1.0)
	assert.InDelta(t, 0, gram.At(0, 1), 0.5)

	mismatched := mat.NewDense(3, 10, nil)
	assert.ErrorAs(t, m.Initialize(mismatched), new(*DimensionMismatchError))
}

func TestModel_PriorEnergyGradientNumerical(t *testing.T) {
	m, err := New(2, WithNumHiddens(5), WithSubspaceSize(2), WithSeed(21))
	require.NoError(t, err)
	rng := newTestRNG(22)
	states := mat.NewDense(5, 20, rng.NormalVector(100, 0, 1))
	gradient, err := m.PriorEnergyGradient(states)
	require.NoError(t, err)

	const h = 1e-6
	perturbed := mat.DenseCopyOf(states)
	for i := 0; i < 5; i++ {
		for j := 0; j < 20; j++ {
			v := states.At(i, j)
			perturbed.Set(i, j, v+h)
			upper, err := m.PriorEnergy(perturbed)
			require.NoError(t, err)
			perturbed.Set(i, j, v-h)
			lower, err := m.PriorEnergy(perturbed)
			require.NoError(t, err)
			perturbed.Set(i, j, v)
			numerical := (upper[j] - lower[j]) / (2 * h)
			scale := math.Max(math.Abs(numerical), 1)
			assert.InDelta(t, numerical, gradient.At(i, j), 1e-3*scale)
		}
	}
}

func identityDense(n int) *mat.Dense {
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return eye
}

func subDense(a, b mat.Matrix) *mat.Dense {
	var diff mat.Dense
	diff.Sub(a, b)
	return &diff
}
