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

func TestNewGSM(t *testing.T) {
	gsm, err := NewGSM(3, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, gsm.Dim)
	assert.Equal(t, 5, gsm.NumScales)
	assert.Len(t, gsm.Scales, 5)
	assert.Len(t, gsm.Priors, 5)
	// scales form a detectably different ladder
	for k := 1; k < gsm.NumScales; k++ {
		assert.Greater(t, gsm.Scales[k], gsm.Scales[k-1])
	}
	total := 0.0
	for _, p := range gsm.Priors {
		total += p
	}
	assert.InDelta(t, 1, total, 1e-12)

	_, err = NewGSM(0, 5)
	assert.ErrorAs(t, err, new(*ConfigurationError))
	_, err = NewGSM(3, 0)
	assert.ErrorAs(t, err, new(*ConfigurationError))
}

func TestGSM_EnergyUnitGaussian(t *testing.T) {
	// a single unit scale makes the mixture a standard Gaussian
	gsm, err := NewGSM(2, 1)
	require.NoError(t, err)
	gsm.Scales[0] = 1
	gsm.Priors[0] = 1
	states := mat.NewDense(2, 2, []float64{
		0, 1,
		0, 2,
	})
	energy, err := gsm.Energy(states)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2*math.Pi), energy[0], 1e-6)
	assert.InDelta(t, math.Log(2*math.Pi)+2.5, energy[1], 1e-6)
}

func TestGSM_EnergyGradientNumerical(t *testing.T) {
	gsm, err := NewGSM(3, 4)
	require.NoError(t, err)
	rng := newTestRNG(11)
	states := mat.NewDense(3, 50, rng.NormalVector(150, 0, 1))
	gradient, err := gsm.EnergyGradient(states)
	require.NoError(t, err)

	const h = 1e-6
	perturbed := mat.DenseCopyOf(states)
	for i := 0; i < 3; i++ {
		for j := 0; j < 50; j++ {
			v := states.At(i, j)
			perturbed.Set(i, j, v+h)
			upper, err := gsm.Energy(perturbed)
			require.NoError(t, err)
			perturbed.Set(i, j, v-h)
			lower, err := gsm.Energy(perturbed)
			require.NoError(t, err)
			perturbed.Set(i, j, v)
			numerical := (upper[j] - lower[j]) / (2 * h)
			scale := math.Max(math.Abs(numerical), 1)
			assert.InDelta(t, numerical, gradient.At(i, j), 1e-3*scale)
		}
	}
}

func TestGSM_SampleVariance(t *testing.T) {
	gsm, err := NewGSM(1, 3)
	require.NoError(t, err)
	gsm.Scales = []float64{1, 2, 3}
	gsm.Priors = []float64{0.5, 0.25, 0.25}
	rng := newTestRNG(7)
	samples := gsm.Sample(200000, rng)
	// mixture variance is Σ π_k σ_k²
	expected := 0.5*1 + 0.25*4 + 0.25*9
	variance := 0.0
	_, n := samples.Dims()
	for j := 0; j < n; j++ {
		v := samples.At(0, j)
		variance += v * v
	}
	variance /= float64(n)
	assert.InDelta(t, expected, variance, 0.1)
}

func TestGSM_FitRecoversScales(t *testing.T) {
	truth, err := NewGSM(2, 2)
	require.NoError(t, err)
	truth.Scales = []float64{0.5, 3}
	truth.Priors = []float64{0.7, 0.3}
	rng := newTestRNG(3)
	states := truth.Sample(50000, rng)

	fitted, err := NewGSM(2, 2)
	require.NoError(t, err)
	require.NoError(t, fitted.Fit(states, 100, 1e-10))
	// order-insensitive comparison
	scales := append([]float64(nil), fitted.Scales...)
	priors := append([]float64(nil), fitted.Priors...)
	if scales[0] > scales[1] {
		scales[0], scales[1] = scales[1], scales[0]
		priors[0], priors[1] = priors[1], priors[0]
	}
	assert.InDelta(t, 0.5, scales[0], 0.05)
	assert.InDelta(t, 3, scales[1], 0.2)
	assert.InDelta(t, 0.7, priors[0], 0.05)
	assert.InDelta(t, 0.3, priors[1], 0.05)
}

func TestGSM_FitImprovesLogLikelihood(t *testing.T) {
	rng := newTestRNG(17)
	states := mat.NewDense(1, 10000, rng.LaplaceVector(10000, 1/math.Sqrt2))
	gsm, err := NewGSM(1, 6)
	require.NoError(t, err)
	before, err := gsm.LogLikelihood(states)
	require.NoError(t, err)
	require.NoError(t, gsm.Fit(states, 50, 1e-10))
	after, err := gsm.LogLikelihood(states)
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestGSM_SampleScalesPosterior(t *testing.T) {
	gsm, err := NewGSM(1, 2)
	require.NoError(t, err)
	gsm.Scales = []float64{0.1, 10}
	gsm.Priors = []float64{0.5, 0.5}
	rng := newTestRNG(5)
	// tiny states come from the small scale, huge ones from the large
	states := mat.NewDense(1, 2, []float64{0.01, 30})
	small, large := 0, 0
	for trial := 0; trial < 100; trial++ {
		scales, err := gsm.SampleScales(states, rng)
		require.NoError(t, err)
		if scales[0] == 0.1 {
			small++
		}
		if scales[1] == 10 {
			large++
		}
	}
	assert.Greater(t, small, 95)
	assert.Greater(t, large, 95)
}

func TestGSM_DimensionMismatch(t *testing.T) {
	gsm, err := NewGSM(2, 3)
	require.NoError(t, err)
	states := mat.NewDense(3, 4, nil)
	_, err = gsm.Energy(states)
	assert.ErrorAs(t, err, new(*DimensionMismatchError))
	_, err = gsm.EnergyGradient(states)
	assert.ErrorAs(t, err, new(*DimensionMismatchError))
	assert.ErrorAs(t, gsm.Fit(states, 10, 1e-8), new(*DimensionMismatchError))
}

func TestGSM_CloneIndependence(t *testing.T) {
	gsm, err := NewGSM(2, 3)
	require.NoError(t, err)
	clone := gsm.Clone()
	clone.Scales[0] = 123
	clone.Priors[0] = 456
	assert.NotEqual(t, 123.0, gsm.Scales[0])
	assert.NotEqual(t, 456.0, gsm.Priors[0])
}
