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

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base"
)

const (
	log2Pi = 1.8378770664093453

	// floors keeping EM away from degenerate components
	minVariance = 1e-12
	minWeight   = 1e-8
)

// GSM is a finite Gaussian scale mixture over a Dim-dimensional subspace:
// an isotropic Gaussian whose standard deviation is drawn from a discrete
// set of scales. With more than one scale the marginals are super-Gaussian.
type GSM struct {
	Dim       int
	NumScales int
	Scales    []float64 // component standard deviations
	Priors    []float64 // mixture weights, summing to one
}

// NewGSM creates a GSM with uniform mixture weights and a geometric ladder
// of scales, so components are detectably different from the start.
func NewGSM(dim, numScales int) (*GSM, error) {
	if dim < 1 {
		return nil, configErrorf("subspace dimension must be positive, got %d", dim)
	}
	if numScales < 1 {
		return nil, configErrorf("number of scales must be positive, got %d", numScales)
	}
	gsm := &GSM{
		Dim:       dim,
		NumScales: numScales,
		Scales:    make([]float64, numScales),
		Priors:    make([]float64, numScales),
	}
	for k := 0; k < numScales; k++ {
		gsm.Scales[k] = math.Pow(2, (float64(k)-float64(numScales-1)/2)/2)
		gsm.Priors[k] = 1 / float64(numScales)
	}
	return gsm, nil
}

// Clone returns a deep copy.
func (gsm *GSM) Clone() *GSM {
	clone := &GSM{
		Dim:       gsm.Dim,
		NumScales: gsm.NumScales,
		Scales:    make([]float64, len(gsm.Scales)),
		Priors:    make([]float64, len(gsm.Priors)),
	}
	copy(clone.Scales, gsm.Scales)
	copy(clone.Priors, gsm.Priors)
	return clone
}

func (gsm *GSM) validate() error {
	if len(gsm.Scales) != gsm.NumScales {
		return configErrorf("expect %d scales, got %d", gsm.NumScales, len(gsm.Scales))
	}
	if len(gsm.Priors) != gsm.NumScales {
		return configErrorf("expect %d mixture weights, got %d", gsm.NumScales, len(gsm.Priors))
	}
	for _, s := range gsm.Scales {
		if s <= 0 {
			return configErrorf("scales must be positive, got %g", s)
		}
	}
	var total float64
	for _, p := range gsm.Priors {
		if p < 0 {
			return configErrorf("mixture weights must be non-negative, got %g", p)
		}
		total += p
	}
	if math.Abs(total-1) > 1e-6 {
		return configErrorf("mixture weights must sum to one, got %g", total)
	}
	return nil
}

// logJoint returns the NumScales×N matrix of log p(x_n, k) for every
// component k and sample column x_n, plus the squared norm of every column.
func (gsm *GSM) logJoint(states *mat.Dense) (*mat.Dense, []float64) {
	_, n := states.Dims()
	sqNorms := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < gsm.Dim; i++ {
			v := states.At(i, j)
			sqNorms[j] += v * v
		}
	}
	d := float64(gsm.Dim)
	logj := mat.NewDense(gsm.NumScales, n, nil)
	for k := 0; k < gsm.NumScales; k++ {
		variance := gsm.Scales[k] * gsm.Scales[k]
		offset := math.Log(gsm.Priors[k]+minWeight) - d*math.Log(gsm.Scales[k]) - d/2*log2Pi
		for j := 0; j < n; j++ {
			logj.Set(k, j, offset-sqNorms[j]/(2*variance))
		}
	}
	return logj, sqNorms
}

// Energy returns the negative log-density of every column of a Dim×N state
// matrix, computed with log-sum-exp over the mixture components.
func (gsm *GSM) Energy(states *mat.Dense) ([]float64, error) {
	rows, n := states.Dims()
	if rows != gsm.Dim {
		return nil, dimensionErrorf("expect %d state rows, got %d", gsm.Dim, rows)
	}
	logj, _ := gsm.logJoint(states)
	energy := make([]float64, n)
	col := make([]float64, gsm.NumScales)
	for j := 0; j < n; j++ {
		mat.Col(col, j, logj)
		energy[j] = -floats.LogSumExp(col)
	}
	return energy, nil
}

// EnergyGradient returns the Dim×N matrix of partial derivatives of Energy
// with respect to every state coordinate.
func (gsm *GSM) EnergyGradient(states *mat.Dense) (*mat.Dense, error) {
	rows, n := states.Dims()
	if rows != gsm.Dim {
		return nil, dimensionErrorf("expect %d state rows, got %d", gsm.Dim, rows)
	}
	logj, _ := gsm.logJoint(states)
	grad := mat.NewDense(gsm.Dim, n, nil)
	col := make([]float64, gsm.NumScales)
	for j := 0; j < n; j++ {
		mat.Col(col, j, logj)
		lse := floats.LogSumExp(col)
		// expected precision under the scale posterior
		var precision float64
		for k := 0; k < gsm.NumScales; k++ {
			precision += math.Exp(col[k]-lse) / (gsm.Scales[k] * gsm.Scales[k])
		}
		for i := 0; i < gsm.Dim; i++ {
			grad.Set(i, j, states.At(i, j)*precision)
		}
	}
	return grad, nil
}

// Sample draws n samples: a scale index per sample according to the mixture
// weights, times a standard isotropic Gaussian.
func (gsm *GSM) Sample(n int, rng base.RandomGenerator) *mat.Dense {
	samples := mat.NewDense(gsm.Dim, n, nil)
	for j := 0; j < n; j++ {
		scale := gsm.Scales[rng.Categorical(gsm.Priors)]
		for i := 0; i < gsm.Dim; i++ {
			samples.Set(i, j, scale*rng.NormFloat64())
		}
	}
	return samples
}

// SampleScales draws, for every column of states, a scale from the posterior
// over mixture components given that state. Returned values are the sampled
// standard deviations.
func (gsm *GSM) SampleScales(states *mat.Dense, rng base.RandomGenerator) ([]float64, error) {
	rows, n := states.Dims()
	if rows != gsm.Dim {
		return nil, dimensionErrorf("expect %d state rows, got %d", gsm.Dim, rows)
	}
	logj, _ := gsm.logJoint(states)
	scales := make([]float64, n)
	col := make([]float64, gsm.NumScales)
	post := make([]float64, gsm.NumScales)
	for j := 0; j < n; j++ {
		mat.Col(col, j, logj)
		lse := floats.LogSumExp(col)
		for k := range post {
			post[k] = math.Exp(col[k] - lse)
		}
		scales[j] = gsm.Scales[rng.Categorical(post)]
	}
	return scales, nil
}

// Fit re-estimates scales and mixture weights from states with at most
// maxIter EM updates, stopping early when the average energy improves by
// less than tol.
func (gsm *GSM) Fit(states *mat.Dense, maxIter int, tol float64) error {
	rows, n := states.Dims()
	if rows != gsm.Dim {
		return dimensionErrorf("expect %d state rows, got %d", gsm.Dim, rows)
	}
	if n == 0 {
		return dimensionErrorf("cannot fit mixture to empty state matrix")
	}
	d := float64(gsm.Dim)
	col := make([]float64, gsm.NumScales)
	lastEnergy := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		logj, sqNorms := gsm.logJoint(states)
		// E-step: responsibilities, tracking the mean energy for convergence
		var energy float64
		weightSums := make([]float64, gsm.NumScales)
		weightedNorms := make([]float64, gsm.NumScales)
		for j := 0; j < n; j++ {
			mat.Col(col, j, logj)
			lse := floats.LogSumExp(col)
			energy -= lse
			for k := 0; k < gsm.NumScales; k++ {
				r := math.Exp(col[k] - lse)
				weightSums[k] += r
				weightedNorms[k] += r * sqNorms[j]
			}
		}
		energy /= float64(n)
		// M-step
		var total float64
		for k := 0; k < gsm.NumScales; k++ {
			variance := weightedNorms[k] / (d*weightSums[k] + minWeight)
			gsm.Scales[k] = math.Sqrt(math.Max(variance, minVariance))
			gsm.Priors[k] = math.Max(weightSums[k]/float64(n), minWeight)
			total += gsm.Priors[k]
		}
		floats.Scale(1/total, gsm.Priors)
		if lastEnergy-energy < tol {
			break
		}
		lastEnergy = energy
	}
	return nil
}

// LogLikelihood returns the total log-density of states under the mixture.
func (gsm *GSM) LogLikelihood(states *mat.Dense) (float64, error) {
	energy, err := gsm.Energy(states)
	if err != nil {
		return 0, err
	}
	return -floats.Sum(energy), nil
}
