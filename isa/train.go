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

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/subspace-io/isa/base/log"
	"github.com/subspace-io/isa/linalg"
	"go.uber.org/zap"
)

// Train fits the model to data by alternating hidden state inference with
// basis and prior updates. The training method selects how states are
// inferred and how the basis moves: MethodSGD and MethodLBFGS infer exact or
// Gibbs posterior states and optimize the basis by stochastic gradient
// descent with momentum or by L-BFGS; MethodMP encodes states by matching
// pursuit and falls back to the gradient update for the basis.
//
// The callback parameter, when set, is invoked before every iteration and
// once more after the last one, max_iter+1 times in total. Returning false
// cancels training immediately. A failed iteration is logged and skipped,
// never fatal: the model keeps its last stable parameters.
func (m *Model) Train(data *mat.Dense, params Params) error {
	rows, n := data.Dims()
	if rows != m.numVisibles {
		return dimensionErrorf("expect %d data rows, got %d", m.numVisibles, rows)
	}
	if n < 1 {
		return dimensionErrorf("training data is empty")
	}
	if params == nil {
		params = DefaultParameters()
	}
	method := params.GetString(TrainingMethod, MethodSGD)
	switch method {
	case MethodSGD, MethodLBFGS, MethodMP:
	default:
		return configErrorf("unknown training method %q", method)
	}
	maxIter := params.GetInt(MaxIter, 10)
	if maxIter < 0 {
		return configErrorf("number of iterations must not be negative, got %d", maxIter)
	}
	verbosity := params.GetInt(Verbosity, 0)
	trainPrior := params.GetBool(TrainPrior, true)
	trainBasis := params.GetBool(TrainBasis, true)
	mergeSubspaces := params.GetBool(MergeSubspaces, false)
	callback := params.GetCallback(TrainCallback)

	for iteration := 0; ; iteration++ {
		if callback != nil && !callback(iteration, m) {
			if verbosity > 0 {
				log.Logger().Info("training cancelled", zap.Int("iteration", iteration))
			}
			return nil
		}
		if iteration >= maxIter {
			break
		}
		states, err := m.inferStates(data, params, method)
		if err != nil {
			log.Logger().Warn("skip training iteration",
				zap.Int("iteration", iteration), zap.Error(err))
			continue
		}
		if trainBasis {
			if err := m.updateBasis(data, states, params, method); err != nil {
				log.Logger().Warn("skip basis update",
					zap.Int("iteration", iteration), zap.Error(err))
			}
		}
		if trainPrior {
			if err := m.updatePriors(states, params); err != nil {
				log.Logger().Warn("skip prior update",
					zap.Int("iteration", iteration), zap.Error(err))
			}
		}
		if mergeSubspaces {
			if _, err := m.MergeSubspaces(states, params); err != nil {
				log.Logger().Warn("skip subspace merging",
					zap.Int("iteration", iteration), zap.Error(err))
			}
		}
		if verbosity > 0 {
			energy, err := m.PriorEnergy(states)
			if err == nil {
				log.Logger().Info("training iteration",
					zap.Int("iteration", iteration),
					zap.Float64("mean_energy", mean(energy)))
			}
		}
	}
	return nil
}

// inferStates produces the hidden states driving one training iteration.
func (m *Model) inferStates(data *mat.Dense, params Params, method string) (*mat.Dense, error) {
	if method == MethodMP {
		return m.MatchingPursuit(data, params)
	}
	return m.SamplePosterior(data, params)
}

// updateBasis moves the basis towards a lower negative log-likelihood. An
// overcomplete basis is first completed to a square system by stacking the
// null space projection of the states under the data, which reduces the
// update to the determined case while pinning the hidden coordinates the
// states already fix.
func (m *Model) updateBasis(data, states *mat.Dense, params Params, method string) error {
	v, h := m.numVisibles, m.numHiddens
	_, n := data.Dims()
	if !m.overcomplete() {
		updated, err := m.optimizeSquareBasis(m.basis, data, params, method)
		if err != nil {
			return err
		}
		m.basis = updated
		return nil
	}
	nullspace, err := m.NullspaceBasis()
	if err != nil {
		return err
	}
	completedData := mat.NewDense(h, n, nil)
	completedData.Slice(0, v, 0, n).(*mat.Dense).Copy(data)
	completedData.Slice(v, h, 0, n).(*mat.Dense).Mul(nullspace, states)
	completedBasis := mat.NewDense(h, h, nil)
	completedBasis.Slice(0, v, 0, h).(*mat.Dense).Copy(m.basis)
	completedBasis.Slice(v, h, 0, h).(*mat.Dense).Copy(nullspace)
	updated, err := m.optimizeSquareBasis(completedBasis, completedData, params, method)
	if err != nil {
		return err
	}
	m.basis.Copy(updated.Slice(0, v, 0, h))
	return nil
}

func (m *Model) optimizeSquareBasis(basis, data *mat.Dense, params Params, method string) (*mat.Dense, error) {
	if method == MethodLBFGS {
		return m.lbfgsBasis(basis, data, params)
	}
	return m.sgdBasis(basis, data, params)
}

// sgdBasis runs epochs of minibatch gradient descent with momentum on the
// square-system negative log-likelihood.
func (m *Model) sgdBasis(initial, data *mat.Dense, params Params) (*mat.Dense, error) {
	sgd := params.GetParams(SGD)
	numEpochs := sgd.GetInt(MaxIter, 1)
	batchSize := sgd.GetInt(BatchSize, 100)
	stepWidth := sgd.GetFloat64(StepWidth, 0.001)
	momentum := sgd.GetFloat64(Momentum, 0.8)
	h, _ := initial.Dims()
	_, n := data.Dims()
	if batchSize > n {
		batchSize = n
	}
	if batchSize < 1 {
		return nil, configErrorf("batch size must be positive, got %d", batchSize)
	}
	basis := mat.DenseCopyOf(initial)
	velocity := mat.NewDense(h, h, nil)
	batch := mat.NewDense(h, batchSize, nil)
	for epoch := 0; epoch < numEpochs; epoch++ {
		permutation := m.rng.Perm(n)
		for start := 0; start+batchSize <= n; start += batchSize {
			for c := 0; c < batchSize; c++ {
				for r := 0; r < h; r++ {
					batch.Set(r, c, data.At(r, permutation[start+c]))
				}
			}
			gradient, _, err := m.squareBasisGradient(basis, batch)
			if err != nil {
				return nil, err
			}
			gradient.Scale(stepWidth, gradient)
			velocity.Scale(momentum, velocity)
			velocity.Sub(velocity, gradient)
			basis.Add(basis, velocity)
		}
	}
	return basis, nil
}

// lbfgsBasis minimizes the square-system negative log-likelihood with
// L-BFGS. When the optimizer fails, or wanders into a region where the basis
// loses rank, the last stable basis is kept and training continues.
func (m *Model) lbfgsBasis(initial, data *mat.Dense, params Params) (*mat.Dense, error) {
	lbfgs := params.GetParams(LBFGS)
	maxIter := lbfgs.GetInt(MaxIter, 50)
	h, _ := initial.Dims()
	x0 := make([]float64, h*h)
	for r := 0; r < h; r++ {
		for c := 0; c < h; c++ {
			x0[r*h+c] = initial.At(r, c)
		}
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			value, err := m.squareBasisValue(mat.NewDense(h, h, x), data)
			if err != nil {
				return math.Inf(1)
			}
			return value
		},
		Grad: func(grad, x []float64) {
			gradient, _, err := m.squareBasisGradient(mat.NewDense(h, h, x), data)
			if err != nil {
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			for r := 0; r < h; r++ {
				for c := 0; c < h; c++ {
					grad[r*h+c] = gradient.At(r, c)
				}
			}
		},
	}
	initialValue, err := m.squareBasisValue(initial, data)
	if err != nil {
		return nil, err
	}
	settings := &optimize.Settings{MajorIterations: maxIter}
	result, optErr := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if optErr != nil {
		log.Logger().Warn("basis optimization failed", zap.Error(optErr))
	}
	if result == nil || !allFinite(result.X) || math.IsInf(result.F, 1) || result.F > initialValue {
		return mat.DenseCopyOf(initial), nil
	}
	return mat.NewDense(h, h, result.X), nil
}

// squareBasisValue is mean E(B⁻¹x) + log|det B|.
func (m *Model) squareBasisValue(basis, data *mat.Dense) (float64, error) {
	var inverse mat.Dense
	if err := inverse.Inverse(basis); err != nil {
		return 0, numericalErrorf("basis is singular: %v", err)
	}
	var states mat.Dense
	states.Mul(&inverse, data)
	energy, err := m.PriorEnergy(&states)
	if err != nil {
		return 0, err
	}
	logDet, err := linalg.LogDet(basis)
	if err != nil {
		return 0, numericalErrorf("basis is singular: %v", err)
	}
	return mean(energy) + logDet, nil
}

// squareBasisGradient is the gradient of squareBasisValue with respect to
// the basis, B⁻ᵀ(I − (1/n)·G·Sᵀ) with G the prior energy gradient of the
// states S = B⁻¹·data.
func (m *Model) squareBasisGradient(basis, data *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	h, _ := basis.Dims()
	_, n := data.Dims()
	var inverse mat.Dense
	if err := inverse.Inverse(basis); err != nil {
		return nil, nil, numericalErrorf("basis is singular: %v", err)
	}
	states := mat.NewDense(h, n, nil)
	states.Mul(&inverse, data)
	energyGradient, err := m.PriorEnergyGradient(states)
	if err != nil {
		return nil, nil, err
	}
	inner := mat.NewDense(h, h, nil)
	inner.Mul(energyGradient, states.T())
	inner.Scale(-1/float64(n), inner)
	for i := 0; i < h; i++ {
		inner.Set(i, i, inner.At(i, i)+1)
	}
	gradient := mat.NewDense(h, h, nil)
	gradient.Mul(inverse.T(), inner)
	return gradient, states, nil
}

// updatePriors refits every subspace prior to its slice of the states.
func (m *Model) updatePriors(states *mat.Dense, params Params) error {
	group := params.GetParams(GSMEM)
	maxIter := group.GetInt(MaxIter, 10)
	tolerance := group.GetFloat64(Tolerance, 1e-8)
	_, n := states.Dims()
	offset := 0
	for _, gsm := range m.subspaces {
		slice := states.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense)
		if err := gsm.Fit(slice, maxIter, tolerance); err != nil {
			return err
		}
		offset += gsm.Dim
	}
	return nil
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
