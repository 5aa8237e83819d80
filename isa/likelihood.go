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

	"github.com/subspace-io/isa/linalg"
)

// LogLikelihood returns the log-likelihood of every data column in nats. For
// a determined model it is evaluated in closed form through the inverse
// basis; for an overcomplete model it is estimated by annealed importance
// sampling, averaging the per-chain estimates of LogLikelihoodAll.
func (m *Model) LogLikelihood(data *mat.Dense, params Params) ([]float64, error) {
	if !m.overcomplete() {
		rows, _ := data.Dims()
		if rows != m.numVisibles {
			return nil, dimensionErrorf("expect %d data rows, got %d", m.numVisibles, rows)
		}
		return m.exactLogLikelihood(data)
	}
	estimates, err := m.LogLikelihoodAll(data, params)
	if err != nil {
		return nil, err
	}
	chains, n := estimates.Dims()
	loglik := make([]float64, n)
	column := make([]float64, chains)
	for j := 0; j < n; j++ {
		mat.Col(column, j, estimates)
		loglik[j] = floats.LogSumExp(column) - math.Log(float64(chains))
	}
	return loglik, nil
}

// LogLikelihoodAll returns one log-likelihood estimate per importance chain
// and data column, an ais.num_samples×N matrix. Averaging a row block with
// logmeanexp yields a consistent estimate; the spread across rows measures
// the estimator variance. For a determined model the single row is exact.
func (m *Model) LogLikelihoodAll(data *mat.Dense, params Params) (*mat.Dense, error) {
	_, estimates, err := m.SamplePosteriorAIS(data, params)
	if err != nil {
		return nil, err
	}
	return estimates, nil
}

// exactLogLikelihood evaluates the determined-model likelihood
// −E(B⁻¹x) − log|det B| per column.
func (m *Model) exactLogLikelihood(data *mat.Dense) ([]float64, error) {
	states, err := linalg.Solve(m.basis, data)
	if err != nil {
		return nil, numericalErrorf("cannot invert basis: %v", err)
	}
	energy, err := m.PriorEnergy(states)
	if err != nil {
		return nil, err
	}
	logDet, err := linalg.LogDet(m.basis)
	if err != nil {
		return nil, numericalErrorf("basis is singular: %v", err)
	}
	loglik := make([]float64, len(energy))
	for j, e := range energy {
		loglik[j] = -e - logDet
	}
	return loglik, nil
}

// Evaluate returns the average negative log-likelihood of the data in bits
// per visible dimension. Lower is better.
func (m *Model) Evaluate(data *mat.Dense, params Params) (float64, error) {
	loglik, err := m.LogLikelihood(data, params)
	if err != nil {
		return 0, err
	}
	return -mean(loglik) / (float64(m.numVisibles) * math.Ln2), nil
}
