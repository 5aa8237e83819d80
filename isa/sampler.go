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
	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base/log"
	"github.com/subspace-io/isa/linalg"
	"go.uber.org/zap"
)

// SamplePrior draws n independent hidden-state samples, subspace by
// subspace, stacked into a numHiddens×n matrix.
func (m *Model) SamplePrior(n int) *mat.Dense {
	samples := mat.NewDense(m.numHiddens, n, nil)
	offset := 0
	for _, gsm := range m.subspaces {
		samples.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense).Copy(gsm.Sample(n, m.rng))
		offset += gsm.Dim
	}
	return samples
}

// Sample draws n observed samples by mapping prior samples through the
// basis.
func (m *Model) Sample(n int) *mat.Dense {
	var observed mat.Dense
	observed.Mul(m.basis, m.SamplePrior(n))
	return &observed
}

// SampleScales draws, for every hidden state column, a posterior sample of
// the mixture scales. All rows of a subspace share one draw per sample. The
// returned numHiddens×N matrix holds the sampled standard deviations.
func (m *Model) SampleScales(states *mat.Dense) (*mat.Dense, error) {
	rows, n := states.Dims()
	if rows != m.numHiddens {
		return nil, dimensionErrorf("expect %d state rows, got %d", m.numHiddens, rows)
	}
	scales := mat.NewDense(m.numHiddens, n, nil)
	offset := 0
	for _, gsm := range m.subspaces {
		slice := states.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense)
		sampled, err := gsm.SampleScales(slice, m.rng)
		if err != nil {
			return nil, err
		}
		for i := 0; i < gsm.Dim; i++ {
			for j := 0; j < n; j++ {
				scales.Set(offset+i, j, sampled[j])
			}
		}
		offset += gsm.Dim
	}
	return scales, nil
}

// priorScaleVariances draws a variance per hidden unit from the mixture
// weights alone, shared within each subspace.
func (m *Model) priorScaleVariances() []float64 {
	variances := make([]float64, m.numHiddens)
	offset := 0
	for _, gsm := range m.subspaces {
		scale := gsm.Scales[m.rng.Categorical(gsm.Priors)]
		for i := 0; i < gsm.Dim; i++ {
			variances[offset+i] = scale * scale
		}
		offset += gsm.Dim
	}
	return variances
}

// SamplePosterior samples hidden states conditioned on the data. For a
// determined model the basis is inverted and the result is deterministic.
// For an overcomplete model a Gibbs chain alternates scale draws with exact
// conditional Gaussian draws on the affine manifold basis·states == data, so
// the reconstruction stays exact at every sweep. The final chain state is
// cached as the model's hidden states and reused as chain seed by later
// calls with matching shape.
func (m *Model) SamplePosterior(data *mat.Dense, params Params) (*mat.Dense, error) {
	rows, n := data.Dims()
	if rows != m.numVisibles {
		return nil, dimensionErrorf("expect %d data rows, got %d", m.numVisibles, rows)
	}
	if params == nil {
		params = DefaultParameters()
	}
	if !m.overcomplete() {
		states, err := linalg.Solve(m.basis, data)
		if err != nil {
			return nil, numericalErrorf("cannot invert basis: %v", err)
		}
		return states, nil
	}
	gibbs := params.GetParams(Gibbs)
	iniIter := gibbs.GetInt(IniIter, 10)
	numIter := gibbs.GetInt(NumIter, 1)
	verbosity := gibbs.GetInt(Verbosity, 0)

	var states *mat.Dense
	if m.states != nil {
		if _, cached := m.states.Dims(); cached == n {
			states = mat.DenseCopyOf(m.states)
		}
	}
	if states == nil {
		// least-norm completion as chain seed
		pinv, err := linalg.PseudoInverse(m.basis)
		if err != nil {
			return nil, numericalErrorf("cannot complete hidden states: %v", err)
		}
		states = mat.NewDense(m.numHiddens, n, nil)
		states.Mul(pinv, data)
	}
	for sweep := 0; sweep < iniIter+numIter; sweep++ {
		scales, err := m.SampleScales(states)
		if err != nil {
			return nil, err
		}
		states, err = m.sampleConditioned(data, scales)
		if err != nil {
			return nil, err
		}
		if verbosity > 0 && (sweep+1)%10 == 0 {
			energy, _ := m.PriorEnergy(states)
			log.Logger().Info("gibbs sweep",
				zap.Int("sweep", sweep+1),
				zap.Float64("mean_energy", mean(energy)))
		}
	}
	m.states = mat.DenseCopyOf(states)
	return states, nil
}

// sampleConditioned draws hidden states from the Gaussian implied by the
// given per-unit scales, conditioned on basis·states == data. With diagonal
// prior covariance D the draw is ν + D·Bᵀ(B·D·Bᵀ)⁻¹(x − B·ν), ν ~ N(0, D),
// which satisfies the constraint exactly.
func (m *Model) sampleConditioned(data, scales *mat.Dense) (*mat.Dense, error) {
	v, n := data.Dims()
	h := m.numHiddens
	states := mat.NewDense(h, n, nil)
	noise := make([]float64, h)
	residual := mat.NewDense(v, 1, nil)
	scaled := mat.NewDense(v, h, nil)
	gram := mat.NewDense(v, v, nil)
	for j := 0; j < n; j++ {
		// scaled = B·D with D the diagonal of per-unit variances
		for i := 0; i < h; i++ {
			variance := scales.At(i, j) * scales.At(i, j)
			noise[i] = scales.At(i, j) * m.rng.NormFloat64()
			for r := 0; r < v; r++ {
				scaled.Set(r, i, m.basis.At(r, i)*variance)
			}
		}
		for r := 0; r < v; r++ {
			acc := data.At(r, j)
			for i := 0; i < h; i++ {
				acc -= m.basis.At(r, i) * noise[i]
			}
			residual.Set(r, 0, acc)
		}
		gram.Mul(scaled, m.basis.T())
		w, err := linalg.Solve(gram, residual)
		if err != nil {
			return nil, numericalErrorf("conditional covariance is singular: %v", err)
		}
		for i := 0; i < h; i++ {
			acc := noise[i]
			for r := 0; r < v; r++ {
				acc += scaled.At(r, i) * w.At(r, 0)
			}
			states.Set(i, j, acc)
		}
	}
	return states, nil
}

func mean(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
