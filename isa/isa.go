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

// Package isa implements overcomplete independent subspace analysis: a
// generative model explaining observed data as a linear mixture of
// statistically independent latent subspaces, each with a Gaussian scale
// mixture prior. The package covers basis and prior training, posterior
// inference by Gibbs sampling, annealed importance sampling for likelihoods
// of overcomplete models, matching pursuit encoding and subspace merging.
package isa

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base"
	"github.com/subspace-io/isa/linalg"
)

// DefaultNumScales is the number of mixture components of a fresh subspace
// prior.
const DefaultNumScales = 10

const initFitSamples = 10000

// Model is an independent subspace analysis model. The basis maps hidden
// states to observations; the model is overcomplete when there are more
// hidden than visible units. A Model must not be shared between goroutines
// without external synchronization.
type Model struct {
	numVisibles int
	numHiddens  int
	subspaces   []*GSM
	basis       *mat.Dense // numVisibles×numHiddens
	states      *mat.Dense // cached hidden states, may be nil
	rng         base.RandomGenerator
}

type modelConfig struct {
	numHiddens   int
	subspaceSize int
	numScales    int
	seed         int64
}

// Option configures a new model.
type Option func(*modelConfig)

// WithNumHiddens sets the number of hidden units. Defaults to the number of
// visible units.
func WithNumHiddens(numHiddens int) Option {
	return func(c *modelConfig) { c.numHiddens = numHiddens }
}

// WithSubspaceSize sets the dimensionality of the subspaces. Defaults to 1.
func WithSubspaceSize(size int) Option {
	return func(c *modelConfig) { c.subspaceSize = size }
}

// WithNumScales sets the number of scales of every subspace prior.
func WithNumScales(numScales int) Option {
	return func(c *modelConfig) { c.numScales = numScales }
}

// WithSeed seeds the model's random generator for reproducible runs.
func WithSeed(seed int64) Option {
	return func(c *modelConfig) { c.seed = seed }
}

// New creates a model with a random basis and geometric-ladder subspace
// priors. Hidden units are partitioned into consecutive subspaces of the
// configured size; a remainder forms a smaller trailing subspace.
func New(numVisibles int, options ...Option) (*Model, error) {
	config := modelConfig{
		numHiddens:   numVisibles,
		subspaceSize: 1,
		numScales:    DefaultNumScales,
		seed:         0,
	}
	for _, option := range options {
		option(&config)
	}
	if numVisibles < 1 {
		return nil, configErrorf("number of visible units must be positive, got %d", numVisibles)
	}
	if config.numHiddens < numVisibles {
		return nil, configErrorf("number of hidden units (%d) must not be smaller than number of visible units (%d)",
			config.numHiddens, numVisibles)
	}
	if config.subspaceSize < 1 || config.subspaceSize > config.numHiddens {
		return nil, configErrorf("subspace size must be in [1, %d], got %d", config.numHiddens, config.subspaceSize)
	}
	m := &Model{
		numVisibles: numVisibles,
		numHiddens:  config.numHiddens,
		rng:         base.NewRandomGenerator(config.seed),
	}
	for remaining := config.numHiddens; remaining > 0; remaining -= config.subspaceSize {
		dim := min(config.subspaceSize, remaining)
		gsm, err := NewGSM(dim, config.numScales)
		if err != nil {
			return nil, err
		}
		m.subspaces = append(m.subspaces, gsm)
	}
	m.basis = mat.NewDense(numVisibles, config.numHiddens,
		m.rng.NormalVector(numVisibles*config.numHiddens, 0, 1))
	return m, nil
}

// NumVisibles returns the number of visible units.
func (m *Model) NumVisibles() int {
	return m.numVisibles
}

// NumHiddens returns the number of hidden units.
func (m *Model) NumHiddens() int {
	return m.numHiddens
}

func (m *Model) overcomplete() bool {
	return m.numHiddens > m.numVisibles
}

// Basis returns a copy of the mixing matrix.
func (m *Model) Basis() *mat.Dense {
	return mat.DenseCopyOf(m.basis)
}

// SetBasis replaces the mixing matrix.
func (m *Model) SetBasis(basis *mat.Dense) error {
	rows, cols := basis.Dims()
	if rows != m.numVisibles || cols != m.numHiddens {
		return dimensionErrorf("expect %d×%d basis, got %d×%d", m.numVisibles, m.numHiddens, rows, cols)
	}
	m.basis = mat.DenseCopyOf(basis)
	return nil
}

// HiddenStates returns a copy of the cached hidden states, or nil if none
// are cached.
func (m *Model) HiddenStates() *mat.Dense {
	if m.states == nil {
		return nil
	}
	return mat.DenseCopyOf(m.states)
}

// SetHiddenStates caches hidden states. The cache is never invalidated
// implicitly; refreshing it after training is the caller's responsibility.
func (m *Model) SetHiddenStates(states *mat.Dense) error {
	rows, _ := states.Dims()
	if rows != m.numHiddens {
		return dimensionErrorf("expect %d state rows, got %d", m.numHiddens, rows)
	}
	m.states = mat.DenseCopyOf(states)
	return nil
}

// Subspaces returns deep copies of the subspace priors, ordered as they
// partition the hidden units. The returned values never alias internal
// storage.
func (m *Model) Subspaces() []*GSM {
	subspaces := make([]*GSM, len(m.subspaces))
	for i, gsm := range m.subspaces {
		subspaces[i] = gsm.Clone()
	}
	return subspaces
}

// SetSubspaces atomically replaces all subspace priors. The subspace
// dimensions must sum to the number of hidden units.
func (m *Model) SetSubspaces(subspaces []*GSM) error {
	total := 0
	for _, gsm := range subspaces {
		if err := gsm.validate(); err != nil {
			return err
		}
		total += gsm.Dim
	}
	if total != m.numHiddens {
		return configErrorf("subspace dimensions sum to %d, expect %d", total, m.numHiddens)
	}
	replacement := make([]*GSM, len(subspaces))
	for i, gsm := range subspaces {
		replacement[i] = gsm.Clone()
	}
	m.subspaces = replacement
	return nil
}

// Orthogonalize replaces the basis with the nearest matrix having
// orthonormal rows.
func (m *Model) Orthogonalize() error {
	if err := linalg.Orthonormalize(m.basis); err != nil {
		return numericalErrorf("cannot orthogonalize basis: %v", err)
	}
	return nil
}

// NullspaceBasis returns an orthonormal basis of the orthogonal complement
// of the row space of the basis. The result has numHiddens−numVisibles rows
// and never aliases internal storage.
func (m *Model) NullspaceBasis() (*mat.Dense, error) {
	if !m.overcomplete() {
		return nil, configErrorf("determined model has no null space")
	}
	nullspace, err := linalg.NullspaceBasis(m.basis)
	if err != nil {
		return nil, numericalErrorf("cannot compute null space basis: %v", err)
	}
	return nullspace, nil
}

// Initialize resets the subspace priors and, when data is given, the basis.
// The new basis is a random row-orthonormal matrix colored by the square
// root of the data covariance, so whitened data yields a basis with
// orthonormal rows. Without data the basis is left untouched. Priors are fit
// to unit-variance Laplace samples so the default prior marginals are
// approximately Laplace.
func (m *Model) Initialize(data *mat.Dense) error {
	if data != nil {
		rows, _ := data.Dims()
		if rows != m.numVisibles {
			return dimensionErrorf("expect %d data rows, got %d", m.numVisibles, rows)
		}
		seed := mat.NewDense(m.numVisibles, m.numHiddens,
			m.rng.NormalVector(m.numVisibles*m.numHiddens, 0, 1))
		if err := linalg.Orthonormalize(seed); err != nil {
			return numericalErrorf("cannot orthogonalize random basis: %v", err)
		}
		sqrtCov, err := linalg.SqrtPSD(linalg.Covariance(data))
		if err != nil {
			return numericalErrorf("degenerate data covariance: %v", err)
		}
		var colored mat.Dense
		colored.Mul(sqrtCov, seed)
		m.basis = &colored
	}
	// fit every prior to Laplace samples of unit variance
	for _, gsm := range m.subspaces {
		samples := mat.NewDense(gsm.Dim, initFitSamples,
			m.rng.LaplaceVector(gsm.Dim*initFitSamples, 1/math.Sqrt2))
		if err := gsm.Fit(samples, 100, 1e-10); err != nil {
			return err
		}
	}
	return nil
}

// PriorEnergy evaluates the joint negative log-density of every column of a
// numHiddens×N state matrix under the subspace priors.
func (m *Model) PriorEnergy(states *mat.Dense) ([]float64, error) {
	rows, n := states.Dims()
	if rows != m.numHiddens {
		return nil, dimensionErrorf("expect %d state rows, got %d", m.numHiddens, rows)
	}
	energy := make([]float64, n)
	offset := 0
	for _, gsm := range m.subspaces {
		slice := states.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense)
		subspaceEnergy, err := gsm.Energy(slice)
		if err != nil {
			return nil, err
		}
		for j := range energy {
			energy[j] += subspaceEnergy[j]
		}
		offset += gsm.Dim
	}
	return energy, nil
}

// PriorEnergyGradient evaluates the gradient of PriorEnergy with respect to
// every state coordinate.
func (m *Model) PriorEnergyGradient(states *mat.Dense) (*mat.Dense, error) {
	rows, n := states.Dims()
	if rows != m.numHiddens {
		return nil, dimensionErrorf("expect %d state rows, got %d", m.numHiddens, rows)
	}
	gradient := mat.NewDense(m.numHiddens, n, nil)
	offset := 0
	for _, gsm := range m.subspaces {
		slice := states.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense)
		subspaceGradient, err := gsm.EnergyGradient(slice)
		if err != nil {
			return nil, err
		}
		gradient.Slice(offset, offset+gsm.Dim, 0, n).(*mat.Dense).Copy(subspaceGradient)
		offset += gsm.Dim
	}
	return gradient, nil
}
