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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func subspaceDims(m *Model) []int {
	dims := make([]int, 0)
	for _, gsm := range m.Subspaces() {
		dims = append(dims, gsm.Dim)
	}
	sort.Ints(dims)
	return dims
}

func TestModel_TrainRecoversSubspaceSizes(t *testing.T) {
	truth, err := New(5, WithSubspaceSize(2), WithSeed(60))
	require.NoError(t, err)
	require.NoError(t, truth.Initialize(nil))
	require.NoError(t, truth.Orthogonalize())

	m, err := New(5, WithSeed(61))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(nil))
	require.NoError(t, m.SetBasis(truth.Basis()))

	data := truth.Sample(10000)
	require.NoError(t, m.Train(data, Params{
		TrainBasis:     false,
		MergeSubspaces: true,
	}))
	assert.Equal(t, subspaceDims(truth), subspaceDims(m))
}

func TestModel_MergeSubspacesKeepsReconstruction(t *testing.T) {
	truth, err := New(4, WithSubspaceSize(2), WithSeed(62))
	require.NoError(t, err)
	require.NoError(t, truth.Initialize(nil))

	m, err := New(4, WithSeed(63))
	require.NoError(t, err)
	require.NoError(t, m.SetBasis(truth.Basis()))
	data := truth.Sample(5000)
	states, err := m.SamplePosterior(data, nil)
	require.NoError(t, err)
	// fit the singleton priors before judging merges
	require.NoError(t, m.updatePriors(states, DefaultParameters()))

	merges, err := m.MergeSubspaces(states, nil)
	require.NoError(t, err)
	assert.Greater(t, merges, 0)
	// permutation of basis columns and state rows cancels out
	var reconstruction mat.Dense
	reconstruction.Mul(m.Basis(), states)
	assert.Less(t, maxAbsEntry(subDense(&reconstruction, data)), 1e-10)
}

func TestModel_MergeSubspacesRespectsMaxMerge(t *testing.T) {
	truth, err := New(6, WithSubspaceSize(2), WithSeed(64))
	require.NoError(t, err)
	require.NoError(t, truth.Initialize(nil))

	m, err := New(6, WithSeed(65))
	require.NoError(t, err)
	require.NoError(t, m.SetBasis(truth.Basis()))
	data := truth.Sample(5000)
	states, err := m.SamplePosterior(data, nil)
	require.NoError(t, err)
	require.NoError(t, m.updatePriors(states, DefaultParameters()))

	merges, err := m.MergeSubspaces(states, Params{Merge: Params{MaxMerge: 1}})
	require.NoError(t, err)
	assert.LessOrEqual(t, merges, 1)
}

func TestModel_MergeSubspacesDimensionMismatch(t *testing.T) {
	m, err := New(3, WithSeed(66))
	require.NoError(t, err)
	_, err = m.MergeSubspaces(mat.NewDense(5, 10, nil), nil)
	assert.ErrorAs(t, err, new(*DimensionMismatchError))
}
