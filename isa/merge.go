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
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base/log"
	"go.uber.org/zap"
)

// MergeSubspaces greedily merges pairs of subspaces whose joint mixture
// explains the given hidden states better than the two independent priors,
// by at least merge.threshold nats per sample. At most merge.max_merge pairs
// are merged; a pair below the threshold is never revisited. Merging keeps
// subspaces contiguous by permuting hidden units, basis columns and state
// rows together, so basis·states is unchanged. Returns the number of merges
// performed.
func (m *Model) MergeSubspaces(states *mat.Dense, params Params) (int, error) {
	rows, _ := states.Dims()
	if rows != m.numHiddens {
		return 0, dimensionErrorf("expect %d state rows, got %d", m.numHiddens, rows)
	}
	if params == nil {
		params = DefaultParameters()
	}
	group := params.GetParams(Merge)
	maxMerge := group.GetInt(MaxMerge, 10)
	threshold := group.GetFloat64(Threshold, 0.01)
	verbosity := group.GetInt(Verbosity, 0)
	gsmGroup := params.GetParams(GSMEM)
	fitIter := gsmGroup.GetInt(MaxIter, 10)
	tolerance := gsmGroup.GetFloat64(Tolerance, 1e-8)

	rejected := mapset.NewSet[string]()
	merges := 0
	for merges < maxMerge && len(m.subspaces) > 1 {
		offsets := m.subspaceOffsets()
		bestI, bestJ := -1, -1
		bestGain := math.Inf(-1)
		var bestJoint *GSM
		for i := 0; i < len(m.subspaces); i++ {
			for j := i + 1; j < len(m.subspaces); j++ {
				key := pairKey(m.subspaces[i], m.subspaces[j])
				if rejected.Contains(key) {
					continue
				}
				joint, gain, err := m.mergeGain(states, offsets, i, j, fitIter, tolerance)
				if err != nil {
					return merges, err
				}
				if gain < threshold {
					rejected.Add(key)
					continue
				}
				if gain > bestGain {
					bestI, bestJ, bestGain, bestJoint = i, j, gain, joint
				}
			}
		}
		if bestI < 0 {
			break
		}
		m.applyMerge(states, bestI, bestJ, bestJoint)
		merges++
		if verbosity > 0 {
			log.Logger().Info("merged subspaces",
				zap.Int("first", bestI),
				zap.Int("second", bestJ),
				zap.Float64("gain", bestGain))
		}
	}
	if merges > 0 {
		// the permutation changed the hidden unit order
		m.states = nil
	}
	return merges, nil
}

// subspaceOffsets returns the first hidden index of every subspace.
func (m *Model) subspaceOffsets() []int {
	offsets := make([]int, len(m.subspaces))
	offset := 0
	for i, gsm := range m.subspaces {
		offsets[i] = offset
		offset += gsm.Dim
	}
	return offsets
}

func pairKey(a, b *GSM) string {
	return fmt.Sprintf("%p:%p", a, b)
}

// mergeGain fits a joint mixture to the stacked states of subspaces i and j
// and returns it together with the per-sample log-likelihood gain over the
// two separate priors.
func (m *Model) mergeGain(states *mat.Dense, offsets []int, i, j, fitIter int, tolerance float64) (*GSM, float64, error) {
	_, n := states.Dims()
	a, b := m.subspaces[i], m.subspaces[j]
	sliceA := states.Slice(offsets[i], offsets[i]+a.Dim, 0, n).(*mat.Dense)
	sliceB := states.Slice(offsets[j], offsets[j]+b.Dim, 0, n).(*mat.Dense)
	loglikA, err := a.LogLikelihood(sliceA)
	if err != nil {
		return nil, 0, err
	}
	loglikB, err := b.LogLikelihood(sliceB)
	if err != nil {
		return nil, 0, err
	}
	stacked := mat.NewDense(a.Dim+b.Dim, n, nil)
	stacked.Slice(0, a.Dim, 0, n).(*mat.Dense).Copy(sliceA)
	stacked.Slice(a.Dim, a.Dim+b.Dim, 0, n).(*mat.Dense).Copy(sliceB)
	joint, err := NewGSM(a.Dim+b.Dim, max(a.NumScales, b.NumScales))
	if err != nil {
		return nil, 0, err
	}
	if err := joint.Fit(stacked, fitIter, tolerance); err != nil {
		return nil, 0, err
	}
	loglikJoint, err := joint.LogLikelihood(stacked)
	if err != nil {
		return nil, 0, err
	}
	return joint, (loglikJoint - loglikA - loglikB) / float64(n), nil
}

// applyMerge moves subspace j directly behind subspace i, permuting basis
// columns and state rows in lockstep, and replaces the pair with the joint
// prior.
func (m *Model) applyMerge(states *mat.Dense, i, j int, joint *GSM) {
	offsets := m.subspaceOffsets()
	endI := offsets[i] + m.subspaces[i].Dim
	startJ, endJ := offsets[j], offsets[j]+m.subspaces[j].Dim
	order := make([]int, 0, m.numHiddens)
	for k := 0; k < endI; k++ {
		order = append(order, k)
	}
	for k := startJ; k < endJ; k++ {
		order = append(order, k)
	}
	for k := endI; k < startJ; k++ {
		order = append(order, k)
	}
	for k := endJ; k < m.numHiddens; k++ {
		order = append(order, k)
	}
	_, n := states.Dims()
	permutedBasis := mat.NewDense(m.numVisibles, m.numHiddens, nil)
	permutedStates := mat.NewDense(m.numHiddens, n, nil)
	for dst, src := range order {
		for r := 0; r < m.numVisibles; r++ {
			permutedBasis.Set(r, dst, m.basis.At(r, src))
		}
		for c := 0; c < n; c++ {
			permutedStates.Set(dst, c, states.At(src, c))
		}
	}
	m.basis = permutedBasis
	states.Copy(permutedStates)

	subspaces := make([]*GSM, 0, len(m.subspaces)-1)
	for k, gsm := range m.subspaces {
		switch k {
		case i:
			subspaces = append(subspaces, joint)
		case j:
		default:
			subspaces = append(subspaces, gsm)
		}
	}
	m.subspaces = subspaces
}
