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
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/common/parallel"
)

// MatchingPursuit greedily encodes every data column with at most
// mp.num_coeff basis columns. Each round picks the column with the largest
// normalized correlation to the residual, assigns it the least-squares
// coefficient and subtracts its contribution. A column may be picked again
// in a later round; its coefficient then accumulates. The encoding is
// deterministic and columns are processed in parallel.
func (m *Model) MatchingPursuit(data *mat.Dense, params Params) (*mat.Dense, error) {
	rows, n := data.Dims()
	if rows != m.numVisibles {
		return nil, dimensionErrorf("expect %d data rows, got %d", m.numVisibles, rows)
	}
	if params == nil {
		params = DefaultParameters()
	}
	numCoeff := params.GetParams(MP).GetInt(NumCoeff, 10)
	if numCoeff < 0 {
		return nil, configErrorf("number of coefficients must not be negative, got %d", numCoeff)
	}
	v, h := m.numVisibles, m.numHiddens
	squaredNorms := make([]float64, h)
	for i := 0; i < h; i++ {
		for r := 0; r < v; r++ {
			squaredNorms[i] += m.basis.At(r, i) * m.basis.At(r, i)
		}
	}
	states := mat.NewDense(h, n, nil)
	parallel.For(n, runtime.NumCPU(), func(j int) {
		residual := make([]float64, v)
		for r := 0; r < v; r++ {
			residual[r] = data.At(r, j)
		}
		for round := 0; round < numCoeff; round++ {
			best, bestScore := -1, 0.0
			bestDot := 0.0
			for i := 0; i < h; i++ {
				if squaredNorms[i] == 0 {
					continue
				}
				dot := 0.0
				for r := 0; r < v; r++ {
					dot += m.basis.At(r, i) * residual[r]
				}
				score := math.Abs(dot) / math.Sqrt(squaredNorms[i])
				if best < 0 || score > bestScore {
					best, bestScore, bestDot = i, score, dot
				}
			}
			if best < 0 || bestScore == 0 {
				break
			}
			coefficient := bestDot / squaredNorms[best]
			states.Set(best, j, states.At(best, j)+coefficient)
			for r := 0; r < v; r++ {
				residual[r] -= coefficient * m.basis.At(r, best)
			}
		}
	})
	return states, nil
}
