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

package base

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

const randomEpsilon = 0.1

func TestRandomGenerator_NormalVector(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.NormalVector(10000, 1, 2)
	assert.InDelta(t, 1, stat.Mean(vec, nil), randomEpsilon)
	assert.InDelta(t, 2, stat.StdDev(vec, nil), randomEpsilon)
}

func TestRandomGenerator_UniformVector(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.UniformVector(1000, 1, 2)
	for _, v := range vec {
		assert.GreaterOrEqual(t, v, 1.0)
		assert.Less(t, v, 2.0)
	}
}

func TestRandomGenerator_LaplaceVector(t *testing.T) {
	rng := NewRandomGenerator(0)
	b := 1 / math.Sqrt2
	vec := rng.LaplaceVector(100000, b)
	// zero mean, variance 2b^2
	assert.InDelta(t, 0, stat.Mean(vec, nil), randomEpsilon)
	assert.InDelta(t, 2*b*b, stat.Variance(vec, nil), randomEpsilon)
}

func TestRandomGenerator_Categorical(t *testing.T) {
	rng := NewRandomGenerator(42)
	weights := []float64{1, 2, 1}
	counts := make([]float64, 3)
	const n = 100000
	for i := 0; i < n; i++ {
		counts[rng.Categorical(weights)]++
	}
	assert.InDelta(t, 0.25, counts[0]/n, 0.01)
	assert.InDelta(t, 0.5, counts[1]/n, 0.01)
	assert.InDelta(t, 0.25, counts[2]/n, 0.01)
}

func TestRandomGenerator_Deterministic(t *testing.T) {
	a := NewRandomGenerator(7).NormalVector(100, 0, 1)
	b := NewRandomGenerator(7).NormalVector(100, 0, 1)
	assert.Equal(t, a, b)
}
