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
	"io"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base"
	"github.com/subspace-io/isa/base/encoding"
)

// modelSnapshot is the gob image of a model.
type modelSnapshot struct {
	NumVisibles int
	NumHiddens  int
	Basis       []float64 // row major
	NumStates   int
	States      []float64 // row major, empty when no states are cached
	Subspaces   []gsmSnapshot
}

type gsmSnapshot struct {
	Dim    int
	Scales []float64
	Priors []float64
}

// Marshal writes the model parameters and cached hidden states to w. The
// random generator state is not persisted.
func (m *Model) Marshal(w io.Writer) error {
	snapshot := modelSnapshot{
		NumVisibles: m.numVisibles,
		NumHiddens:  m.numHiddens,
		Basis:       make([]float64, 0, m.numVisibles*m.numHiddens),
	}
	for r := 0; r < m.numVisibles; r++ {
		snapshot.Basis = append(snapshot.Basis, m.basis.RawRowView(r)...)
	}
	if m.states != nil {
		_, snapshot.NumStates = m.states.Dims()
		snapshot.States = make([]float64, 0, m.numHiddens*snapshot.NumStates)
		for r := 0; r < m.numHiddens; r++ {
			snapshot.States = append(snapshot.States, m.states.RawRowView(r)...)
		}
	}
	for _, gsm := range m.subspaces {
		clone := gsm.Clone()
		snapshot.Subspaces = append(snapshot.Subspaces, gsmSnapshot{
			Dim:    clone.Dim,
			Scales: clone.Scales,
			Priors: clone.Priors,
		})
	}
	return errors.Trace(encoding.WriteGob(w, snapshot))
}

// Unmarshal replaces the model parameters with those read from r. The
// snapshot must describe a model of matching visible and hidden dimensions.
func (m *Model) Unmarshal(r io.Reader) error {
	var snapshot modelSnapshot
	if err := encoding.ReadGob(r, &snapshot); err != nil {
		return errors.Trace(err)
	}
	if snapshot.NumVisibles != m.numVisibles || snapshot.NumHiddens != m.numHiddens {
		return dimensionErrorf("expect %d×%d model, got %d×%d",
			m.numVisibles, m.numHiddens, snapshot.NumVisibles, snapshot.NumHiddens)
	}
	return snapshot.restore(m)
}

// Load reads a model snapshot written by Marshal and builds a fresh model
// from it, seeded with seed.
func Load(r io.Reader, seed int64) (*Model, error) {
	var snapshot modelSnapshot
	if err := encoding.ReadGob(r, &snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	if snapshot.NumVisibles < 1 || snapshot.NumHiddens < snapshot.NumVisibles {
		return nil, configErrorf("snapshot describes a %d×%d model",
			snapshot.NumVisibles, snapshot.NumHiddens)
	}
	m := &Model{
		numVisibles: snapshot.NumVisibles,
		numHiddens:  snapshot.NumHiddens,
		rng:         base.NewRandomGenerator(seed),
	}
	if err := snapshot.restore(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (snapshot *modelSnapshot) restore(m *Model) error {
	if len(snapshot.Basis) != m.numVisibles*m.numHiddens {
		return dimensionErrorf("expect %d basis entries, got %d",
			m.numVisibles*m.numHiddens, len(snapshot.Basis))
	}
	subspaces := make([]*GSM, 0, len(snapshot.Subspaces))
	for _, image := range snapshot.Subspaces {
		subspaces = append(subspaces, &GSM{
			Dim:       image.Dim,
			NumScales: len(image.Scales),
			Scales:    image.Scales,
			Priors:    image.Priors,
		})
	}
	if err := m.SetSubspaces(subspaces); err != nil {
		return err
	}
	m.basis = mat.NewDense(m.numVisibles, m.numHiddens, snapshot.Basis)
	if snapshot.NumStates > 0 {
		if len(snapshot.States) != m.numHiddens*snapshot.NumStates {
			return dimensionErrorf("expect %d state entries, got %d",
				m.numHiddens*snapshot.NumStates, len(snapshot.States))
		}
		m.states = mat.NewDense(m.numHiddens, snapshot.NumStates, snapshot.States)
	} else {
		m.states = nil
	}
	return nil
}
