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
	"reflect"

	"github.com/subspace-io/isa/base/log"
	"go.uber.org/zap"
)

// ParamName is the type of training parameter names.
type ParamName string

// Top-level parameter names.
const (
	Verbosity      ParamName = "verbosity"
	MaxIter        ParamName = "max_iter"
	TrainingMethod ParamName = "training_method"
	TrainPrior     ParamName = "train_prior"
	TrainBasis     ParamName = "train_basis"
	MergeSubspaces ParamName = "merge_subspaces"
	TrainCallback  ParamName = "callback"
)

// Parameter group names.
const (
	SGD   ParamName = "sgd"
	LBFGS ParamName = "lbfgs"
	MP    ParamName = "mp"
	GSMEM ParamName = "gsm"
	Gibbs ParamName = "gibbs"
	AIS   ParamName = "ais"
	Merge ParamName = "merge"
)

// Group parameter names.
const (
	BatchSize  ParamName = "batch_size"
	StepWidth  ParamName = "step_width"
	Momentum   ParamName = "momentum"
	NumCoeff   ParamName = "num_coeff"
	Tolerance  ParamName = "tolerance"
	IniIter    ParamName = "ini_iter"
	NumIter    ParamName = "num_iter"
	NumSamples ParamName = "num_samples"
	MaxMerge   ParamName = "max_merge"
	Threshold  ParamName = "threshold"
)

// Training methods.
const (
	MethodSGD   = "SGD"
	MethodLBFGS = "LBFGS"
	MethodMP    = "MP"
)

// Callback is invoked at the start of every training iteration with the
// iteration counter and the live model. Returning false cancels training
// immediately; no further updates or callback invocations happen. The model
// handle is not a copy: mutations made inside the callback are the caller's
// responsibility.
type Callback func(iteration int, model *Model) bool

// Params stores training parameters. Groups such as SGD or Gibbs are nested
// Params values:
//
//	isa.Params{
//		isa.MaxIter: 20,
//		isa.SGD:     isa.Params{isa.BatchSize: 200},
//	}
type Params map[ParamName]interface{}

// DefaultParameters returns the default training configuration. Every call
// builds a structurally fresh mapping: neither two calls nor two groups
// within one call share storage.
func DefaultParameters() Params {
	return Params{
		Verbosity:      0,
		MaxIter:        10,
		TrainingMethod: MethodSGD,
		TrainPrior:     true,
		TrainBasis:     true,
		MergeSubspaces: false,
		SGD: Params{
			MaxIter:   1,
			BatchSize: 100,
			StepWidth: 0.001,
			Momentum:  0.8,
		},
		LBFGS: Params{
			MaxIter: 50,
		},
		MP: Params{
			NumCoeff: 10,
		},
		GSMEM: Params{
			MaxIter:   10,
			Tolerance: 1e-8,
		},
		Gibbs: Params{
			IniIter:   10,
			NumIter:   1,
			Verbosity: 0,
		},
		AIS: Params{
			NumSamples: 10,
			NumIter:    100,
			Verbosity:  0,
		},
		Merge: Params{
			MaxMerge:  10,
			Threshold: 0.01,
			Verbosity: 0,
		},
	}
}

// Copy makes a deep copy of parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		if group, ok := v.(Params); ok {
			newParams[k] = group.Copy()
		} else {
			newParams[k] = v
		}
	}
	return newParams
}

// GetInt gets an integer parameter by name. Returns _default if missing or
// the type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		default:
			log.Logger().Error("expect int parameter",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetFloat64 gets a float parameter by name. Returns _default if missing or
// the type doesn't match. Integers are converted.
func (parameters Params) GetFloat64(name ParamName, _default float64) float64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		default:
			log.Logger().Error("expect float parameter",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if missing or the
// type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("expect bool parameter",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetString gets a string parameter by name. Returns _default if missing or
// the type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("expect string parameter",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetParams gets a nested parameter group by name. Returns an empty group
// if missing, so lookups fall through to their defaults.
func (parameters Params) GetParams(name ParamName) Params {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case Params:
			return val
		default:
			log.Logger().Error("expect parameter group",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return Params{}
}

// GetCallback gets a callback parameter by name. Returns nil if missing.
func (parameters Params) GetCallback(name ParamName) Callback {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case Callback:
			return val
		case func(int, *Model) bool:
			return val
		default:
			log.Logger().Error("expect callback parameter",
				zap.String("name", string(name)),
				zap.String("type", reflect.TypeOf(val).String()))
		}
	}
	return nil
}
