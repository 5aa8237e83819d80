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

import "fmt"

// ConfigurationError reports malformed or inconsistent parameters, for
// example subspace dimensions that do not sum to the number of hidden units
// or an unknown training method.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// DimensionMismatchError reports incompatible data, basis or state shapes.
type DimensionMismatchError struct {
	Message string
}

func (e *DimensionMismatchError) Error() string {
	return "dimension mismatch: " + e.Message
}

func dimensionErrorf(format string, args ...interface{}) error {
	return &DimensionMismatchError{Message: fmt.Sprintf(format, args...)}
}

// NumericalError reports numerical failure, such as a singular basis where
// exact inversion is required or a degenerate covariance during
// initialization.
type NumericalError struct {
	Message string
}

func (e *NumericalError) Error() string {
	return "numerical error: " + e.Message
}

func numericalErrorf(format string, args ...interface{}) error {
	return &NumericalError{Message: fmt.Sprintf(format, args...)}
}
