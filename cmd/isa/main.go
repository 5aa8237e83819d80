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

package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/subspace-io/isa/base/log"
	"github.com/subspace-io/isa/cmd/version"
	"github.com/subspace-io/isa/isa"
)

var rootCmd = &cobra.Command{
	Use:   "isa",
	Short: "Overcomplete independent subspace analysis",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		flags := cmd.Root().PersistentFlags()
		debug, _ := flags.GetBool("debug")
		log.SetLogger(flags, debug)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a model to a CSV matrix (one sample per row)",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("model")
		numHiddens, _ := cmd.Flags().GetInt("num-hiddens")
		subspaceSize, _ := cmd.Flags().GetInt("subspace-size")
		numScales, _ := cmd.Flags().GetInt("num-scales")
		seed, _ := cmd.Flags().GetInt64("seed")
		maxIter, _ := cmd.Flags().GetInt("max-iter")
		method, _ := cmd.Flags().GetString("method")
		merge, _ := cmd.Flags().GetBool("merge")

		data, err := loadMatrix(input)
		if err != nil {
			return errors.Trace(err)
		}
		numVisibles, numSamples := data.Dims()
		if numHiddens == 0 {
			numHiddens = numVisibles
		}
		log.Logger().Info("training",
			zap.Int("num_visibles", numVisibles),
			zap.Int("num_hiddens", numHiddens),
			zap.Int("num_samples", numSamples),
			zap.String("method", method))
		model, err := isa.New(numVisibles,
			isa.WithNumHiddens(numHiddens),
			isa.WithSubspaceSize(subspaceSize),
			isa.WithNumScales(numScales),
			isa.WithSeed(seed))
		if err != nil {
			return errors.Trace(err)
		}
		if err := model.Initialize(data); err != nil {
			return errors.Trace(err)
		}
		bar := progressbar.Default(int64(maxIter), "training")
		params := isa.DefaultParameters()
		params[isa.MaxIter] = maxIter
		params[isa.TrainingMethod] = method
		params[isa.MergeSubspaces] = merge
		params[isa.TrainCallback] = isa.Callback(func(iteration int, _ *isa.Model) bool {
			_ = bar.Set(iteration)
			return true
		})
		if err := model.Train(data, params); err != nil {
			return errors.Trace(err)
		}
		_ = bar.Finish()
		return saveModel(model, output)
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw samples from a trained model",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("model")
		output, _ := cmd.Flags().GetString("output")
		count, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetInt64("seed")

		model, err := loadModel(input, seed)
		if err != nil {
			return errors.Trace(err)
		}
		return saveMatrix(model.Sample(count), output)
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Report the negative log-likelihood of a CSV matrix in bits per dimension",
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath, _ := cmd.Flags().GetString("model")
		input, _ := cmd.Flags().GetString("input")
		seed, _ := cmd.Flags().GetInt64("seed")
		numSamples, _ := cmd.Flags().GetInt("ais-samples")
		numIter, _ := cmd.Flags().GetInt("ais-iter")

		model, err := loadModel(modelPath, seed)
		if err != nil {
			return errors.Trace(err)
		}
		data, err := loadMatrix(input)
		if err != nil {
			return errors.Trace(err)
		}
		params := isa.DefaultParameters()
		params.GetParams(isa.AIS)[isa.NumSamples] = numSamples
		params.GetParams(isa.AIS)[isa.NumIter] = numIter
		score, err := model.Evaluate(data, params)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("%.6f bits/dim\n", score)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(rootCmd.PersistentFlags())

	trainCmd.Flags().String("input", "", "path of the training data (CSV, one sample per row)")
	trainCmd.Flags().String("model", "model.isa", "path of the output model")
	trainCmd.Flags().Int("num-hiddens", 0, "number of hidden units (default: number of visible units)")
	trainCmd.Flags().Int("subspace-size", 1, "dimensionality of the subspaces")
	trainCmd.Flags().Int("num-scales", isa.DefaultNumScales, "number of scales per subspace prior")
	trainCmd.Flags().Int64("seed", 0, "random seed")
	trainCmd.Flags().Int("max-iter", 10, "number of training iterations")
	trainCmd.Flags().String("method", isa.MethodSGD, "training method (SGD, LBFGS or MP)")
	trainCmd.Flags().Bool("merge", false, "merge dependent subspaces during training")
	_ = trainCmd.MarkFlagRequired("input")

	sampleCmd.Flags().String("model", "model.isa", "path of the model")
	sampleCmd.Flags().String("output", "samples.csv", "path of the output samples")
	sampleCmd.Flags().Int("count", 1000, "number of samples to draw")
	sampleCmd.Flags().Int64("seed", 0, "random seed")

	evaluateCmd.Flags().String("model", "model.isa", "path of the model")
	evaluateCmd.Flags().String("input", "", "path of the evaluation data (CSV, one sample per row)")
	evaluateCmd.Flags().Int64("seed", 0, "random seed")
	evaluateCmd.Flags().Int("ais-samples", 100, "number of importance chains per sample")
	evaluateCmd.Flags().Int("ais-iter", 100, "number of annealing steps per chain")
	_ = evaluateCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(versionCmd, trainCmd, sampleCmd, evaluateCmd)
}

// loadMatrix reads a CSV file with one sample per row into a matrix with one
// sample per column.
func loadMatrix(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.Errorf("%s holds no data", path)
	}
	data := mat.NewDense(len(rows[0]), len(rows), nil)
	for j, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, errors.Errorf("row %d of %s has %d fields, expect %d",
				j, path, len(row), len(rows[0]))
		}
		for i, cell := range row {
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.Trace(err)
			}
			data.Set(i, j, value)
		}
	}
	return data, nil
}

// saveMatrix writes one sample per row.
func saveMatrix(data *mat.Dense, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	rows, cols := data.Dims()
	record := make([]string, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			record[i] = strconv.FormatFloat(data.At(i, j), 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return errors.Trace(err)
		}
	}
	writer.Flush()
	return errors.Trace(writer.Error())
}

func loadModel(path string, seed int64) (*isa.Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return isa.Load(file, seed)
}

func saveModel(model *isa.Model, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	if err := model.Marshal(file); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("model saved", zap.String("path", path))
	return nil
}

func main() {
	defer log.CloseLogger()
	if err := rootCmd.Execute(); err != nil {
		log.Logger().Fatal("failed to execute command", zap.Error(err))
	}
}
