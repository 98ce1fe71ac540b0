// Package kittycat evaluates encoder-decoder time-series forecasters built
// on multi-scale convolutional attention (KittyCatConv) and on the
// attention mechanisms it is compared against.
//
// KittyCatConv replaces the query/key dot product with a cheap summary:
// each position of every head is collapsed to a scalar, filtered by a bank
// of convolutions of widths 1, 3, 7 and 9, normalised, pooled by top-k and
// projected back before ordinary softmax attention against the values.
//
// # Quick Start
//
// Scoring the checkpoints under models_covid_24/ on covid.csv:
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//
//	    "github.com/YuminosukeSato/kittycat/attention"
//	    "github.com/YuminosukeSato/kittycat/evaluation"
//	)
//
//	func main() {
//	    e, err := evaluation.New(evaluation.Config{
//	        AttnType: attention.KindKittyCatConv,
//	        Name:     "KittyCatConv",
//	        ExpName:  "covid",
//	        PredLen:  24,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    report, err := e.Run(context.Background())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Println(report.Errors.MSE, report.Errors.MAE)
//	}
//
// The same run is available as the evaluate command in cmd/evaluate.
//
// # Packages
//
//   - attention: KittyCatConv, scaled dot-product and convolutional attention
//   - transformer: the encoder-decoder forecaster
//   - data: experiment formatters, time split, windowing and batching
//   - evaluation: the seed × hyperparameter evaluation driver
//   - metrics: normalised per-horizon MSE and MAE
//   - preprocessing: standard scaling and label encoding
//   - nn: Linear, Conv1d, BatchNorm1d, LayerNorm, activations, initialisers
//   - core/tensor: dense row-major tensors
//   - core/model: module interface, state dicts and checkpoints
//   - core/parallel: parallel processing utilities
//   - pkg/errors, pkg/log: structured errors and logging
//
// # License
//
// kittycat is released under the MIT License.
package kittycat
