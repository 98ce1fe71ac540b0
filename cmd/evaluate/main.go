// Command evaluate scores trained forecasters on an experiment's test
// windows and records their normalised errors.
//
//	evaluate --attn_type KittyCatConv --name KittyCatConv --exp_name covid --pred_len 24
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/spf13/afero"

	"github.com/YuminosukeSato/kittycat/attention"
	"github.com/YuminosukeSato/kittycat/core/parallel"
	"github.com/YuminosukeSato/kittycat/evaluation"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/log"
)

type args struct {
	AttnType string `arg:"--attn_type" help:"attention mechanism: basic_attn, conv_attn or KittyCatConv"`
	Name     string `arg:"--name" help:"checkpoint prefix and results key"`
	ExpName  string `arg:"--exp_name" help:"experiment name"`
	Cuda     string `arg:"--cuda" help:"requested compute device"`
	PredLen  int    `arg:"--pred_len" help:"forecast horizon"`
	DataDir  string `arg:"--data_dir" help:"directory holding the data, checkpoints and outputs"`
	LogLevel string `arg:"--log_level" help:"debug, info, warn or error"`
	Plot     bool   `arg:"--plot" help:"also write a PNG chart of the per-step errors"`
	Workers  int    `arg:"--workers" help:"maximum goroutines for numeric kernels (0 uses every CPU)"`
}

func (args) Description() string {
	return "evaluate trained forecasters over seeds and hyperparameters"
}

func main() {
	a := args{
		AttnType: string(attention.KindBasic),
		Name:     "basic_attn",
		ExpName:  "covid",
		Cuda:     "cuda:0",
		PredLen:  24,
		DataDir:  ".",
		LogLevel: "info",
	}
	arg.MustParse(&a)

	if err := log.Setup(a.LogLevel, os.Stderr); err != nil {
		log.GetLogger().Error("invalid log level", log.ErrorKey, err)
		os.Exit(1)
	}
	logger := log.GetLoggerWithName("cmd.evaluate")
	parallel.SetMaxWorkers(a.Workers)

	device, err := nn.ResolveDevice(a.Cuda)
	if err != nil {
		logger.Error("invalid device", log.ErrorKey, err)
		os.Exit(1)
	}

	dataDir, err := filepath.Abs(a.DataDir)
	if err != nil {
		logger.Error("invalid data directory", log.ErrorKey, err)
		os.Exit(1)
	}

	e, err := evaluation.New(evaluation.Config{
		AttnType: attention.Kind(a.AttnType),
		Name:     a.Name,
		ExpName:  a.ExpName,
		PredLen:  a.PredLen,
		Device:   device,
	},
		evaluation.WithFs(afero.NewBasePathFs(afero.NewOsFs(), dataDir)),
		evaluation.WithPlot(a.Plot),
	)
	if err != nil {
		logger.Error("invalid configuration", log.ErrorKey, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := e.Run(ctx)
	if err != nil {
		logger.Error("evaluation failed", log.ErrorKey, err)
		stop()
		os.Exit(1)
	}
	logger.Info("results written",
		log.MSEKey, report.Errors.MSE,
		log.MAEKey, report.Errors.MAE,
		"csv", report.CSVPath,
		"results", report.ResultsPath,
		log.DeviceKey, device.String(),
	)
}
