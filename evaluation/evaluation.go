// Package evaluation runs trained forecasters over the test windows of an
// experiment and records their normalised errors.
//
// For every seed the driver walks the hyperparameter grid, builds the
// matching forecaster and loads models_<exp>_<pred_len>/<name>_<seed>.
// Combinations whose checkpoint is missing or does not fit are logged and
// skipped. The forecast is the mean over the seeds that produced one.
package evaluation

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/kittycat/attention"
	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/data"
	"github.com/YuminosukeSato/kittycat/metrics"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
	"github.com/YuminosukeSato/kittycat/transformer"
)

// Defaults of the evaluation grid.
var (
	DefaultSeeds      = []int64{4293, 1692, 3029}
	DefaultStackSizes = []int{1, 3}
	DefaultDModels    = []int{16, 32}
	DefaultKernels    = []int{1, 3, 6, 9}
)

const (
	DefaultHeads     = 8
	DefaultBatchSize = 256

	// trainFraction of the chronologically ordered windows precede the
	// valid and test windows.
	trainFraction = 0.8

	// resultDigits is the precision of the stored aggregate errors.
	resultDigits = 5
)

// Config identifies an evaluation run.
type Config struct {
	// AttnType selects the attention mechanism of the forecaster.
	AttnType attention.Kind
	// Name is the checkpoint prefix and the key of the stored results.
	Name string
	// ExpName selects the experiment, e.g. "covid".
	ExpName string
	// PredLen is the forecast horizon.
	PredLen int
	// Device is the compute target.
	Device nn.Device
}

// Evaluator runs the evaluation grid. Create one with New.
type Evaluator struct {
	cfg Config

	fs         afero.Fs
	seeds      []int64
	stackSizes []int
	dModels    []int
	kernels    []int
	heads      int
	batchSize  int
	sampleSeed uint64
	plot       bool
	logger     log.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFs sets the file system holding the data, checkpoints and outputs.
func WithFs(fsys afero.Fs) Option {
	return func(e *Evaluator) { e.fs = fsys }
}

// WithSeeds replaces the model seeds.
func WithSeeds(seeds ...int64) Option {
	return func(e *Evaluator) { e.seeds = append([]int64(nil), seeds...) }
}

// WithGrid replaces the stack sizes, model widths and kernels searched for
// each seed.
func WithGrid(stackSizes, dModels, kernels []int) Option {
	return func(e *Evaluator) {
		e.stackSizes = append([]int(nil), stackSizes...)
		e.dModels = append([]int(nil), dModels...)
		e.kernels = append([]int(nil), kernels...)
	}
}

// WithHeads sets the number of attention heads.
func WithHeads(h int) Option {
	return func(e *Evaluator) { e.heads = h }
}

// WithBatchSize sets the number of windows per batch.
func WithBatchSize(n int) Option {
	return func(e *Evaluator) { e.batchSize = n }
}

// WithSampleSeed seeds the window subsampling of the train and valid splits.
func WithSampleSeed(seed uint64) Option {
	return func(e *Evaluator) { e.sampleSeed = seed }
}

// WithPlot also writes a PNG chart of the per-step errors.
func WithPlot(enabled bool) Option {
	return func(e *Evaluator) { e.plot = enabled }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// New validates cfg and applies opts. Files are read and written relative
// to the working directory unless WithFs is given.
func New(cfg Config, opts ...Option) (*Evaluator, error) {
	if cfg.Name == "" {
		return nil, errors.NewValidationError("name", "must not be empty", cfg.Name)
	}
	if cfg.PredLen <= 0 {
		return nil, errors.NewValidationError("pred_len", "must be positive", cfg.PredLen)
	}
	if cfg.Device.Kind == "" {
		cfg.Device = nn.CPU
	}
	e := &Evaluator{
		cfg:        cfg,
		fs:         afero.NewOsFs(),
		seeds:      DefaultSeeds,
		stackSizes: DefaultStackSizes,
		dModels:    DefaultDModels,
		kernels:    DefaultKernels,
		heads:      DefaultHeads,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.seeds) == 0 {
		return nil, errors.NewValidationError("seeds", "at least one seed is required", e.seeds)
	}
	if e.heads <= 0 {
		return nil, errors.NewValidationError("n_heads", "must be positive", e.heads)
	}
	for _, d := range e.dModels {
		if d < e.heads || d%e.heads != 0 {
			return nil, errors.NewValidationError("d_model", fmt.Sprintf("must be a positive multiple of n_heads (%d)", e.heads), d)
		}
	}
	if e.logger == nil {
		e.logger = log.GetLoggerWithName("evaluation")
	}
	e.logger = e.logger.With(
		log.ExperimentKey, cfg.ExpName,
		log.PredLenKey, cfg.PredLen,
		log.AttnTypeKey, string(cfg.AttnType),
	)
	return e, nil
}

// Combination is one point of the hyperparameter grid.
type Combination struct {
	StackSize int
	DModel    int
	Kernel    int
}

func (c Combination) String() string {
	return fmt.Sprintf("stack=%d d_model=%d kernel=%d", c.StackSize, c.DModel, c.Kernel)
}

// Attempt records the outcome of one (seed, combination) pair.
type Attempt struct {
	Seed        int64
	Combination Combination
	Checkpoint  string
	OK          bool
	Err         error
}

// Report summarises a run.
type Report struct {
	Attempts        []Attempt
	SuccessfulSeeds []int64
	Samples         int

	Errors      *metrics.ForecastErrors
	CSVPath     string
	ResultsPath string
	PlotPath    string
}

// CheckpointDir is the directory holding the experiment's checkpoints.
func CheckpointDir(expName string, predLen int) string {
	return fmt.Sprintf("models_%s_%d", expName, predLen)
}

// CheckpointPath is the checkpoint of one seed.
func CheckpointPath(expName string, predLen int, name string, seed int64) string {
	return filepath.Join(CheckpointDir(expName, predLen), fmt.Sprintf("%s_%d", name, seed))
}

// grid enumerates the combinations in stack, width, kernel order.
func (e *Evaluator) grid() []Combination {
	var out []Combination
	for _, s := range e.stackSizes {
		for _, d := range e.dModels {
			for _, k := range e.kernels {
				out = append(out, Combination{StackSize: s, DModel: d, Kernel: k})
			}
		}
	}
	return out
}

// testBatches loads, scales and windows the experiment table and returns
// the batched test split.
func (e *Evaluator) testBatches() (*data.Batches, error) {
	expCfg, err := data.NewExperimentConfig(e.cfg.PredLen, e.cfg.ExpName)
	if err != nil {
		return nil, err
	}
	formatter := expCfg.MakeDataFormatter()
	params := formatter.ExperimentParams()

	table, err := data.LoadCSV(e.fs, expCfg.DataCSVPath())
	if err != nil {
		return nil, err
	}
	frame, err := formatter.TransformData(table)
	if err != nil {
		return nil, err
	}
	trainMax, validMax := formatter.NumSamplesForCalibration()
	rng := rand.New(rand.NewPCG(e.sampleSeed, e.sampleSeed^0x5851f42d4c957f2d))
	_, _, test, err := data.SampleSplit(frame, trainFraction, trainMax, validMax,
		params.TotalTimeSteps, params.NumEncoderSteps, e.cfg.PredLen, rng)
	if err != nil {
		return nil, err
	}
	return data.Batching(e.batchSize, test)
}

// Run evaluates every seed over the grid, averages the successful seeds'
// forecasts and writes the per-step CSV, the merged results JSON and,
// when enabled, the chart. It fails with ErrNoCheckpoints when no seed
// produced a forecast.
func (e *Evaluator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	batches, err := e.testBatches()
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare test batches")
	}
	nb, bs := batches.Enc.Dim(0), batches.Enc.Dim(1)
	srcSize, tgtSize := batches.Enc.Dim(3), batches.Dec.Dim(3)
	e.logger.Info("test batches ready",
		log.BatchesKey, nb,
		log.BatchSizeKey, bs,
		log.FeaturesKey, srcSize,
	)

	report := &Report{Samples: nb * bs}
	var predictions [][]float64
	for _, seed := range e.seeds {
		buf, ok, err := e.runSeed(ctx, seed, batches, srcSize, tgtSize, report)
		if err != nil {
			return nil, err
		}
		if ok {
			predictions = append(predictions, buf)
			report.SuccessfulSeeds = append(report.SuccessfulSeeds, seed)
		}
	}
	if len(predictions) == 0 {
		return report, errors.Wrapf(errors.ErrNoCheckpoints, "%s under %s",
			e.cfg.Name, CheckpointDir(e.cfg.ExpName, e.cfg.PredLen))
	}

	mean := make([]float64, len(predictions[0]))
	for _, p := range predictions {
		floats.Add(mean, p)
	}
	floats.Scale(1/float64(len(predictions)), mean)

	rows := nb * bs
	yTrue := mat.NewDense(rows, e.cfg.PredLen, append([]float64(nil), batches.YTrue.Data()...))
	yPred := mat.NewDense(rows, e.cfg.PredLen, mean)
	report.Errors, err = metrics.NormalisedForecastErrors(yTrue, yPred)
	if err != nil {
		return report, err
	}

	if err := e.writeOutputs(report); err != nil {
		return report, err
	}
	e.logger.Info("evaluation finished",
		log.OperationKey, log.OperationEvaluate,
		log.MSEKey, report.Errors.MSE,
		log.MAEKey, report.Errors.MAE,
		log.NormaliserKey, report.Errors.Normaliser,
		log.SamplesKey, report.Samples,
		"seeds", len(report.SuccessfulSeeds),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return report, nil
}

// runSeed walks the grid for one seed. The returned buffer holds the
// forecasts of the last combination that ran to completion.
func (e *Evaluator) runSeed(ctx context.Context, seed int64, batches *data.Batches, srcSize, tgtSize int, report *Report) ([]float64, bool, error) {
	path := CheckpointPath(e.cfg.ExpName, e.cfg.PredLen, e.cfg.Name, seed)
	var buf []float64
	ok := false
	for _, combo := range e.grid() {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		var out []float64
		err := errors.SafeExecute("evaluate "+combo.String(), func() (err error) {
			out, err = e.runCombination(seed, combo, path, batches, srcSize, tgtSize)
			return err
		})
		report.Attempts = append(report.Attempts, Attempt{
			Seed:        seed,
			Combination: combo,
			Checkpoint:  path,
			OK:          err == nil,
			Err:         err,
		})
		logger := e.logger.With(
			log.RandomSeedKey, seed,
			log.StackSizeKey, combo.StackSize,
			log.DModelKey, combo.DModel,
			log.KernelKey, combo.Kernel,
			log.CheckpointKey, path,
		)
		switch {
		case err == nil:
			buf, ok = out, true
			logger.Info("combination evaluated")
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("checkpoint not found, skipping")
		default:
			logger.Warn("combination skipped", log.ErrorKey, err)
		}
	}
	return buf, ok, nil
}

// runCombination builds the forecaster for combo, loads the checkpoint and
// forecasts every test batch.
func (e *Evaluator) runCombination(seed int64, combo Combination, path string, batches *data.Batches, srcSize, tgtSize int) ([]float64, error) {
	dK := combo.DModel / e.heads
	m, err := transformer.New(transformer.Config{
		SrcInputSize: srcSize,
		TgtInputSize: tgtSize,
		PredLen:      e.cfg.PredLen,
		DModel:       combo.DModel,
		DFF:          combo.DModel * 4,
		DK:           dK,
		DV:           dK,
		Heads:        e.heads,
		NLayers:      combo.StackSize,
		AttnType:     e.cfg.AttnType,
		Kernel:       combo.Kernel,
		Seed:         seed,
		Device:       e.cfg.Device,
	})
	if err != nil {
		return nil, err
	}
	ckpt, err := model.LoadCheckpoint(e.fs, path)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(ckpt.ModelStateDict); err != nil {
		return nil, errors.NewModelError("LoadStateDict", "checkpoint does not fit "+combo.String(), err)
	}
	model.Eval(m)

	per := batches.YTrue.Size() / batches.Len()
	out := make([]float64, 0, batches.YTrue.Size())
	for j := 0; j < batches.Len(); j++ {
		enc, dec, _ := batches.Batch(j)
		y, err := m.Forward(enc, dec)
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d", j)
		}
		if y.Size() != per {
			return nil, errors.NewInputShapeError("evaluation", "forecast", batches.YTrue.Index(j).Shape(), y.Shape())
		}
		out = append(out, y.Data()...)
	}
	return out, nil
}
