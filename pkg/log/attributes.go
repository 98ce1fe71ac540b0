// Package log defines standard attribute keys for forecasting operations.
//
// The keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so log output can be filtered per component.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model or layer type.
	// Examples: "KittyCatConv", "Transformer", "StandardScaler"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "forward", "load", "split", "transform", "evaluate"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	PhaseKey = "ml.phase"

	// AttnTypeKey records the attention mechanism in use.
	AttnTypeKey = "model.attn_type"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows or windows).
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features.
	FeaturesKey = "data.features"

	// BatchSizeKey indicates the size of processing batches.
	BatchSizeKey = "data.batch_size"

	// BatchesKey indicates the number of batches.
	BatchesKey = "data.batches"

	// ShapeKey records a tensor shape.
	ShapeKey = "data.shape"

	// PartitionKey names a data split ("train", "valid", "test").
	PartitionKey = "data.partition"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// MSEKey records a (normalised) mean squared error.
	MSEKey = "metrics.mse"

	// MAEKey records a (normalised) mean absolute error.
	MAEKey = "metrics.mae"

	// NormaliserKey records the mean absolute ground truth used for normalisation.
	NormaliserKey = "metrics.normaliser"
)

// Evaluation grid
const (
	// ExperimentKey is the experiment name (e.g. "covid").
	ExperimentKey = "eval.experiment"

	// PredLenKey is the forecast horizon length.
	PredLenKey = "eval.pred_len"

	// StackSizeKey is the number of encoder/decoder layers.
	StackSizeKey = "eval.stack_size"

	// DModelKey is the model width.
	DModelKey = "eval.d_model"

	// KernelKey is the convolution kernel width of the grid point.
	KernelKey = "eval.kernel"

	// CheckpointKey is the checkpoint path.
	CheckpointKey = "eval.checkpoint"
)

// Error and Configuration Context
const (
	// ErrorKey holds an error value.
	ErrorKey = "error"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// DeviceKey records the compute target.
	DeviceKey = "config.device"
)

// Standard attribute values.
const (
	OperationForward   = "forward"
	OperationLoad      = "load"
	OperationSplit     = "split"
	OperationTransform = "transform"
	OperationEvaluate  = "evaluate"

	PhasePreprocessing = "preprocessing"
	PhaseInference     = "inference"
	PhaseReporting     = "reporting"
)
