package data

// FixedParams are the experiment settings that hyperparameter search does
// not vary.
type FixedParams struct {
	TotalTimeSteps         int
	NumEncoderSteps        int
	NumDecoderSteps        int
	NumEpochs              int
	EarlyStoppingPatience  int
	MultiprocessingWorkers int
}

// GetParams returns the parameters under their conventional names.
func (p FixedParams) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"total_time_steps":        p.TotalTimeSteps,
		"num_encoder_steps":       p.NumEncoderSteps,
		"num_decoder_steps":       p.NumDecoderSteps,
		"num_epochs":              p.NumEpochs,
		"early_stopping_patience": p.EarlyStoppingPatience,
		"multiprocessing_workers": p.MultiprocessingWorkers,
	}
}

// ModelParams are the candidate hyperparameters explored by an external
// search.
type ModelParams struct {
	HiddenLayerSize []int
	MinibatchSize   []int
	NumHeads        int
	StackSize       []int
	ContextLengths  []int
}

// GetParams returns the parameters under their conventional names.
func (p ModelParams) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"hidden_layer_size": p.HiddenLayerSize,
		"minibatch_size":    p.MinibatchSize,
		"num_heads":         p.NumHeads,
		"stack_size":        p.StackSize,
		"context_lengths":   p.ContextLengths,
	}
}

// ExperimentParams bundles the fixed parameters with the column schema.
type ExperimentParams struct {
	FixedParams
	ColumnDefinition ColumnDefinitions
}

// GetParams returns the fixed parameters plus "column_definition".
func (p ExperimentParams) GetParams() map[string]interface{} {
	m := p.FixedParams.GetParams()
	m["column_definition"] = p.ColumnDefinition
	return m
}
