package data

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// FormatterFactory builds a formatter for a forecast horizon.
type FormatterFactory func(predLen int) Formatter

var (
	registryMu sync.RWMutex
	registry   = map[string]FormatterFactory{
		"covid": func(predLen int) Formatter { return NewCovidFormatter(predLen) },
	}
)

// Register adds an experiment. Registering an existing name replaces it.
func Register(name string, factory FormatterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Experiments returns the registered experiment names, sorted.
func Experiments() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExperimentConfig identifies one experiment run: its name, horizon and
// the files derived from them.
type ExperimentConfig struct {
	ExpName string
	PredLen int

	factory FormatterFactory
}

// NewExperimentConfig resolves expName in the registry.
func NewExperimentConfig(predLen int, expName string) (*ExperimentConfig, error) {
	if predLen <= 0 {
		return nil, errors.NewValidationError("pred_len", "must be positive", predLen)
	}
	registryMu.RLock()
	factory, ok := registry[expName]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NewValueError("ExperimentConfig",
			fmt.Sprintf("unrecognised experiment %q, expected one of: %s", expName, strings.Join(Experiments(), ", ")))
	}
	return &ExperimentConfig{ExpName: expName, PredLen: predLen, factory: factory}, nil
}

// MakeDataFormatter returns a fresh formatter for the experiment.
func (c *ExperimentConfig) MakeDataFormatter() Formatter {
	return c.factory(c.PredLen)
}

// DataCSVPath is the input table, "<exp_name>.csv".
func (c *ExperimentConfig) DataCSVPath() string {
	return c.ExpName + ".csv"
}
