package data

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
	"github.com/YuminosukeSato/kittycat/preprocessing"
)

// Formatter prepares one experiment's raw table for the model.
type Formatter interface {
	// ColumnDefinition returns the column schema.
	ColumnDefinition() ColumnDefinitions

	// Split partitions rows by time into train, valid and test.
	Split(t *Table, validBoundary, testBoundary float64) (train, valid, test *Table, err error)

	// TransformData calibrates the scalers on the training split and
	// returns every finite-time row, scaled and ordered by (id, time).
	TransformData(t *Table) (*Frame, error)

	// FormatPredictions maps scaled target values back to the original scale.
	FormatPredictions(scaled []float64) ([]float64, error)

	FixedParams() FixedParams
	DefaultModelParams() ModelParams
	NumSamplesForCalibration() (train, valid int)
	ExperimentParams() ExperimentParams
}

// Frame is a scaled table: one row per observation, grouped by entity and
// sorted by time within each entity.
type Frame struct {
	Schema ColumnDefinitions
	IDs    []string
	Time   []float64

	columns map[string][]float64
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Time)
}

// Column returns the transformed values of an input or target column.
func (f *Frame) Column(name string) ([]float64, bool) {
	c, ok := f.columns[name]
	return c, ok
}

// baseFormatter holds the schema-driven behaviour shared by experiments:
// time split, scaler calibration and row transformation.
type baseFormatter struct {
	schema        ColumnDefinitions
	predLen       int
	validBoundary float64
	testBoundary  float64

	realColumns []string
	targetIndex int
	realScaler  *preprocessing.StandardScaler
	catEncoders map[string]*preprocessing.LabelEncoder
	logger      log.Logger
}

func newBaseFormatter(name string, schema ColumnDefinitions, predLen int, validBoundary, testBoundary float64) *baseFormatter {
	return &baseFormatter{
		schema:        schema,
		predLen:       predLen,
		validBoundary: validBoundary,
		testBoundary:  testBoundary,
		logger:        log.GetLoggerWithName("data." + name),
	}
}

func (b *baseFormatter) ColumnDefinition() ColumnDefinitions {
	return append(ColumnDefinitions(nil), b.schema...)
}

func (b *baseFormatter) timeColumn() string {
	name, _ := b.schema.Column(Time)
	return name
}

func (b *baseFormatter) Split(t *Table, validBoundary, testBoundary float64) (train, valid, test *Table, err error) {
	if err := b.schema.Validate(); err != nil {
		return nil, nil, nil, err
	}
	train, valid, test, err = SplitByTime(t, b.timeColumn(), validBoundary, testBoundary)
	if err != nil {
		return nil, nil, nil, err
	}
	b.logger.Info("formatted train-valid-test splits",
		log.OperationKey, log.OperationSplit,
		"train", train.Len(), "valid", valid.Len(), "test", test.Len(),
	)
	return train, valid, test, nil
}

// inputColumns returns the distinct names of non-ID, non-time columns of
// the given value kind, in schema order.
func (b *baseFormatter) inputColumns(kind DataType) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range b.schema {
		if c.DataType != kind || c.InputType == ID || c.InputType == Time || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
	}
	return out
}

func (b *baseFormatter) allColumns() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range b.schema {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c.Name)
		}
	}
	return out
}

func (b *baseFormatter) setScalers(train *Table) error {
	if train.Len() == 0 {
		return errors.NewModelError("Formatter.TransformData", "empty training split", errors.ErrEmptyData)
	}

	b.realColumns = b.inputColumns(RealValued)
	target, _ := b.schema.Column(Target)
	b.targetIndex = -1
	X := mat.NewDense(train.Len(), len(b.realColumns), nil)
	for j, col := range b.realColumns {
		if col == target {
			b.targetIndex = j
		}
		vals, err := train.Floats(col)
		if err != nil {
			return err
		}
		X.SetCol(j, vals)
	}
	b.realScaler = preprocessing.NewStandardScalerDefault()
	if err := b.realScaler.Fit(X); err != nil {
		return errors.Wrap(err, "failed to calibrate real-valued scaler")
	}

	b.catEncoders = map[string]*preprocessing.LabelEncoder{}
	for _, col := range b.inputColumns(Categorical) {
		enc := preprocessing.NewLabelEncoder()
		if err := enc.FitLabels(train.Strings(col)); err != nil {
			return errors.Wrapf(err, "failed to calibrate encoder for %s", col)
		}
		b.catEncoders[col] = enc
	}
	return nil
}

func (b *baseFormatter) TransformData(t *Table) (*Frame, error) {
	if err := b.schema.Validate(); err != nil {
		return nil, err
	}
	if err := t.RequireColumns(b.allColumns()...); err != nil {
		return nil, err
	}
	train, _, _, err := b.Split(t, b.validBoundary, b.testBoundary)
	if err != nil {
		return nil, err
	}
	if err := b.setScalers(train); err != nil {
		return nil, err
	}

	rows, times, err := b.orderedRows(t)
	if err != nil {
		return nil, err
	}
	sub := t.Subset(rows)

	f := &Frame{
		Schema:  b.ColumnDefinition(),
		Time:    times,
		IDs:     make([]string, len(rows)),
		columns: map[string][]float64{},
	}
	if idCol, ok := b.schema.Column(ID); ok {
		f.IDs = sub.Strings(idCol)
	}
	for j, col := range b.realColumns {
		vals, err := sub.Floats(col)
		if err != nil {
			return nil, err
		}
		if f.columns[col], err = b.realScaler.TransformColumn(j, vals); err != nil {
			return nil, err
		}
	}
	for col, enc := range b.catEncoders {
		if f.columns[col], err = enc.TransformLabels(sub.Strings(col)); err != nil {
			return nil, err
		}
	}

	b.logger.Info("transformed data",
		log.OperationKey, log.OperationTransform,
		log.SamplesKey, f.Len(),
		log.FeaturesKey, len(f.columns),
	)
	return f, nil
}

// orderedRows returns the finite-time rows sorted by (id, time).
func (b *baseFormatter) orderedRows(t *Table) ([]int, []float64, error) {
	idCol, hasID := b.schema.Column(ID)
	times, err := t.Floats(b.timeColumn())
	if err != nil {
		return nil, nil, err
	}
	var rows []int
	for i, v := range times {
		if !math.IsNaN(v) {
			rows = append(rows, i)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := rows[i], rows[j]
		if hasID {
			if a, c := t.Value(ri, idCol), t.Value(rj, idCol); a != c {
				return a < c
			}
		}
		return times[ri] < times[rj]
	})
	ordered := make([]float64, len(rows))
	for i, r := range rows {
		ordered[i] = times[r]
	}
	return rows, ordered, nil
}

func (b *baseFormatter) FormatPredictions(scaled []float64) ([]float64, error) {
	if b.realScaler == nil || !b.realScaler.IsFitted() {
		return nil, errors.NewNotFittedError("Formatter", "FormatPredictions")
	}
	if b.targetIndex < 0 {
		return nil, errors.NewValueError("Formatter.FormatPredictions", "target column is not real-valued")
	}
	return b.realScaler.InverseTransformColumn(b.targetIndex, scaled)
}
