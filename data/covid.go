package data

// Default time boundaries of the covid experiment, in days from start.
const (
	CovidValidBoundary = 300
	CovidTestBoundary  = 500
)

// covidColumns is the schema of the covid case-count table.
// days_from_start is both the time index and a known input.
var covidColumns = ColumnDefinitions{
	{"id", RealValued, ID},
	{"days_from_start", RealValued, Time},
	{"PEOPLE_POSITIVE_NEW_CASES_COUNT", RealValued, Target},
	{"PEOPLE_POSITIVE_CASES_COUNT", RealValued, KnownInput},
	{"PEOPLE_DEATH_COUNT", RealValued, KnownInput},
	{"Number of Trips", RealValued, KnownInput},
	{"Population Staying at Home", RealValued, KnownInput},
	{"Population Not Staying at Home", RealValued, KnownInput},
	{"day_of_week", RealValued, KnownInput},
	{"days_from_start", RealValued, KnownInput},
}

// CovidFormatter formats the daily covid case-count dataset.
type CovidFormatter struct {
	*baseFormatter
}

var _ Formatter = (*CovidFormatter)(nil)

// NewCovidFormatter creates a formatter for a forecast horizon of predLen
// days.
func NewCovidFormatter(predLen int) *CovidFormatter {
	return &CovidFormatter{
		baseFormatter: newBaseFormatter("covid", covidColumns, predLen, CovidValidBoundary, CovidTestBoundary),
	}
}

// SplitDefault splits at the experiment's default boundaries.
func (f *CovidFormatter) SplitDefault(t *Table) (train, valid, test *Table, err error) {
	return f.Split(t, CovidValidBoundary, CovidTestBoundary)
}

// FixedParams uses a 96-step history window ahead of the horizon.
func (f *CovidFormatter) FixedParams() FixedParams {
	total := 4*24 + f.predLen
	return FixedParams{
		TotalTimeSteps:         total,
		NumEncoderSteps:        total - f.predLen,
		NumDecoderSteps:        f.predLen,
		NumEpochs:              50,
		EarlyStoppingPatience:  5,
		MultiprocessingWorkers: 5,
	}
}

func (f *CovidFormatter) DefaultModelParams() ModelParams {
	return ModelParams{
		HiddenLayerSize: []int{32, 64},
		MinibatchSize:   []int{256},
		NumHeads:        8,
		StackSize:       []int{1},
		ContextLengths:  []int{1, 3, 6, 9},
	}
}

// NumSamplesForCalibration returns the training and validation window caps.
func (f *CovidFormatter) NumSamplesForCalibration() (train, valid int) {
	return 64000, 6400
}

func (f *CovidFormatter) ExperimentParams() ExperimentParams {
	return ExperimentParams{FixedParams: f.FixedParams(), ColumnDefinition: f.ColumnDefinition()}
}
