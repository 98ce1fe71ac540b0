package evaluation

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/kittycat/metrics"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// HorizonRow is one line of the per-step error table.
type HorizonRow struct {
	Step int     `csv:"step"`
	MSE  float64 `csv:"mse"`
	MAE  float64 `csv:"mae"`
}

// HorizonRows lists the per-step errors, steps counted from 1.
func HorizonRows(e *metrics.ForecastErrors) []*HorizonRow {
	rows := make([]*HorizonRow, e.Steps())
	for i := range rows {
		rows[i] = &HorizonRow{Step: i + 1, MSE: e.StepMSE[i], MAE: e.StepMAE[i]}
	}
	return rows
}

// CSVPath is "<exp>_<name>_<pred_len>.csv".
func CSVPath(expName, name string, predLen int) string {
	return fmt.Sprintf("%s_%s_%d.csv", expName, name, predLen)
}

// ResultsPath is "new_Errors_<exp>_<pred_len>.json".
func ResultsPath(expName string, predLen int) string {
	return fmt.Sprintf("new_Errors_%s_%d.json", expName, predLen)
}

// PlotPath is "<exp>_<name>_<pred_len>.png".
func PlotPath(expName, name string, predLen int) string {
	return fmt.Sprintf("%s_%s_%d.png", expName, name, predLen)
}

func (e *Evaluator) writeOutputs(report *Report) error {
	report.CSVPath = CSVPath(e.cfg.ExpName, e.cfg.Name, e.cfg.PredLen)
	if err := WriteHorizonCSV(e.fs, report.CSVPath, report.Errors); err != nil {
		return err
	}
	report.ResultsPath = ResultsPath(e.cfg.ExpName, e.cfg.PredLen)
	if err := MergeResults(e.fs, report.ResultsPath, e.cfg.Name, report.Errors); err != nil {
		return err
	}
	if e.plot {
		report.PlotPath = PlotPath(e.cfg.ExpName, e.cfg.Name, e.cfg.PredLen)
		if err := WriteHorizonPlot(e.fs, report.PlotPath, e.cfg.Name, report.Errors); err != nil {
			return err
		}
	}
	return nil
}

// WriteHorizonCSV writes the step,mse,mae table.
func WriteHorizonCSV(fsys afero.Fs, path string, errs *metrics.ForecastErrors) (err error) {
	f, err := fsys.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer closeFile(f, path, &err)
	rows := HorizonRows(errs)
	if err := gocsv.Marshal(&rows, f); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Results maps a run name to its stored aggregate errors. Each run appends
// its normalised MSE then MAE.
type Results map[string][]float64

// LoadResults reads path, returning an empty mapping when it does not exist.
func LoadResults(fsys afero.Fs, path string) (Results, error) {
	exists, err := afero.Exists(fsys, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	if !exists {
		return Results{}, nil
	}
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	res := Results{}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	// "null" decodes to a nil map
	if res == nil {
		res = Results{}
	}
	return res, nil
}

// MergeResults appends the rounded aggregate errors under name, keeping
// every other entry of an existing file. The read-modify-write is not
// atomic; concurrent runs on one file can lose updates.
func MergeResults(fsys afero.Fs, path, name string, errs *metrics.ForecastErrors) error {
	res, err := LoadResults(fsys, path)
	if err != nil {
		return err
	}
	rounded := errs.Round(resultDigits)
	res[name] = append(res[name], rounded.MSE, rounded.MAE)

	raw, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "failed to encode results")
	}
	if err := afero.WriteFile(fsys, path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// WriteHorizonPlot draws the per-step MSE and MAE curves as a PNG.
func WriteHorizonPlot(fsys afero.Fs, path, title string, errs *metrics.ForecastErrors) (err error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "forecast step"
	p.Y.Label.Text = "normalised error"

	series := []struct {
		name   string
		values []float64
		color  color.Color
	}{
		{"MSE", errs.StepMSE, color.RGBA{R: 200, A: 255}},
		{"MAE", errs.StepMAE, color.RGBA{B: 200, A: 255}},
	}
	for _, s := range series {
		xys := make(plotter.XYs, len(s.values))
		for i, v := range s.values {
			xys[i].X = float64(i + 1)
			xys[i].Y = v
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to plot %s", s.name)
		}
		line.Color = s.color
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Add(plotter.NewGrid())

	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "failed to render chart")
	}
	f, err := fsys.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer closeFile(f, path, &err)
	if _, err := w.WriteTo(f); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// closeFile closes f and reports its error through err unless err is
// already set.
func closeFile(f io.Closer, path string, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = errors.Wrapf(cerr, "failed to close %s", path)
	}
}
