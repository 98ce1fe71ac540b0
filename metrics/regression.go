// Package metrics は予測誤差の評価指標を提供します。
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MSE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MSE", n, yPred.Len(), 0)
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// MAE は平均絶対誤差（Mean Absolute Error）を計算する
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MAE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MAE", n, yPred.Len(), 0)
	}

	// MAE = (1/n) * Σ|yTrue - yPred|
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// MeanAbs は真値の平均絶対値（正規化係数）を計算する
func MeanAbs(y mat.Matrix) float64 {
	r, c := y.Dims()
	abs := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			abs = append(abs, math.Abs(y.At(i, j)))
		}
	}
	return stat.Mean(abs, nil)
}

// ForecastErrors は予測ホライズン全体とステップごとの正規化誤差です。
// 行列の行はサンプル（ウィンドウ）、列は予測ステップに対応します。
type ForecastErrors struct {
	// Normaliser は真値の平均絶対値。0 の場合は 1 として扱う
	Normaliser float64

	MSE float64
	MAE float64

	StepMSE []float64
	StepMAE []float64
}

// Steps はステップ数を返す
func (e *ForecastErrors) Steps() int {
	return len(e.StepMSE)
}

// Round は全ての値を小数点以下 digits 桁に丸めたコピーを返す
func (e *ForecastErrors) Round(digits int) *ForecastErrors {
	out := &ForecastErrors{
		Normaliser: e.Normaliser,
		MSE:        scalar.Round(e.MSE, digits),
		MAE:        scalar.Round(e.MAE, digits),
		StepMSE:    make([]float64, len(e.StepMSE)),
		StepMAE:    make([]float64, len(e.StepMAE)),
	}
	for i := range e.StepMSE {
		out.StepMSE[i] = scalar.Round(e.StepMSE[i], digits)
		out.StepMAE[i] = scalar.Round(e.StepMAE[i], digits)
	}
	return out
}

// NormalisedForecastErrors は (サンプル × ステップ) の予測と真値から
// 平均絶対値で正規化した MSE/MAE を計算する。
// 真値が全て 0 の場合は UndefinedMetricWarning を発生させ、正規化せずに返す。
func NormalisedForecastErrors(yTrue, yPred mat.Matrix) (*ForecastErrors, error) {
	const op = "NormalisedForecastErrors"
	r, c := yTrue.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	pr, pc := yPred.Dims()
	if pr != r {
		return nil, errors.NewDimensionError(op, r, pr, 0)
	}
	if pc != c {
		return nil, errors.NewDimensionError(op, c, pc, 1)
	}

	norm := MeanAbs(yTrue)
	if norm == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("normalised error", "mean absolute ground truth is zero", 1))
		norm = 1
	}

	res := &ForecastErrors{
		Normaliser: norm,
		StepMSE:    make([]float64, c),
		StepMAE:    make([]float64, c),
	}
	for j := 0; j < c; j++ {
		trueCol := mat.NewVecDense(r, mat.Col(nil, j, yTrue))
		predCol := mat.NewVecDense(r, mat.Col(nil, j, yPred))
		mse, err := MSE(trueCol, predCol)
		if err != nil {
			return nil, err
		}
		mae, err := MAE(trueCol, predCol)
		if err != nil {
			return nil, err
		}
		res.StepMSE[j] = mse / norm
		res.StepMAE[j] = mae / norm
	}
	// 各ステップのサンプル数は等しいため、全体の誤差はステップ平均に一致する
	res.MSE = stat.Mean(res.StepMSE, nil)
	res.MAE = stat.Mean(res.StepMAE, nil)

	if err := errors.CheckNumericalStability(op, res.StepMSE); err != nil {
		return nil, err
	}
	return res, nil
}
