// Package preprocessing provides the feature scaling applied by the data
// formatters before windows are sampled.
package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/kittycat/core"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// StandardScaler は列ごとに平均0、標準偏差1に変換するスケーラー
// 標準偏差は母分散（n で割る）から計算する
type StandardScaler struct {
	core.BaseEstimator

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// NFeatures は特徴量の数
	NFeatures int

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

var _ core.InverseTransformer = (*StandardScaler)(nil)

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
// NaN は統計から除外する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	for j := 0; j < c; j++ {
		var sum float64
		var n int
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			return errors.NewValueError("StandardScaler.Fit", fmt.Sprintf("column %d has no finite values", j))
		}
		if s.WithMean {
			s.Mean[j] = sum / float64(n)
		}

		s.Scale[j] = 1.0
		if s.WithStd {
			mean := sum / float64(n)
			var sumSquares float64
			for i := 0; i < r; i++ {
				if v := X.At(i, j); !math.IsNaN(v) {
					diff := v - mean
					sumSquares += diff * diff
				}
			}
			// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
			if std := math.Sqrt(sumSquares / float64(n)); std >= 1e-8 {
				s.Scale[j] = std
			}
		}
	}

	s.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("Transform", X, func(v float64, j int) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("InverseTransform", X, func(v float64, j int) float64 {
		return v*s.Scale[j] + s.Mean[j]
	})
}

func (s *StandardScaler) apply(method string, X mat.Matrix, fn func(v float64, j int) float64) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", method)
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler."+method, s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, fn(X.At(i, j), j))
		}
	}
	return result, nil
}

// TransformColumn は列 j の値のスライスだけを標準化する
func (s *StandardScaler) TransformColumn(j int, values []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "TransformColumn")
	}
	if j < 0 || j >= s.NFeatures {
		return nil, errors.NewValidationError("column", "column index out of range", j)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// InverseTransformColumn は列 j の標準化された値を元のスケールに戻す
func (s *StandardScaler) InverseTransformColumn(j int, values []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "InverseTransformColumn")
	}
	if j < 0 || j >= s.NFeatures {
		return nil, errors.NewValidationError("column", "column index out of range", j)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*s.Scale[j] + s.Mean[j]
	}
	return out, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures)
}

// LabelEncoder はカテゴリ値を辞書順の整数に変換する
type LabelEncoder struct {
	core.BaseEstimator

	// Classes はソート済みのカテゴリ値
	Classes []string

	index map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// FitLabels はカテゴリ値の集合を学習する
func (e *LabelEncoder) FitLabels(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	e.Classes = make([]string, 0, len(seen))
	for v := range seen {
		e.Classes = append(e.Classes, v)
	}
	sort.Strings(e.Classes)
	e.index = make(map[string]int, len(e.Classes))
	for i, v := range e.Classes {
		e.index[v] = i
	}
	e.SetFitted()
	return nil
}

// TransformLabels はカテゴリ値を整数に変換する。未知の値はエラー
func (e *LabelEncoder) TransformLabels(values []string) ([]float64, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "TransformLabels")
	}
	out := make([]float64, len(values))
	for i, v := range values {
		code, ok := e.index[v]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.TransformLabels", fmt.Sprintf("unseen label %q", v))
		}
		out[i] = float64(code)
	}
	return out, nil
}
