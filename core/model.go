// Package core holds the small interfaces shared by fitted preprocessing
// components.
package core

import "gonum.org/v1/gonum/mat"

// Fitter は学習データから統計量を推定するコンポーネントのインターフェース
type Fitter interface {
	// Fit は列ごとの統計量を学習する
	Fit(X mat.Matrix) error
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	Fitter

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// InverseTransformer は変換を元のスケールに戻せるコンポーネント
type InverseTransformer interface {
	Transformer

	// InverseTransform は変換前のスケールに戻す
	InverseTransform(X mat.Matrix) (mat.Matrix, error)
}

// EstimatorState はコンポーネントの学習状態を表す
type EstimatorState int

const (
	// NotFitted は未学習の状態
	NotFitted EstimatorState = iota
	// Fitted は学習済みの状態
	Fitted
)

// BaseEstimator は学習状態を持つ全てのコンポーネントの基底となる構造体
type BaseEstimator struct {
	state EstimatorState
}

// IsFitted は学習済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.state == Fitted
}

// SetFitted は学習済み状態に設定する
func (e *BaseEstimator) SetFitted() {
	e.state = Fitted
}

// Reset は初期状態にリセットする
func (e *BaseEstimator) Reset() {
	e.state = NotFitted
}
