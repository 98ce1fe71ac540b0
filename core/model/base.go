package model

// Mode はモジュールの実行モードを表す
type Mode int

const (
	// Training は学習モード（BatchNormはバッチ統計を使い、移動平均を更新する）
	Training Mode = iota
	// Evaluation は推論モード（BatchNormは移動平均を使う）
	Evaluation
)

// String はモードの文字列表現を返す
func (m Mode) String() string {
	if m == Evaluation {
		return "eval"
	}
	return "train"
}

// Base は全てのモジュールの基底となる構造体
// 新しく構築されたモジュールは学習モードで始まる
type Base struct {
	mode Mode
}

// IsTraining はモジュールが学習モードかどうかを返す
func (b *Base) IsTraining() bool {
	return b.mode == Training
}

// Mode は現在のモードを返す
func (b *Base) Mode() Mode {
	return b.mode
}

// SetMode はモードを設定する
func (b *Base) SetMode(m Mode) {
	b.mode = m
}
