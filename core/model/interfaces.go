// Package model provides the parameter containers, execution modes and
// checkpoint persistence shared by every layer and model.
package model

// Module は学習済みパラメータを持つ全てのレイヤーとモデルのインターフェース
type Module interface {
	// StateDict はパラメータ名からテンソルへの写像を返す（コピー）
	StateDict() StateDict

	// LoadStateDict はパラメータを読み込む。欠落・余剰・形状不一致はエラー
	LoadStateDict(sd StateDict) error

	// SetMode は学習モード・推論モードを切り替える（子モジュールにも伝播する）
	SetMode(m Mode)
}

// Eval はモジュールを推論モードにする
func Eval(m Module) {
	m.SetMode(Evaluation)
}

// Train はモジュールを学習モードにする
func Train(m Module) {
	m.SetMode(Training)
}
