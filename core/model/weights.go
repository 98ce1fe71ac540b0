package model

import (
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// Parameter は一つの重みテンソルを表す構造体（シリアライゼーション用）
type Parameter struct {
	// Shape はテンソルの形状
	Shape []int `json:"shape"`

	// Data は行優先で並べた値
	Data []float64 `json:"data"`
}

// NewParameter はスライスのコピーからParameterを作成する
func NewParameter(data []float64, shape ...int) Parameter {
	return Parameter{
		Shape: append([]int(nil), shape...),
		Data:  append([]float64(nil), data...),
	}
}

// Validate は形状と値の数が一致しているかを検証する。空の形状はスカラーを表す
func (p Parameter) Validate(name string) error {
	size := 1
	for _, d := range p.Shape {
		if d <= 0 {
			return errors.NewValidationError(name, "parameter shape must be positive", p.Shape)
		}
		size *= d
	}
	if size != len(p.Data) {
		return errors.NewValidationError(name, "parameter data does not fill its shape", len(p.Data))
	}
	return nil
}

// StateDict はパラメータ名から重みへの写像
// 名前はドット区切りの階層名（例: "encoder.layers.0.self_attn.proj_q.weight"）
type StateDict map[string]Parameter

// Keys はソート済みのパラメータ名を返す
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge は prefix を付けて other の全パラメータを追加する
func (sd StateDict) Merge(prefix string, other StateDict) {
	for k, v := range other {
		sd[prefix+k] = v
	}
}

// Sub は prefix で始まるパラメータを prefix を除いた名前で取り出す
func (sd StateDict) Sub(prefix string) StateDict {
	out := StateDict{}
	for k, v := range sd {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// Assign は name のパラメータを dst にコピーする。形状が一致しない場合はエラー
func (sd StateDict) Assign(name string, dst []float64, shape ...int) error {
	p, ok := sd[name]
	if !ok {
		return errors.NewModelError("LoadStateDict", "missing parameter", errors.Newf("%s", name))
	}
	if err := p.Validate(name); err != nil {
		return err
	}
	if len(p.Shape) != len(shape) {
		return errors.NewInputShapeError("LoadStateDict", name, shape, p.Shape)
	}
	for i := range shape {
		if p.Shape[i] != shape[i] {
			return errors.NewInputShapeError("LoadStateDict", name, shape, p.Shape)
		}
	}
	copy(dst, p.Data)
	return nil
}

// CheckUnexpected は expected に含まれない名前があればエラーを返す
func (sd StateDict) CheckUnexpected(expected StateDict) error {
	var extra []string
	for _, k := range sd.Keys() {
		if _, ok := expected[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		return errors.NewModelError("LoadStateDict", "unexpected parameters",
			errors.Newf("%s", strings.Join(extra, ", ")))
	}
	return nil
}

// Equal は二つのStateDictが同じ名前・形状・ビット単位で同じ値を持つかを返す
func (sd StateDict) Equal(other StateDict) bool {
	if len(sd) != len(other) {
		return false
	}
	for k, p := range sd {
		q, ok := other[k]
		if !ok || len(p.Shape) != len(q.Shape) || len(p.Data) != len(q.Data) {
			return false
		}
		for i := range p.Shape {
			if p.Shape[i] != q.Shape[i] {
				return false
			}
		}
		for i := range p.Data {
			if math.Float64bits(p.Data[i]) != math.Float64bits(q.Data[i]) {
				return false
			}
		}
	}
	return true
}

// Clone はStateDictのディープコピーを作成
func (sd StateDict) Clone() StateDict {
	out := make(StateDict, len(sd))
	for k, p := range sd {
		out[k] = NewParameter(p.Data, p.Shape...)
	}
	return out
}

// NumParams はパラメータの総要素数を返す
func (sd StateDict) NumParams() int {
	n := 0
	for _, p := range sd {
		n += len(p.Data)
	}
	return n
}

// LoadStrict はモジュールの期待するパラメータ名と照合してから読み込む
func LoadStrict(m Module, sd StateDict) error {
	if err := sd.CheckUnexpected(m.StateDict()); err != nil {
		return err
	}
	return m.LoadStateDict(sd)
}
