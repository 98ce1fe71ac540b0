package model

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// Checkpoint は永続化された学習済みモデル
type Checkpoint struct {
	// ModelStateDict はパラメータ名から重みへの写像
	ModelStateDict StateDict `json:"model_state_dict"`

	// Metadata は追加情報（実験名、シード、ハイパーパラメータ等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewCheckpoint はモジュールの現在の重みからCheckpointを作成する
func NewCheckpoint(m Module, metadata map[string]interface{}) *Checkpoint {
	return &Checkpoint{ModelStateDict: m.StateDict(), Metadata: metadata}
}

// SaveCheckpoint はCheckpointをファイルに保存する。親ディレクトリは作成される
//
// 使用例:
//
//	ckpt := model.NewCheckpoint(net, nil)
//	err := model.SaveCheckpoint(afero.NewOsFs(), "models_covid_24/kittycat_4293", ckpt)
func SaveCheckpoint(fs afero.Fs, filename string, ckpt *Checkpoint) (err error) {
	if dir := filepath.Dir(filename); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
		}
	}
	file, err := fs.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint %s", filename)
	}
	defer func() {
		// 書き込みエラーを優先する
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close checkpoint %s", filename)
		}
	}()

	return SaveCheckpointToWriter(ckpt, file)
}

// LoadCheckpoint はファイルからCheckpointを読み込む
// ファイルが存在しない場合、errors.Is(err, fs.ErrNotExist) が真になる
func LoadCheckpoint(fs afero.Fs, filename string) (*Checkpoint, error) {
	file, err := fs.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", filename)
	}
	defer file.Close()

	ckpt, err := LoadCheckpointFromReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", filename)
	}
	return ckpt, nil
}

// SaveCheckpointToWriter はCheckpointをio.Writerに保存する
func SaveCheckpointToWriter(ckpt *Checkpoint, w io.Writer) error {
	if err := json.NewEncoder(w).Encode(ckpt); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

// LoadCheckpointFromReader はio.ReaderからCheckpointを読み込む
func LoadCheckpointFromReader(r io.Reader) (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := json.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	if ckpt.ModelStateDict == nil {
		return nil, errors.NewValueError("LoadCheckpoint", "checkpoint has no model_state_dict")
	}
	for _, name := range ckpt.ModelStateDict.Keys() {
		if err := ckpt.ModelStateDict[name].Validate(name); err != nil {
			return nil, err
		}
	}
	return &ckpt, nil
}
