// Package transformer implements the encoder-decoder forecaster evaluated
// with the attention mechanisms of package attention.
//
// Encoder and decoder features are embedded with a Linear layer and
// sinusoidal positions, passed through NLayers encoder and decoder layers
// and projected to one value per forecast step.
package transformer

import (
	"fmt"
	"strconv"

	"github.com/YuminosukeSato/kittycat/attention"
	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
)

// Config describes a forecaster. Two forecasters built from equal configs
// have bit-identical initial weights.
type Config struct {
	SrcInputSize int
	TgtInputSize int
	PredLen      int
	DModel       int
	DFF          int
	DK           int
	DV           int
	Heads        int
	NLayers      int
	AttnType     attention.Kind
	Kernel       int
	Seed         int64
	Device       nn.Device
}

// Validate checks that every size is positive.
func (c Config) Validate() error {
	sizes := []struct {
		name string
		v    int
	}{
		{"src_input_size", c.SrcInputSize},
		{"tgt_input_size", c.TgtInputSize},
		{"pred_len", c.PredLen},
		{"d_model", c.DModel},
		{"d_ff", c.DFF},
		{"d_k", c.DK},
		{"d_v", c.DV},
		{"n_heads", c.Heads},
		{"n_layers", c.NLayers},
	}
	for _, s := range sizes {
		if s.v <= 0 {
			return errors.NewValidationError(s.name, "must be positive", s.v)
		}
	}
	return nil
}

// GetParams returns the configuration with conventional parameter names.
func (c Config) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"src_input_size": c.SrcInputSize,
		"tgt_input_size": c.TgtInputSize,
		"pred_len":       c.PredLen,
		"d_model":        c.DModel,
		"d_ff":           c.DFF,
		"d_k":            c.DK,
		"d_v":            c.DV,
		"n_heads":        c.Heads,
		"n_layers":       c.NLayers,
		"attn_type":      string(c.AttnType),
		"kernel":         c.Kernel,
		"seed":           c.Seed,
	}
}

// Transformer is the encoder-decoder forecaster.
type Transformer struct {
	model.Base

	cfg    Config
	logger log.Logger

	EncEmbedding *nn.Linear
	DecEmbedding *nn.Linear
	Encoder      []*EncoderLayer
	Decoder      []*DecoderLayer
	Projection   *nn.Linear
}

var _ model.Module = (*Transformer)(nil)

// New builds a forecaster with every parameter drawn from a generator
// seeded with cfg.Seed.
func New(cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Device.Kind == "" {
		cfg.Device = nn.CPU
	}
	src := nn.NewSource(cfg.Seed)
	logger := log.GetLoggerWithName("transformer")

	newMHA := func() (*MultiHeadAttention, error) {
		mech, err := attention.New(cfg.AttnType, attention.Config{
			DK:     cfg.DK,
			Heads:  cfg.Heads,
			Kernel: cfg.Kernel,
			Seed:   int64(src.Uint64() >> 1),
			Device: cfg.Device,
		})
		if err != nil {
			return nil, err
		}
		return newMultiHeadAttention(cfg.DModel, cfg.DK, cfg.DV, cfg.Heads, mech, src), nil
	}

	t := &Transformer{
		cfg:          cfg,
		logger:       logger,
		EncEmbedding: nn.NewLinear(cfg.SrcInputSize, cfg.DModel, true, src),
		DecEmbedding: nn.NewLinear(cfg.TgtInputSize, cfg.DModel, true, src),
	}
	for i := 0; i < cfg.NLayers; i++ {
		self, err := newMHA()
		if err != nil {
			return nil, err
		}
		t.Encoder = append(t.Encoder, &EncoderLayer{
			SelfAttn: self,
			FFN:      newPoswiseFeedForward(cfg.DModel, cfg.DFF, src),
			Norm1:    nn.NewLayerNorm(cfg.DModel),
			Norm2:    nn.NewLayerNorm(cfg.DModel),
		})
	}
	for i := 0; i < cfg.NLayers; i++ {
		self, err := newMHA()
		if err != nil {
			return nil, err
		}
		cross, err := newMHA()
		if err != nil {
			return nil, err
		}
		t.Decoder = append(t.Decoder, &DecoderLayer{
			SelfAttn:  self,
			CrossAttn: cross,
			FFN:       newPoswiseFeedForward(cfg.DModel, cfg.DFF, src),
			Norm1:     nn.NewLayerNorm(cfg.DModel),
			Norm2:     nn.NewLayerNorm(cfg.DModel),
			Norm3:     nn.NewLayerNorm(cfg.DModel),
		})
	}
	t.Projection = nn.NewLinear(cfg.DModel, 1, true, src)

	logger.Debug("transformer built",
		log.AttnTypeKey, string(cfg.AttnType),
		log.StackSizeKey, cfg.NLayers,
		log.DModelKey, cfg.DModel,
		log.KernelKey, cfg.Kernel,
		log.RandomSeedKey, cfg.Seed,
		"params", t.StateDict().NumParams(),
	)
	return t, nil
}

// Config returns the construction parameters.
func (t *Transformer) Config() Config {
	return t.cfg
}

// SetMode switches every layer between training and evaluation.
func (t *Transformer) SetMode(mode model.Mode) {
	t.Base.SetMode(mode)
	for _, l := range t.Encoder {
		l.SetMode(mode)
	}
	for _, l := range t.Decoder {
		l.SetMode(mode)
	}
}

// Forward maps encoder inputs (B, Le, SrcInputSize) and decoder inputs
// (B, Ld, TgtInputSize), Ld >= PredLen, to forecasts (B, PredLen, 1) for
// the last PredLen decoder positions.
func (t *Transformer) Forward(enc, dec *tensor.Tensor) (out *tensor.Tensor, err error) {
	const op = "Transformer.Forward"
	if enc == nil || dec == nil {
		return nil, errors.NewValueError(op, "encoder and decoder inputs are required")
	}
	if enc.Dims() != 3 {
		return nil, errors.NewDimensionError(op, 3, enc.Dims(), 0)
	}
	if dec.Dims() != 3 {
		return nil, errors.NewDimensionError(op, 3, dec.Dims(), 0)
	}
	if enc.Dim(2) != t.cfg.SrcInputSize {
		return nil, errors.NewInputShapeError(op, "enc", []int{enc.Dim(0), enc.Dim(1), t.cfg.SrcInputSize}, enc.Shape())
	}
	if dec.Dim(0) != enc.Dim(0) || dec.Dim(2) != t.cfg.TgtInputSize || dec.Dim(1) < t.cfg.PredLen {
		return nil, errors.NewInputShapeError(op, "dec", []int{enc.Dim(0), t.cfg.PredLen, t.cfg.TgtInputSize}, dec.Shape())
	}
	defer errors.Recover(&err, op)

	memory := addPositions(t.EncEmbedding.Forward(enc))
	for i, l := range t.Encoder {
		if memory, err = l.Forward(memory); err != nil {
			return nil, errors.Wrapf(err, "encoder layer %d", i)
		}
	}
	y := addPositions(t.DecEmbedding.Forward(dec))
	for i, l := range t.Decoder {
		if y, err = l.Forward(y, memory); err != nil {
			return nil, errors.Wrapf(err, "decoder layer %d", i)
		}
	}
	out = lastSteps(t.Projection.Forward(y), t.cfg.PredLen)
	if err := errors.CheckNumericalStability(op, out.Data()); err != nil {
		return nil, err
	}
	return out, nil
}

// lastSteps keeps the last n positions of (B, L, D).
func lastSteps(x *tensor.Tensor, n int) *tensor.Tensor {
	b, l, d := x.Dim(0), x.Dim(1), x.Dim(2)
	if l == n {
		return x
	}
	out := tensor.New(b, n, d)
	for i := 0; i < b; i++ {
		copy(out.Index(i).Data(), x.Index(i).Data()[(l-n)*d:])
	}
	return out
}

// StateDict returns every parameter under its conventional name.
func (t *Transformer) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("enc_embedding.", t.EncEmbedding.StateDict())
	sd.Merge("dec_embedding.", t.DecEmbedding.StateDict())
	for i, l := range t.Encoder {
		sd.Merge(layerPrefix("encoder", i), l.StateDict())
	}
	for i, l := range t.Decoder {
		sd.Merge(layerPrefix("decoder", i), l.StateDict())
	}
	sd.Merge("projection.", t.Projection.StateDict())
	return sd
}

// LoadStateDict copies a full state dict into the model. Unexpected,
// missing or mis-shaped parameters are errors.
func (t *Transformer) LoadStateDict(sd model.StateDict) error {
	if err := sd.CheckUnexpected(t.StateDict()); err != nil {
		return err
	}
	children := []child{
		{"enc_embedding.", t.EncEmbedding},
		{"dec_embedding.", t.DecEmbedding},
	}
	for i, l := range t.Encoder {
		children = append(children, child{layerPrefix("encoder", i), l})
	}
	for i, l := range t.Decoder {
		children = append(children, child{layerPrefix("decoder", i), l})
	}
	children = append(children, child{"projection.", t.Projection})
	return loadChildren(sd, children)
}

func layerPrefix(stack string, i int) string {
	return stack + ".layers." + strconv.Itoa(i) + "."
}

// String summarises the architecture.
func (t *Transformer) String() string {
	return fmt.Sprintf("Transformer(attn=%s, layers=%d, d_model=%d, heads=%d, kernel=%d, seed=%d)",
		t.cfg.AttnType, t.cfg.NLayers, t.cfg.DModel, t.cfg.Heads, t.cfg.Kernel, t.cfg.Seed)
}
