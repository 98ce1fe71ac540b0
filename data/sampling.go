package data

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
)

// ModelData holds N sampled windows.
//
//	Enc   (N, encSteps, nEncoderFeatures)
//	Dec   (N, predLen, nDecoderFeatures)
//	YTrue (N, predLen, 1)
//	YID   N entity ids
type ModelData struct {
	Enc   *tensor.Tensor
	Dec   *tensor.Tensor
	YTrue *tensor.Tensor
	YID   []string
}

// Len returns the number of windows.
func (m *ModelData) Len() int {
	return len(m.YID)
}

// EncoderColumns returns the encoder feature names: the target followed by
// observed, known and static inputs, each name once.
func EncoderColumns(schema ColumnDefinitions) []string {
	return dedupe(schema.Names(Target), schema.Names(ObservedInput), schema.Names(KnownInput), schema.Names(StaticInput))
}

// DecoderColumns returns the decoder feature names: the known inputs.
func DecoderColumns(schema ColumnDefinitions) []string {
	return dedupe(schema.Names(KnownInput))
}

func dedupe(groups ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, n := range g {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// WindowStarts returns the first row of every window of totalSteps
// consecutive rows that stays within one entity.
func WindowStarts(f *Frame, totalSteps int) []int {
	var starts []int
	for begin := 0; begin < f.Len(); {
		end := begin
		for end < f.Len() && f.IDs[end] == f.IDs[begin] {
			end++
		}
		for s := begin; s+totalSteps <= end; s++ {
			starts = append(starts, s)
		}
		begin = end
	}
	return starts
}

// windowSpec validates the step counts and resolves feature columns.
type windowSpec struct {
	totalSteps, encSteps, predLen int
	enc, dec                      [][]float64
	target                        []float64
}

func newWindowSpec(f *Frame, totalSteps, encSteps, predLen int) (*windowSpec, error) {
	if encSteps <= 0 || predLen <= 0 || encSteps+predLen != totalSteps {
		return nil, errors.NewValidationError("total_time_steps",
			fmt.Sprintf("must equal num_encoder_steps (%d) + pred_len (%d)", encSteps, predLen), totalSteps)
	}
	ws := &windowSpec{totalSteps: totalSteps, encSteps: encSteps, predLen: predLen}
	lookup := func(names []string) ([][]float64, error) {
		cols := make([][]float64, len(names))
		for i, n := range names {
			c, ok := f.Column(n)
			if !ok {
				return nil, errors.NewValidationError("column", "not present in formatted frame", n)
			}
			cols[i] = c
		}
		return cols, nil
	}
	var err error
	if ws.enc, err = lookup(EncoderColumns(f.Schema)); err != nil {
		return nil, err
	}
	if ws.dec, err = lookup(DecoderColumns(f.Schema)); err != nil {
		return nil, err
	}
	if len(ws.dec) == 0 {
		return nil, errors.NewValidationError("column_definition", "at least one KNOWN_INPUT is required for the decoder", 0)
	}
	targetName, _ := f.Schema.Column(Target)
	ws.target, _ = f.Column(targetName)
	return ws, nil
}

func (s *windowSpec) build(f *Frame, starts []int) *ModelData {
	n := len(starts)
	nEnc, nDec := len(s.enc), len(s.dec)
	md := &ModelData{
		Enc:   tensor.New(n, s.encSteps, nEnc),
		Dec:   tensor.New(n, s.predLen, nDec),
		YTrue: tensor.New(n, s.predLen, 1),
		YID:   make([]string, n),
	}
	enc, dec, y := md.Enc.Data(), md.Dec.Data(), md.YTrue.Data()
	for w, start := range starts {
		md.YID[w] = f.IDs[start]
		for t := 0; t < s.encSteps; t++ {
			for j, col := range s.enc {
				enc[(w*s.encSteps+t)*nEnc+j] = col[start+t]
			}
		}
		for t := 0; t < s.predLen; t++ {
			row := start + s.encSteps + t
			for j, col := range s.dec {
				dec[(w*s.predLen+t)*nDec+j] = col[row]
			}
			y[w*s.predLen+t] = s.target[row]
		}
	}
	return md
}

// subsample keeps at most maxSamples of starts, chosen uniformly without
// replacement, in their original order. maxSamples <= 0 keeps all.
func subsample(starts []int, maxSamples int, rng *rand.Rand) []int {
	if maxSamples <= 0 || len(starts) <= maxSamples {
		return starts
	}
	picked := rng.Perm(len(starts))[:maxSamples]
	sort.Ints(picked)
	out := make([]int, maxSamples)
	for i, p := range picked {
		out[i] = starts[p]
	}
	return out
}

// BatchSampled extracts every window of totalSteps rows from f (or a seeded
// random subset of maxSamples windows) as encoder/decoder tensors.
func BatchSampled(f *Frame, maxSamples, totalSteps, encSteps, predLen int, rng *rand.Rand) (*ModelData, error) {
	ws, err := newWindowSpec(f, totalSteps, encSteps, predLen)
	if err != nil {
		return nil, err
	}
	starts := subsample(WindowStarts(f, totalSteps), maxSamples, rng)
	if len(starts) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "no window of %d steps fits any entity", totalSteps)
	}
	return ws.build(f, starts), nil
}

// SampleSplit orders all windows chronologically by the time of their first
// forecast step and assigns the first trainFraction of them to train and
// the remainder in equal halves to valid and test. Train and valid are
// capped at maxTrain and maxValid windows by seeded subsampling.
func SampleSplit(f *Frame, trainFraction float64, maxTrain, maxValid, totalSteps, encSteps, predLen int, rng *rand.Rand) (train, valid, test *ModelData, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, nil, errors.NewValidationError("train_fraction", "must be in (0, 1)", trainFraction)
	}
	ws, err := newWindowSpec(f, totalSteps, encSteps, predLen)
	if err != nil {
		return nil, nil, nil, err
	}
	starts := WindowStarts(f, totalSteps)
	sort.SliceStable(starts, func(i, j int) bool {
		return f.Time[starts[i]+encSteps] < f.Time[starts[j]+encSteps]
	})

	nTrain := int(trainFraction * float64(len(starts)))
	nValid := (len(starts) - nTrain) / 2
	parts := [][]int{
		subsample(starts[:nTrain], maxTrain, rng),
		subsample(starts[nTrain:nTrain+nValid], maxValid, rng),
		starts[nTrain+nValid:],
	}
	out := make([]*ModelData, 3)
	for i, name := range []string{"train", "valid", "test"} {
		if len(parts[i]) == 0 {
			return nil, nil, nil, errors.Wrapf(errors.ErrEmptyData, "no %s windows of %d steps", name, totalSteps)
		}
		out[i] = ws.build(f, parts[i])
		log.GetLoggerWithName("data.sampling").Debug("sampled windows",
			log.PartitionKey, name,
			log.SamplesKey, len(parts[i]),
		)
	}
	return out[0], out[1], out[2], nil
}
