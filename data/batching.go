package data

import (
	"fmt"

	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// Batches is ModelData reshaped into fixed-size batches.
//
//	Enc   (nBatches, batchSize, encSteps, nEncoderFeatures)
//	Dec   (nBatches, batchSize, predLen, nDecoderFeatures)
//	YTrue (nBatches, batchSize, predLen, 1)
type Batches struct {
	Enc   *tensor.Tensor
	Dec   *tensor.Tensor
	YTrue *tensor.Tensor
	YID   [][]string
}

// Len returns the number of batches.
func (b *Batches) Len() int {
	return len(b.YID)
}

// Batch returns views of the j-th batch.
func (b *Batches) Batch(j int) (enc, dec, yTrue *tensor.Tensor) {
	return b.Enc.Index(j), b.Dec.Index(j), b.YTrue.Index(j)
}

// Batching groups md into batches of batchSize windows. Trailing windows
// that do not fill a batch are dropped.
func Batching(batchSize int, md *ModelData) (*Batches, error) {
	if batchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", "must be positive", batchSize)
	}
	nBatches := md.Len() / batchSize
	if nBatches == 0 {
		return nil, errors.NewValidationError("batch_size",
			fmt.Sprintf("larger than the number of windows (%d)", md.Len()), batchSize)
	}
	keep := nBatches * batchSize
	group := func(t *tensor.Tensor) *tensor.Tensor {
		shape := t.Shape()
		per := t.Size() / shape[0]
		return tensor.FromSlice(t.Data()[:keep*per], append([]int{nBatches, batchSize}, shape[1:]...)...)
	}
	b := &Batches{
		Enc:   group(md.Enc),
		Dec:   group(md.Dec),
		YTrue: group(md.YTrue),
		YID:   make([][]string, nBatches),
	}
	for j := range b.YID {
		b.YID[j] = append([]string(nil), md.YID[j*batchSize:(j+1)*batchSize]...)
	}
	return b, nil
}
