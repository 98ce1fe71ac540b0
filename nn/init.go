// Package nn implements the layer primitives used by the attention
// mechanisms and the forecaster: Linear, Conv1d, BatchNorm1d, LayerNorm,
// activations and the weight initialisers that construct them
// deterministically from a seed.
//
// Layers follow the usual deep-learning conventions for parameter names
// ("weight", "bias", "running_mean", ...) so checkpoints exported from
// other frameworks load without renaming.
package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// pcgStream is the fixed stream selector for seeded generators.
const pcgStream = 0x9e3779b97f4a7c15

// NewSource returns the generator that initialises one component.
// Two sources built from the same seed yield the same sequence.
func NewSource(seed int64) rand.Source {
	return rand.NewPCG(uint64(seed), pcgStream)
}

// LeakyReLUGain returns √(2 / (1 + slope²)).
func LeakyReLUGain(slope float64) float64 {
	return math.Sqrt(2 / (1 + slope*slope))
}

// UniformFill draws every element of dst from U(-bound, bound).
func UniformFill(dst []float64, bound float64, src rand.Source) {
	d := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range dst {
		dst[i] = d.Rand()
	}
}

// FanInUniformFill is the default initialisation of Linear and Conv1d
// weights and biases: U(-1/√fanIn, 1/√fanIn).
func FanInUniformFill(dst []float64, fanIn int, src rand.Source) {
	UniformFill(dst, 1/math.Sqrt(float64(fanIn)), src)
}

// KaimingNormalFill draws dst from N(0, gain²/fanIn) with the leaky
// rectifier gain for the given negative slope.
func KaimingNormalFill(dst []float64, fanIn int, slope float64, src rand.Source) {
	d := distuv.Normal{Mu: 0, Sigma: LeakyReLUGain(slope) / math.Sqrt(float64(fanIn)), Src: src}
	for i := range dst {
		dst[i] = d.Rand()
	}
}
