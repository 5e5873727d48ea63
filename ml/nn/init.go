package nn

import (
	"golang.org/x/exp/rand"

	"github.com/chewxy/math32"
	"github.com/meshforge/meshgen/ml"
)

// glorot fills a [rows, cols] tensor with Glorot-uniform values.
func glorot(rows, cols int, rng *rand.Rand) *ml.Tensor {
	limit := math32.Sqrt(6 / float32(rows+cols))
	t := ml.Zeros(rows, cols)
	for i := range t.Floats() {
		t.Floats()[i] = (rng.Float32()*2 - 1) * limit
	}
	return t
}

// NewLinear returns a Glorot-initialized projection from in to out
// features, with a zero bias when withBias is set.
func NewLinear(in, out int, withBias bool, rng *rand.Rand) *Linear {
	m := &Linear{Weight: glorot(in, out, rng)}
	if withBias {
		m.Bias = ml.Zeros(out)
	}
	return m
}

// NewEmbedding returns a Glorot-initialized embedding table.
func NewEmbedding(vocab, hidden int, rng *rand.Rand) *Embedding {
	return &Embedding{Weight: glorot(vocab, hidden, rng)}
}

// NewLayerNorm returns a layer norm with unit weight and zero bias.
func NewLayerNorm(hidden int) *LayerNorm {
	weight := ml.Zeros(hidden)
	for i := range weight.Floats() {
		weight.Floats()[i] = 1
	}
	return &LayerNorm{Weight: weight, Bias: ml.Zeros(hidden)}
}

// NewFeedForward returns the position-wise block projecting hidden to fc
// and back.
func NewFeedForward(hidden, fc int, rng *rand.Rand) *FeedForward {
	return &FeedForward{
		Up:   NewLinear(hidden, fc, true, rng),
		Down: NewLinear(fc, hidden, true, rng),
	}
}
