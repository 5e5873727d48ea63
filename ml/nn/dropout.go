package nn

import (
	"golang.org/x/exp/rand"

	"github.com/meshforge/meshgen/ml"
)

// Dropout zeroes activations with probability Rate during training,
// scaling the survivors so the expected activation is unchanged. With a
// nil rng (inference) or zero rate it is the identity.
type Dropout struct {
	Rate float32
}

func (m *Dropout) Forward(t *ml.Tensor, rng *rand.Rand) *ml.Tensor {
	if m.Rate <= 0 || rng == nil {
		return t
	}

	out := t.Clone()
	scale := 1 / (1 - m.Rate)
	for i, v := range out.Floats() {
		if rng.Float32() < m.Rate {
			out.Floats()[i] = 0
		} else {
			out.Floats()[i] = v * scale
		}
	}
	return out
}
