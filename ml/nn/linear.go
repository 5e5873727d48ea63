package nn

import "github.com/meshforge/meshgen/ml"

type Linear struct {
	Weight *ml.Tensor // [in, out]
	Bias   *ml.Tensor // [out], may be nil
}

func (m *Linear) Forward(t *ml.Tensor) *ml.Tensor {
	t = t.Mulmat(m.Weight)
	if m.Bias != nil {
		t = t.Add(m.Bias)
	}

	return t
}

// FeedForward is the position-wise two-layer block of a Transformer
// layer: Up projects to the wider fc size, GELU, Down projects back.
type FeedForward struct {
	Up   *Linear
	Down *Linear
}

func (m *FeedForward) Forward(t *ml.Tensor) *ml.Tensor {
	return m.Down.Forward(m.Up.Forward(t).GELU())
}
