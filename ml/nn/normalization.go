package nn

import (
	"github.com/meshforge/meshgen/ml"
)

type LayerNorm struct {
	Weight *ml.Tensor
	Bias   *ml.Tensor
}

func (m *LayerNorm) Forward(t *ml.Tensor, eps float32) *ml.Tensor {
	return t.LayerNorm(m.Weight, m.Bias, eps)
}
