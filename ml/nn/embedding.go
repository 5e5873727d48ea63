package nn

import "github.com/meshforge/meshgen/ml"

type Embedding struct {
	Weight *ml.Tensor // [vocab, hidden]
}

func (m *Embedding) Forward(tokens []int32) *ml.Tensor {
	return m.Weight.Rows(tokens)
}

// Vocab returns the number of embeddings in the table.
func (m *Embedding) Vocab() int {
	return m.Weight.Dim(0)
}
