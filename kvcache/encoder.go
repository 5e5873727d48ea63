package kvcache

import (
	"github.com/meshforge/meshgen/ml"
)

// Encoder stores K and V tensors that are position independent: the
// projected encoder memory a decoder cross-attends to. The projections
// are computed once per sampling call and returned as stored on every
// subsequent step.
type Encoder struct {
	// the active layer for Get and Put
	curLayer int

	keys, values []*ml.Tensor
}

func NewEncoderCache() *Encoder {
	return &Encoder{}
}

func (c *Encoder) SetLayer(layer int) {
	if layer >= len(c.keys) {
		c.keys = append(c.keys, make([]*ml.Tensor, layer-len(c.keys)+1)...)
		c.values = append(c.values, make([]*ml.Tensor, layer-len(c.values)+1)...)
	}

	c.curLayer = layer
}

// EncoderCached reports whether the active layer's projections are
// already stored. It is per layer: during the first decode step earlier
// layers fill the cache before later layers have run.
func (c *Encoder) EncoderCached() bool {
	return c.curLayer < len(c.keys) && c.keys[c.curLayer] != nil
}

func (c *Encoder) Put(key, value *ml.Tensor) {
	c.keys[c.curLayer] = key
	c.values[c.curLayer] = value
}

func (c *Encoder) Get() (*ml.Tensor, *ml.Tensor) {
	return c.keys[c.curLayer], c.values[c.curLayer]
}

func (c *Encoder) Reset() {
	c.keys = nil
	c.values = nil
	c.curLayer = 0
}
