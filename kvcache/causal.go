package kvcache

import (
	"github.com/meshforge/meshgen/ml"
)

// Causal stores K and V rows in sequence position order for one decoding
// sequence. Each Put appends the newest positions to the per-layer
// history, so a query for the latest token attends to every position
// stored so far and nothing after it.
type Causal struct {
	// the active layer for Get and Put
	curLayer int

	keys, values []*ml.Tensor
}

func NewCausalCache() *Causal {
	return &Causal{}
}

func (c *Causal) SetLayer(layer int) {
	if layer >= len(c.keys) {
		c.keys = append(c.keys, make([]*ml.Tensor, layer-len(c.keys)+1)...)
		c.values = append(c.values, make([]*ml.Tensor, layer-len(c.values)+1)...)
	}

	c.curLayer = layer
}

func (c *Causal) Put(key, value *ml.Tensor) {
	if c.keys[c.curLayer] == nil {
		c.keys[c.curLayer] = key.Clone()
		c.values[c.curLayer] = value.Clone()
		return
	}

	c.keys[c.curLayer] = c.keys[c.curLayer].Concat(key, 0)
	c.values[c.curLayer] = c.values[c.curLayer].Concat(value, 0)
}

func (c *Causal) Get() (*ml.Tensor, *ml.Tensor) {
	return c.keys[c.curLayer], c.values[c.curLayer]
}

// Len returns the number of positions cached for the first layer, which
// is the number of tokens the decoder has consumed.
func (c *Causal) Len() int {
	if len(c.keys) == 0 || c.keys[0] == nil {
		return 0
	}
	return c.keys[0].Dim(0)
}

// Reset clears all cached activations so the cache can drive a new
// sequence.
func (c *Causal) Reset() {
	c.keys = nil
	c.values = nil
	c.curLayer = 0
}
