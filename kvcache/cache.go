// Package kvcache holds decoder activations across incremental decoding
// steps so each step only runs attention math for the newest token. A
// cache is exclusively owned by one in-flight sampling call; it is never
// shared between concurrent calls.
package kvcache

import (
	"github.com/meshforge/meshgen/ml"
)

type Cache interface {
	// SetLayer sets the active layer for subsequent Put and Get calls.
	SetLayer(layer int)

	// Put stores key/value tensors for the active layer.
	Put(key, value *ml.Tensor)

	// Get returns the accumulated key/value tensors for the active layer.
	Get() (*ml.Tensor, *ml.Tensor)
}
