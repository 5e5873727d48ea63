package nn

import (
	"fmt"
	"math"

	"github.com/meshforge/meshgen/kvcache"
	"github.com/meshforge/meshgen/ml"
)

// Attention implements multi-head scaled dot-product attention:
// Attention(Q, K, V) = softmax(QK^T/√d_k)V, computed per head.
//
// Parameters:
//   - query: [seq_len_q, hidden]
//   - key, value: [seq_len_k, hidden]; may be nil to read from cache only
//   - numHeads: number of attention heads; hidden must be divisible by it
//   - mask: additive [seq_len_q, seq_len_k] mask (0 visible, -Inf hidden),
//     may be nil when every key position is visible
//   - cache: optional KV cache; when non-nil, key/value are stored in it
//     and the full history is attended to
func Attention(query, key, value *ml.Tensor, numHeads int, mask *ml.Tensor, cache kvcache.Cache) *ml.Tensor {
	if key != nil && value != nil {
		if query.Dim(1) != key.Dim(1) {
			panic(fmt.Errorf("hidden size in attention operation does not match between query(%v) and key(%v)", query.Dim(1), key.Dim(1)))
		}

		if key.Dim(0) != value.Dim(0) {
			panic(fmt.Errorf("seq_len_k in attention operation does not match between key(%v) and value(%v)", key.Dim(0), value.Dim(0)))
		}

		if cache != nil {
			cache.Put(key, value)
		}
	} else if cache == nil {
		panic("key & value tensors must be provided if cache is nil")
	}

	if cache != nil {
		key, value = cache.Get()
	}

	hidden := query.Dim(1)
	if hidden%numHeads != 0 {
		panic(fmt.Errorf("hidden size %d is not divisible by %d heads", hidden, numHeads))
	}
	headDim := hidden / numHeads
	scale := float32(1 / math.Sqrt(float64(headDim)))

	var out *ml.Tensor
	for h := 0; h < numHeads; h++ {
		q := query.Cols(h*headDim, (h+1)*headDim)
		k := key.Cols(h*headDim, (h+1)*headDim)
		v := value.Cols(h*headDim, (h+1)*headDim)

		scores := q.Mulmat(k.Transpose()).Scale(scale)
		if mask != nil {
			scores = scores.Add(mask)
		}
		head := scores.Softmax().Mulmat(v)

		if out == nil {
			out = head
		} else {
			out = out.Concat(head, 1)
		}
	}

	return out
}

// CausalMask returns an additive [n, n] mask where position i can attend
// to positions <= i only.
func CausalMask(n int) *ml.Tensor {
	mask := ml.Zeros(n, n)
	neg := float32(math.Inf(-1))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			mask.Floats()[i*n+j] = neg
		}
	}
	return mask
}
