package model

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/meshforge/meshgen/kvcache"
	"github.com/meshforge/meshgen/ml"
	"github.com/meshforge/meshgen/ml/nn"
)

const normEps = 1e-5

type SelfAttention struct {
	Query  *nn.Linear
	Key    *nn.Linear
	Value  *nn.Linear
	Output *nn.Linear
}

func (sa *SelfAttention) Forward(x *ml.Tensor, numHeads int, mask *ml.Tensor, cache kvcache.Cache) *ml.Tensor {
	q := sa.Query.Forward(x)
	k := sa.Key.Forward(x)
	v := sa.Value.Forward(x)

	return sa.Output.Forward(nn.Attention(q, k, v, numHeads, mask, cache))
}

type CrossAttention struct {
	Query  *nn.Linear
	Key    *nn.Linear
	Value  *nn.Linear
	Output *nn.Linear
}

// Forward attends from x to the encoder memory. With a cache, the memory
// projections are computed on the first call and reused afterwards.
func (ca *CrossAttention) Forward(x, memory *ml.Tensor, numHeads int, cache *kvcache.Encoder) *ml.Tensor {
	q := ca.Query.Forward(x)

	if cache != nil && cache.EncoderCached() {
		return ca.Output.Forward(nn.Attention(q, nil, nil, numHeads, nil, cache))
	}

	k := ca.Key.Forward(memory)
	v := ca.Value.Forward(memory)

	var c kvcache.Cache
	if cache != nil {
		c = cache
	}
	return ca.Output.Forward(nn.Attention(q, k, v, numHeads, nil, c))
}

type Layer struct {
	AttentionNorm  *nn.LayerNorm
	SelfAttention  *SelfAttention
	CrossNorm      *nn.LayerNorm
	CrossAttention *CrossAttention
	MLPNorm        *nn.LayerNorm
	MLP            *nn.FeedForward
	Dropout        *nn.Dropout
}

func (l *Layer) Forward(x, memory *ml.Tensor, numHeads int, mask *ml.Tensor, cache kvcache.Cache, crossCache *kvcache.Encoder, rng *rand.Rand) *ml.Tensor {
	residual := x

	x = l.AttentionNorm.Forward(x, normEps)
	x = l.SelfAttention.Forward(x, numHeads, mask, cache)
	x = l.Dropout.Forward(x, rng)
	x = x.Add(residual)

	if l.CrossAttention != nil && (memory != nil || (crossCache != nil && crossCache.EncoderCached())) {
		residual = x
		x = l.CrossNorm.Forward(x, normEps)
		x = l.CrossAttention.Forward(x, memory, numHeads, crossCache)
		x = l.Dropout.Forward(x, rng)
		x = x.Add(residual)
	}

	residual = x
	x = l.MLPNorm.Forward(x, normEps)
	x = l.MLP.Forward(x)
	x = l.Dropout.Forward(x, rng)
	return x.Add(residual)
}

// Decoder is the shared sequence core: stacked self-attention blocks with
// optional per-block cross-attention over an external encoder's output.
// It maps input embeddings to hidden states; callers project those to
// whatever vocabulary they model. Training (teacher forcing with a causal
// mask) and incremental decoding (one token with a kv cache) share the
// same weights and produce the same activations.
type Decoder struct {
	Layers     []Layer
	OutputNorm *nn.LayerNorm

	numHeads int
}

// NewDecoder builds a randomly initialized decoder stack. When
// crossAttention is set every block gains a cross-attention sublayer.
// An invalid shape panics here rather than deep inside attention.
func NewDecoder(cfg DecoderConfig, crossAttention bool, rng *rand.Rand) *Decoder {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("model: %w", err))
	}

	newAttn := func() (q, k, v, o *nn.Linear) {
		return nn.NewLinear(cfg.HiddenSize, cfg.HiddenSize, false, rng),
			nn.NewLinear(cfg.HiddenSize, cfg.HiddenSize, false, rng),
			nn.NewLinear(cfg.HiddenSize, cfg.HiddenSize, false, rng),
			nn.NewLinear(cfg.HiddenSize, cfg.HiddenSize, false, rng)
	}

	layers := make([]Layer, cfg.NumLayers)
	for i := range layers {
		q, k, v, o := newAttn()
		layers[i] = Layer{
			AttentionNorm: nn.NewLayerNorm(cfg.HiddenSize),
			SelfAttention: &SelfAttention{Query: q, Key: k, Value: v, Output: o},
			MLPNorm:       nn.NewLayerNorm(cfg.HiddenSize),
			MLP:           nn.NewFeedForward(cfg.HiddenSize, cfg.FCSize, rng),
			Dropout:       &nn.Dropout{Rate: cfg.DropoutRate},
		}
		if crossAttention {
			cq, ck, cv, co := newAttn()
			layers[i].CrossNorm = nn.NewLayerNorm(cfg.HiddenSize)
			layers[i].CrossAttention = &CrossAttention{Query: cq, Key: ck, Value: cv, Output: co}
		}
	}

	return &Decoder{
		Layers:     layers,
		OutputNorm: nn.NewLayerNorm(cfg.HiddenSize),
		numHeads:   cfg.NumHeads,
	}
}

// Forward runs the stack over input embeddings x [seq, hidden].
//
//   - memory: encoder output for cross-attention, nil without it
//   - mask: additive attention mask; CausalMask(seq) for teacher forcing,
//     nil when decoding one token against a cache (or for a non-causal
//     encoder stack)
//   - cache/crossCache: incremental decoding state, nil during training
//   - rng: dropout stream; nil disables dropout (inference)
func (d *Decoder) Forward(x, memory, mask *ml.Tensor, cache *kvcache.Causal, crossCache *kvcache.Encoder, rng *rand.Rand) *ml.Tensor {
	for i := range d.Layers {
		var layerCache kvcache.Cache
		if cache != nil {
			cache.SetLayer(i)
			layerCache = cache
		}
		if crossCache != nil {
			crossCache.SetLayer(i)
		}
		x = d.Layers[i].Forward(x, memory, d.numHeads, mask, layerCache, crossCache, rng)
	}

	return d.OutputNorm.Forward(x, normEps)
}
