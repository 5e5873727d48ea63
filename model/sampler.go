package model

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/meshforge/meshgen/envconfig"
	"github.com/meshforge/meshgen/kvcache"
	"github.com/meshforge/meshgen/logutil"
	"github.com/meshforge/meshgen/sample"
)

// Sequence is the per-batch-element sampling state: the tokens generated
// so far, the completion flag, and the decoder caches for incremental
// decoding. A Sequence belongs to exactly one Generate call.
type Sequence struct {
	Tokens []int32

	// Done is set when the sequence emits the stop sentinel. A sequence
	// that hits the length cap without stopping keeps Done false and is
	// reported as incomplete.
	Done bool

	Cache      *kvcache.Causal
	CrossCache *kvcache.Encoder
}

// NewSequences allocates n sequences with fresh caches. withCross adds a
// cross-attention memory cache to each.
func NewSequences(n int, withCross bool) []*Sequence {
	seqs := make([]*Sequence, n)
	for i := range seqs {
		seqs[i] = &Sequence{Cache: kvcache.NewCausalCache()}
		if withCross {
			seqs[i].CrossCache = kvcache.NewEncoderCache()
		}
	}
	return seqs
}

// StepFunc produces next-token logits for one live sequence from its
// state so far, reusing the sequence's caches for any prefix already
// decoded.
type StepFunc func(seq *Sequence) ([]float32, error)

// SampleOptions control one Generate call.
type SampleOptions struct {
	// MaxSampleLength bounds the generated token count per sequence.
	MaxSampleLength int

	// TopP is the nucleus sampling threshold in (0, 1]; 1 disables
	// truncation.
	TopP float64

	// Seed, when non-nil, makes the token draws deterministic. When nil,
	// a non-zero envconfig.Seed (MESHGEN_SEED) applies instead.
	Seed *uint64

	// OnlyReturnComplete drops sequences that hit MaxSampleLength
	// without emitting the stop sentinel instead of returning them
	// truncated.
	OnlyReturnComplete bool

	// RecenterVerts re-centers sampled vertices around the quantization
	// midpoint (vertex model only).
	RecenterVerts bool
}

// Generate drives the shared autoregressive loop: one decoder step,
// nucleus filtering and a weighted draw per live sequence per iteration,
// stopping early once every sequence has emitted stopToken and always
// within maxLen steps.
func Generate(seqs []*Sequence, step StepFunc, stopToken int32, opts SampleOptions) error {
	topP := opts.TopP
	if topP == 0 {
		topP = 1
	}

	// MESHGEN_SEED pins runs that do not seed explicitly.
	seed := opts.Seed
	if seed == nil && envconfig.Seed != 0 {
		s := envconfig.Seed
		seed = &s
	}

	smp := sample.Weighted(seed)
	transforms := []sample.Transform{sample.TopP(topP)}

	id := uuid.New().String()
	slog.Debug("sampling", "id", id, "sequences", len(seqs), "max_length", opts.MaxSampleLength, "top_p", topP)

	for pos := 0; pos < opts.MaxSampleLength; pos++ {
		live := 0
		for _, seq := range seqs {
			if seq.Done {
				continue
			}

			logits, err := step(seq)
			if err != nil {
				return err
			}

			tok, err := smp.Sample(logits, transforms...)
			if err != nil {
				return err
			}

			seq.Tokens = append(seq.Tokens, tok)
			logutil.Trace("sampled token", "id", id, "position", pos, "token", tok)

			if tok == stopToken {
				seq.Done = true
			} else {
				live++
			}
		}

		if live == 0 {
			break
		}
	}

	var incomplete int
	for _, seq := range seqs {
		if !seq.Done {
			incomplete++
		}
	}
	slog.Debug("sampling done", "id", id, "incomplete", incomplete)

	return nil
}
