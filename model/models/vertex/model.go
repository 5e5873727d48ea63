// Package vertex models flattened vertex coordinate sequences with the
// shared causal decoder: three quantized coordinate tokens per vertex in
// canonical order, terminated by the stop sentinel.
package vertex

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/meshforge/meshgen/envconfig"
	"github.com/meshforge/meshgen/mesh"
	"github.com/meshforge/meshgen/ml"
	"github.com/meshforge/meshgen/ml/nn"
	"github.com/meshforge/meshgen/model"
	"github.com/meshforge/meshgen/types/errtypes"
)

type Config struct {
	Decoder model.DecoderConfig `mapstructure:"decoder"`

	// QuantizationBits sets the coordinate vocabulary: values live in
	// [0, 2^bits) and the token vocabulary adds the stop sentinel.
	QuantizationBits int `mapstructure:"quantization_bits"`

	// MaxNumInputVerts bounds the number of vertices per mesh.
	MaxNumInputVerts int `mapstructure:"max_num_input_verts"`

	// ClassConditional adds a class-label embedding as a global
	// conditioning vector; NumClasses sizes the table.
	ClassConditional bool `mapstructure:"class_conditional"`
	NumClasses       int  `mapstructure:"num_classes"`

	// ContextEmbeddingSize enables conditioning on an external context
	// (image) embedding of that width. Zero disables it.
	ContextEmbeddingSize int `mapstructure:"context_embedding_size"`
}

// ConfigFromMap decodes a map-shaped config, the form training scripts
// usually carry these options in.
func ConfigFromMap(m map[string]any) (Config, error) {
	var c Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(m); err != nil {
		return c, fmt.Errorf("vertex config: %w", err)
	}
	return c.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	c.Decoder = c.Decoder.WithDefaults()
	if c.QuantizationBits == 0 {
		c.QuantizationBits = 8
	}
	if c.MaxNumInputVerts == 0 {
		c.MaxNumInputVerts = 250
	}
	return c
}

// Batch is one teacher-forcing batch. Masks may be nil when sequences are
// unpadded (all positions are content).
type Batch struct {
	VerticesFlat      [][]int32
	VerticesFlatMask  [][]float32
	ClassLabels       []int32
	ContextEmbeddings []*ml.Tensor
}

// Context carries the optional conditioning for sampling.
type Context struct {
	ClassLabels       []int32
	ContextEmbeddings []*ml.Tensor
}

// Samples is the sampling output: per element the decoded [V, 3]
// vertices, their count, and whether the sequence emitted a stop token
// before the length cap.
type Samples struct {
	Vertices    [][][3]int32
	NumVertices []int
	Complete    []bool
}

type Model struct {
	ValueEmbedding    *nn.Embedding // coordinate values + sentinel
	CoordEmbedding    *nn.Embedding // x/y/z slot within a triple
	PositionEmbedding *nn.Embedding // vertex ordinal
	StartEmbedding    *ml.Tensor    // decoder input at step 0

	ClassEmbedding    *nn.Embedding // nil unless class conditional
	ContextProjection *nn.Linear    // nil unless context conditioned

	Decoder *model.Decoder
	Project *nn.Linear // projects hidden states to the vocabulary

	cfg Config
}

func New(cfg Config, rng *rand.Rand) (*Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Decoder.Validate(); err != nil {
		return nil, fmt.Errorf("vertex: %w", err)
	}
	if cfg.ClassConditional && cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("vertex: class conditional model needs NumClasses")
	}

	hidden := cfg.Decoder.HiddenSize
	vocab := vocabSize(cfg.QuantizationBits)

	m := &Model{
		ValueEmbedding:    nn.NewEmbedding(vocab, hidden, rng),
		CoordEmbedding:    nn.NewEmbedding(3, hidden, rng),
		PositionEmbedding: nn.NewEmbedding(cfg.MaxNumInputVerts, hidden, rng),
		StartEmbedding:    ml.Zeros(1, hidden),
		Decoder:           model.NewDecoder(cfg.Decoder, false, rng),
		Project:           nn.NewLinear(hidden, vocab, true, rng),
		cfg:               cfg,
	}

	if cfg.ClassConditional {
		m.ClassEmbedding = nn.NewEmbedding(cfg.NumClasses, hidden, rng)
	}
	if cfg.ContextEmbeddingSize > 0 {
		m.ContextProjection = nn.NewLinear(cfg.ContextEmbeddingSize, hidden, true, rng)
	}

	return m, nil
}

func vocabSize(bits int) int {
	return 1<<bits + 1 // quantization levels plus the stop sentinel
}

// Vocab returns the coordinate token vocabulary size.
func (m *Model) Vocab() int {
	return vocabSize(m.cfg.QuantizationBits)
}

// conditioning returns the global conditioning vector for element i, or
// nil when the model is unconditional.
func (m *Model) conditioning(classLabels []int32, embeddings []*ml.Tensor, i int) (*ml.Tensor, error) {
	var cond *ml.Tensor

	if m.ClassEmbedding != nil {
		if i >= len(classLabels) {
			return nil, fmt.Errorf("vertex: missing class label for element %d", i)
		}
		cond = m.ClassEmbedding.Forward([]int32{classLabels[i]})
	}

	if m.ContextProjection != nil {
		if i >= len(embeddings) || embeddings[i] == nil {
			return nil, fmt.Errorf("vertex: missing context embedding for element %d", i)
		}
		proj := m.ContextProjection.Forward(embeddings[i].Reshape(1, -1))
		if cond == nil {
			cond = proj
		} else {
			cond = cond.Add(proj)
		}
	}

	return cond, nil
}

// inputRow builds the decoder input embedding for sequence position pos,
// where prev is the token emitted at pos-1.
func (m *Model) inputRow(pos int, prev int32, cond *ml.Tensor) (*ml.Tensor, error) {
	if pos == 0 {
		row := m.StartEmbedding
		if cond != nil {
			row = row.Add(cond)
		}
		return row, nil
	}

	vertexOrdinal := (pos - 1) / 3
	if vertexOrdinal >= m.cfg.MaxNumInputVerts {
		return nil, &errtypes.SequenceLengthExceeded{Length: pos, Max: 3 * m.cfg.MaxNumInputVerts}
	}

	row := m.ValueEmbedding.Forward([]int32{prev})
	row = row.Add(m.CoordEmbedding.Forward([]int32{int32((pos - 1) % 3)}))
	row = row.Add(m.PositionEmbedding.Forward([]int32{int32(vertexOrdinal)}))
	if cond != nil {
		row = row.Add(cond)
	}
	return row, nil
}

// forwardOne runs teacher forcing over one flattened sequence and returns
// [seq, vocab] logits aligned with the target tokens.
func (m *Model) forwardOne(tokens []int32, cond *ml.Tensor, rng *rand.Rand) (*ml.Tensor, error) {
	hidden := m.cfg.Decoder.HiddenSize

	x := ml.Zeros(len(tokens), hidden)
	for pos := range tokens {
		var prev int32
		if pos > 0 {
			prev = tokens[pos-1]
		}
		row, err := m.inputRow(pos, prev, cond)
		if err != nil {
			return nil, err
		}
		copy(x.Row(pos), row.Row(0))
	}

	h := m.Decoder.Forward(x, nil, nn.CausalMask(len(tokens)), nil, nil, rng)
	return m.Project.Forward(h), nil
}

// Forward returns per-element [seq, vocab] logits for a teacher-forcing
// batch. A non-nil rng enables dropout (training mode). Batch elements
// are independent and evaluated in parallel.
func (m *Model) Forward(batch Batch, rng *rand.Rand) ([]*ml.Tensor, error) {
	logits := make([]*ml.Tensor, len(batch.VerticesFlat))

	// Derive one dropout stream per element up front so parallel order
	// does not change results.
	rngs := make([]*rand.Rand, len(batch.VerticesFlat))
	if rng != nil {
		for i := range rngs {
			rngs[i] = rand.New(rand.NewSource(rng.Uint64()))
		}
	}

	var g errgroup.Group
	if envconfig.NumWorkers > 0 {
		g.SetLimit(envconfig.NumWorkers)
	}
	for i := range batch.VerticesFlat {
		g.Go(func() error {
			cond, err := m.conditioning(batch.ClassLabels, batch.ContextEmbeddings, i)
			if err != nil {
				return err
			}
			logits[i], err = m.forwardOne(batch.VerticesFlat[i], cond, rngs[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return logits, nil
}

// Loss is the masked negative log-likelihood of the batch targets.
func (m *Model) Loss(logits []*ml.Tensor, batch Batch) (float32, error) {
	masks := batch.VerticesFlatMask
	if masks == nil {
		masks = make([][]float32, len(batch.VerticesFlat))
		for i, seq := range batch.VerticesFlat {
			masks[i] = make([]float32, len(seq))
			for j := range masks[i] {
				masks[i][j] = 1
			}
		}
	}
	return model.NLLLoss(logits, batch.VerticesFlat, masks)
}

// Sample generates numSamples vertex sequences and decodes them into
// [V, 3] arrays. Sequences that hit the length cap without a stop token
// are flagged incomplete; with OnlyReturnComplete they are dropped
// instead. Token counts are truncated to whole triples before decoding.
func (m *Model) Sample(numSamples int, ctx Context, opts model.SampleOptions) (*Samples, error) {
	maxLen := 3*m.cfg.MaxNumInputVerts + 1
	if opts.MaxSampleLength > 0 && opts.MaxSampleLength < maxLen {
		maxLen = opts.MaxSampleLength
	}
	opts.MaxSampleLength = maxLen

	conds := make([]*ml.Tensor, numSamples)
	for i := range conds {
		cond, err := m.conditioning(ctx.ClassLabels, ctx.ContextEmbeddings, i)
		if err != nil {
			return nil, err
		}
		conds[i] = cond
	}

	seqs := model.NewSequences(numSamples, false)
	index := make(map[*model.Sequence]int, numSamples)
	for i, seq := range seqs {
		index[seq] = i
	}

	step := func(seq *model.Sequence) ([]float32, error) {
		pos := len(seq.Tokens)
		var prev int32
		if pos > 0 {
			prev = seq.Tokens[pos-1]
		}

		row, err := m.inputRow(pos, prev, conds[index[seq]])
		if err != nil {
			return nil, err
		}

		h := m.Decoder.Forward(row, nil, nil, seq.Cache, nil, nil)
		logits := m.Project.Forward(h)

		out := make([]float32, logits.Dim(1))
		copy(out, logits.Row(0))
		return out, nil
	}

	if err := model.Generate(seqs, step, mesh.StopToken, opts); err != nil {
		return nil, err
	}

	out := &Samples{}
	for _, seq := range seqs {
		if opts.OnlyReturnComplete && !seq.Done {
			continue
		}

		verts := mesh.UnflattenVertices(seq.Tokens)
		if opts.RecenterVerts {
			verts = recenter(verts, m.cfg.QuantizationBits)
		}

		out.Vertices = append(out.Vertices, verts)
		out.NumVertices = append(out.NumVertices, len(verts))
		out.Complete = append(out.Complete, seq.Done)
	}

	return out, nil
}

// recenter translates vertices so their bounding box is centered on the
// quantization midpoint, clamped to the legal coordinate range.
func recenter(verts [][3]int32, bits int) [][3]int32 {
	if len(verts) == 0 {
		return verts
	}

	limit := int32(1)<<bits - 1
	mid := int32(1) << (bits - 1)

	var lo, hi [3]int32
	for axis := 0; axis < 3; axis++ {
		lo[axis], hi[axis] = verts[0][axis], verts[0][axis]
	}
	for _, v := range verts[1:] {
		for axis := 0; axis < 3; axis++ {
			lo[axis] = min(lo[axis], v[axis])
			hi[axis] = max(hi[axis], v[axis])
		}
	}

	out := make([][3]int32, len(verts))
	for i, v := range verts {
		for axis := 0; axis < 3; axis++ {
			center := (lo[axis] + hi[axis]) / 2
			c := v[axis] - center + mid
			out[i][axis] = min(max(c, 0), limit)
		}
	}
	return out
}
