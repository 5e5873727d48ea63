// Package face models face index sequences as a pointer network: an
// encoder turns the conditioning vertices into a memory of candidate
// embeddings, and a causal decoder scores each next token by dot product
// against that memory. The vocabulary is the vertex set itself plus the
// stop and new-face sentinels, so it grows and shrinks with the mesh.
package face

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/meshforge/meshgen/envconfig"
	"github.com/meshforge/meshgen/mesh"
	"github.com/meshforge/meshgen/ml"
	"github.com/meshforge/meshgen/ml/nn"
	"github.com/meshforge/meshgen/model"
	"github.com/meshforge/meshgen/model/models/vertex"
	"github.com/meshforge/meshgen/types/errtypes"
)

type Config struct {
	Encoder model.DecoderConfig `mapstructure:"encoder"`
	Decoder model.DecoderConfig `mapstructure:"decoder"`

	// QuantizationBits sizes the discrete coordinate tables and the
	// normalization of continuous vertex inputs.
	QuantizationBits int `mapstructure:"quantization_bits"`

	// MaxSeqLength bounds the flattened face token sequence.
	MaxSeqLength int `mapstructure:"max_seq_length"`

	ClassConditional bool `mapstructure:"class_conditional"`
	NumClasses       int  `mapstructure:"num_classes"`

	// DecoderCrossAttention adds cross-attention over the encoded
	// vertices to every decoder block, on top of the pointer lookup.
	DecoderCrossAttention bool `mapstructure:"decoder_cross_attention"`

	// UseDiscreteVertexEmbeddings embeds quantized coordinates through
	// lookup tables; otherwise vertices enter as normalized floats
	// through a linear projection.
	UseDiscreteVertexEmbeddings bool `mapstructure:"use_discrete_vertex_embeddings"`
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
		return c, fmt.Errorf("face config: %w", err)
	}
	return c.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	c.Encoder = c.Encoder.WithDefaults()
	c.Decoder = c.Decoder.WithDefaults()
	if c.QuantizationBits == 0 {
		c.QuantizationBits = 8
	}
	if c.MaxSeqLength == 0 {
		c.MaxSeqLength = 500
	}
	return c
}

// Batch pairs vertex sets with their flattened face sequences for
// teacher forcing. Masks may be nil when sequences are unpadded.
type Batch struct {
	Vertices    [][][3]int32
	Faces       [][]int32
	FacesMask   [][]float32
	ClassLabels []int32
}

// Context is the conditioning for sampling: the vertices each generated
// face sequence may point into.
type Context struct {
	Vertices    [][][3]int32
	ClassLabels []int32
}

// ContextFromSamples adapts vertex model output for face sampling.
func ContextFromSamples(s *vertex.Samples) Context {
	return Context{Vertices: s.Vertices}
}

// Samples is the sampling output: per element the face token sequence
// (sentinels included, stop terminated when complete), its length, and
// the completion flag.
type Samples struct {
	Faces          [][]int32
	NumFaceIndices []int
	Complete       []bool
}

type Model struct {
	// exactly one of the two vertex input paths is set
	CoordEmbeddings  [3]*nn.Embedding
	VertexProjection *nn.Linear

	// memory rows 0 and 1: the stop and new-face sentinels
	SentinelEmbedding *nn.Embedding

	PositionEmbedding *nn.Embedding
	StartEmbedding    *ml.Tensor
	ClassEmbedding    *nn.Embedding

	Encoder *model.Decoder
	Decoder *model.Decoder
	Pointer *nn.Linear // projects hidden states into pointer query space

	cfg Config
}

func New(cfg Config, rng *rand.Rand) (*Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Encoder.Validate(); err != nil {
		return nil, fmt.Errorf("face: encoder: %w", err)
	}
	if err := cfg.Decoder.Validate(); err != nil {
		return nil, fmt.Errorf("face: decoder: %w", err)
	}
	if cfg.ClassConditional && cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("face: class conditional model needs NumClasses")
	}
	if cfg.Encoder.HiddenSize != cfg.Decoder.HiddenSize {
		return nil, fmt.Errorf("face: encoder hidden size %d != decoder hidden size %d",
			cfg.Encoder.HiddenSize, cfg.Decoder.HiddenSize)
	}

	hidden := cfg.Decoder.HiddenSize

	m := &Model{
		SentinelEmbedding: nn.NewEmbedding(2, hidden, rng),
		PositionEmbedding: nn.NewEmbedding(cfg.MaxSeqLength, hidden, rng),
		StartEmbedding:    ml.Zeros(1, hidden),
		Encoder:           model.NewDecoder(cfg.Encoder, false, rng),
		Decoder:           model.NewDecoder(cfg.Decoder, cfg.DecoderCrossAttention, rng),
		Pointer:           nn.NewLinear(hidden, hidden, false, rng),
		cfg:               cfg,
	}

	if cfg.UseDiscreteVertexEmbeddings {
		levels := 1 << cfg.QuantizationBits
		for axis := range m.CoordEmbeddings {
			m.CoordEmbeddings[axis] = nn.NewEmbedding(levels, hidden, rng)
		}
	} else {
		m.VertexProjection = nn.NewLinear(3, hidden, true, rng)
	}

	if cfg.ClassConditional {
		m.ClassEmbedding = nn.NewEmbedding(cfg.NumClasses, hidden, rng)
	}

	return m, nil
}

// embedVertices maps quantized vertices to [V, hidden] input embeddings.
func (m *Model) embedVertices(verts [][3]int32) *ml.Tensor {
	if m.VertexProjection != nil {
		scale := float32(int32(1) << m.cfg.QuantizationBits)
		data := make([]float32, 0, 3*len(verts))
		for _, v := range verts {
			for axis := 0; axis < 3; axis++ {
				data = append(data, float32(v[axis])/scale-0.5)
			}
		}
		return m.VertexProjection.Forward(ml.FromFloats(data, len(verts), 3))
	}

	x := ml.Zeros(len(verts), m.cfg.Decoder.HiddenSize)
	for i, v := range verts {
		row := m.CoordEmbeddings[0].Forward([]int32{v[0]})
		row = row.Add(m.CoordEmbeddings[1].Forward([]int32{v[1]}))
		row = row.Add(m.CoordEmbeddings[2].Forward([]int32{v[2]}))
		copy(x.Row(i), row.Row(0))
	}
	return x
}

// memory encodes a vertex set and prepends the sentinel rows, producing
// the [V+2, hidden] pointer candidates. Every token in a face sequence
// indexes a row of this tensor.
func (m *Model) memory(verts [][3]int32, rng *rand.Rand) (*ml.Tensor, error) {
	if len(verts) == 0 {
		return nil, &errtypes.InvalidTopology{Index: 0, NumVertices: 0}
	}

	encoded := m.Encoder.Forward(m.embedVertices(verts), nil, nil, nil, nil, rng)
	return m.SentinelEmbedding.Weight.Concat(encoded, 0), nil
}

func (m *Model) conditioning(classLabels []int32, i int) (*ml.Tensor, error) {
	if m.ClassEmbedding == nil {
		return nil, nil
	}
	if i >= len(classLabels) {
		return nil, fmt.Errorf("face: missing class label for element %d", i)
	}
	return m.ClassEmbedding.Forward([]int32{classLabels[i]}), nil
}

// inputRow builds the decoder input for position pos: the memory row the
// previous token pointed at plus a sequence position embedding.
func (m *Model) inputRow(memory *ml.Tensor, pos int, prev int32, cond *ml.Tensor) (*ml.Tensor, error) {
	if pos > m.cfg.MaxSeqLength {
		return nil, &errtypes.SequenceLengthExceeded{Length: pos, Max: m.cfg.MaxSeqLength}
	}

	if pos == 0 {
		row := m.StartEmbedding
		if cond != nil {
			row = row.Add(cond)
		}
		return row, nil
	}

	if int(prev) < 0 || int(prev) >= memory.Dim(0) {
		return nil, &errtypes.InvalidTopology{
			Index:       prev - mesh.FaceIndexOffset,
			NumVertices: memory.Dim(0) - int(mesh.FaceIndexOffset),
		}
	}

	row := memory.Rows([]int32{prev})
	row = row.Add(m.PositionEmbedding.Forward([]int32{int32(pos - 1)}))
	if cond != nil {
		row = row.Add(cond)
	}
	return row, nil
}

// pointerLogits scores hidden states [seq, hidden] against the memory,
// returning [seq, V+2] logits.
func (m *Model) pointerLogits(h, memory *ml.Tensor) *ml.Tensor {
	q := m.Pointer.Forward(h)
	scale := 1 / math32.Sqrt(float32(m.cfg.Decoder.HiddenSize))
	return q.Mulmat(memory.Transpose()).Scale(scale)
}

// forwardOne runs teacher forcing over one face sequence and returns
// [seq, V+2] logits aligned with the targets.
func (m *Model) forwardOne(verts [][3]int32, tokens []int32, cond *ml.Tensor, rng *rand.Rand) (*ml.Tensor, error) {
	memory, err := m.memory(verts, rng)
	if err != nil {
		return nil, err
	}

	x := ml.Zeros(len(tokens), m.cfg.Decoder.HiddenSize)
	for pos := range tokens {
		var prev int32
		if pos > 0 {
			prev = tokens[pos-1]
		}
		row, err := m.inputRow(memory, pos, prev, cond)
		if err != nil {
			return nil, err
		}
		copy(x.Row(pos), row.Row(0))
	}

	var crossMemory *ml.Tensor
	if m.cfg.DecoderCrossAttention {
		crossMemory = memory
	}

	h := m.Decoder.Forward(x, crossMemory, nn.CausalMask(len(tokens)), nil, nil, rng)
	return m.pointerLogits(h, memory), nil
}

// Forward returns per-element [seq, V+2] logits for a teacher-forcing
// batch. A non-nil rng enables dropout. Batch elements are independent
// and evaluated in parallel.
func (m *Model) Forward(batch Batch, rng *rand.Rand) ([]*ml.Tensor, error) {
	if len(batch.Vertices) != len(batch.Faces) {
		return nil, fmt.Errorf("face: %d vertex sets for %d face sequences", len(batch.Vertices), len(batch.Faces))
	}

	logits := make([]*ml.Tensor, len(batch.Faces))

	rngs := make([]*rand.Rand, len(batch.Faces))
	if rng != nil {
		for i := range rngs {
			rngs[i] = rand.New(rand.NewSource(rng.Uint64()))
		}
	}

	var g errgroup.Group
	if envconfig.NumWorkers > 0 {
		g.SetLimit(envconfig.NumWorkers)
	}
	for i := range batch.Faces {
		g.Go(func() error {
			cond, err := m.conditioning(batch.ClassLabels, i)
			if err != nil {
				return err
			}
			logits[i], err = m.forwardOne(batch.Vertices[i], batch.Faces[i], cond, rngs[i])
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
	masks := batch.FacesMask
	if masks == nil {
		masks = make([][]float32, len(batch.Faces))
		for i, seq := range batch.Faces {
			masks[i] = make([]float32, len(seq))
			for j := range masks[i] {
				masks[i][j] = 1
			}
		}
	}
	return model.NLLLoss(logits, batch.Faces, masks)
}

// Sample generates one face token sequence per context element. The
// returned sequences feed mesh.UnflattenFaces directly. An element with
// no vertices has an empty pointer vocabulary and is rejected.
func (m *Model) Sample(ctx Context, opts model.SampleOptions) (*Samples, error) {
	if opts.MaxSampleLength <= 0 || opts.MaxSampleLength > m.cfg.MaxSeqLength {
		opts.MaxSampleLength = m.cfg.MaxSeqLength
	}

	memories := make([]*ml.Tensor, len(ctx.Vertices))
	conds := make([]*ml.Tensor, len(ctx.Vertices))
	for i, verts := range ctx.Vertices {
		memory, err := m.memory(verts, nil)
		if err != nil {
			return nil, err
		}
		memories[i] = memory

		conds[i], err = m.conditioning(ctx.ClassLabels, i)
		if err != nil {
			return nil, err
		}
	}

	seqs := model.NewSequences(len(ctx.Vertices), m.cfg.DecoderCrossAttention)
	index := make(map[*model.Sequence]int, len(seqs))
	for i, seq := range seqs {
		index[seq] = i
	}

	step := func(seq *model.Sequence) ([]float32, error) {
		memory := memories[index[seq]]
		pos := len(seq.Tokens)
		var prev int32
		if pos > 0 {
			prev = seq.Tokens[pos-1]
		}

		row, err := m.inputRow(memory, pos, prev, conds[index[seq]])
		if err != nil {
			return nil, err
		}

		var crossMemory *ml.Tensor
		if m.cfg.DecoderCrossAttention {
			crossMemory = memory
		}

		h := m.Decoder.Forward(row, crossMemory, nil, seq.Cache, seq.CrossCache, nil)
		logits := m.pointerLogits(h, memory)

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
		out.Faces = append(out.Faces, seq.Tokens)
		out.NumFaceIndices = append(out.NumFaceIndices, len(seq.Tokens))
		out.Complete = append(out.Complete, seq.Done)
	}

	return out, nil
}
