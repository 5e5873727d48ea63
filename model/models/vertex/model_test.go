package vertex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/meshforge/meshgen/kvcache"
	"github.com/meshforge/meshgen/model"
	"github.com/meshforge/meshgen/types/errtypes"
)

func testConfig() Config {
	return Config{
		Decoder: model.DecoderConfig{
			HiddenSize: 16,
			FCSize:     32,
			NumLayers:  2,
			NumHeads:   2,
		},
		QuantizationBits: 4,
		MaxNumInputVerts: 8,
	}
}

func TestForwardShapes(t *testing.T) {
	m, err := New(testConfig(), rand.New(rand.NewSource(0)))
	require.NoError(t, err)

	batch := Batch{
		VerticesFlat: [][]int32{
			{3, 5, 7, 1, 2, 9, 0},
			{4, 4, 4, 0},
		},
	}

	logits, err := m.Forward(batch, nil)
	require.NoError(t, err)
	require.Len(t, logits, 2)

	for i, seq := range batch.VerticesFlat {
		assert.Equal(t, len(seq), logits[i].Dim(0))
		assert.Equal(t, m.Vocab(), logits[i].Dim(1))
	}

	loss, err := m.Loss(logits, batch)
	require.NoError(t, err)
	assert.Greater(t, loss, float32(0))
}

func TestIncrementalMatchesTeacherForcing(t *testing.T) {
	m, err := New(testConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tokens := []int32{3, 5, 7, 1, 2, 9, 0}
	full, err := m.forwardOne(tokens, nil, nil)
	require.NoError(t, err)

	cache := kvcache.NewCausalCache()
	for pos := range tokens {
		var prev int32
		if pos > 0 {
			prev = tokens[pos-1]
		}
		row, err := m.inputRow(pos, prev, nil)
		require.NoError(t, err)

		h := m.Decoder.Forward(row, nil, nil, cache, nil, nil)
		step := m.Project.Forward(h)

		assert.InDeltaSlice(t, full.Row(pos), step.Row(0), 1e-4, "position %d", pos)
	}
}

func TestSampleOutputs(t *testing.T) {
	m, err := New(testConfig(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	seed := uint64(7)
	samples, err := m.Sample(3, Context{}, model.SampleOptions{
		MaxSampleLength: 10,
		TopP:            0.9,
		Seed:            &seed,
	})
	require.NoError(t, err)

	require.Len(t, samples.Vertices, 3)
	require.Len(t, samples.NumVertices, 3)
	require.Len(t, samples.Complete, 3)

	limit := int32(1)<<4 - 1
	for i, verts := range samples.Vertices {
		assert.Equal(t, len(verts), samples.NumVertices[i])
		for _, v := range verts {
			for axis := range v {
				assert.GreaterOrEqual(t, v[axis], int32(0))
				assert.LessOrEqual(t, v[axis], limit)
			}
		}
	}
}

func TestSampleLengthCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNumInputVerts = 2

	m, err := New(cfg, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	// No explicit cap: sampling must stop at 3*MaxNumInputVerts+1 tokens
	// rather than index past the position table.
	samples, err := m.Sample(1, Context{}, model.SampleOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, samples.NumVertices[0], 2)
}

func TestForwardSequenceTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNumInputVerts = 1

	m, err := New(cfg, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	_, err = m.Forward(Batch{VerticesFlat: [][]int32{{2, 2, 2, 2, 2, 2, 0}}}, nil)

	var tooLong *errtypes.SequenceLengthExceeded
	require.True(t, errors.As(err, &tooLong))
	assert.Equal(t, 3, tooLong.Max)
}

func TestNewRejectsInvalidDecoderShape(t *testing.T) {
	cfg := testConfig()
	cfg.Decoder.HiddenSize = 20
	cfg.Decoder.NumHeads = 3

	_, err := New(cfg, rand.New(rand.NewSource(0)))
	require.Error(t, err)
}

func TestClassConditional(t *testing.T) {
	cfg := testConfig()
	cfg.ClassConditional = true

	_, err := New(cfg, rand.New(rand.NewSource(5)))
	require.Error(t, err, "NumClasses is required")

	cfg.NumClasses = 4
	m, err := New(cfg, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	_, err = m.Forward(Batch{VerticesFlat: [][]int32{{2, 2, 2, 0}}}, nil)
	require.Error(t, err, "missing class label")

	logits, err := m.Forward(Batch{
		VerticesFlat: [][]int32{{2, 2, 2, 0}},
		ClassLabels:  []int32{1},
	}, nil)
	require.NoError(t, err)

	other, err := m.Forward(Batch{
		VerticesFlat: [][]int32{{2, 2, 2, 0}},
		ClassLabels:  []int32{3},
	}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, logits[0].Floats(), other[0].Floats(),
		"different class labels should change the logits")
}

func TestConfigFromMap(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{
		"decoder":             map[string]any{"hidden_size": 64, "num_heads": 4},
		"quantization_bits":   6,
		"max_num_input_verts": 100,
		"class_conditional":   true,
		"num_classes":         10,
	})
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Decoder.HiddenSize)
	assert.Equal(t, 6, cfg.QuantizationBits)
	assert.Equal(t, 100, cfg.MaxNumInputVerts)
	assert.True(t, cfg.ClassConditional)
	assert.Equal(t, 10, cfg.NumClasses)

	_, err = ConfigFromMap(map[string]any{"unknown_option": 1})
	require.Error(t, err)
}

func TestRecenter(t *testing.T) {
	verts := [][3]int32{{0, 0, 0}, {4, 2, 6}}

	got := recenter(verts, 4) // midpoint 8, range [0, 15]
	assert.Equal(t, [][3]int32{{6, 7, 5}, {10, 9, 11}}, got)
}
