package kvcache

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/meshforge/meshgen/ml"
)

func TestCausalAppend(t *testing.T) {
	cache := NewCausalCache()

	cache.SetLayer(0)
	cache.Put(ml.FromFloats([]float32{1, 2}, 1, 2), ml.FromFloats([]float32{10, 20}, 1, 2))
	cache.SetLayer(1)
	cache.Put(ml.FromFloats([]float32{3, 4}, 1, 2), ml.FromFloats([]float32{30, 40}, 1, 2))

	cache.SetLayer(0)
	cache.Put(ml.FromFloats([]float32{5, 6}, 1, 2), ml.FromFloats([]float32{50, 60}, 1, 2))

	k, v := cache.Get()
	if diff := cmp.Diff([]float32{1, 2, 5, 6}, k.Floats()); diff != "" {
		t.Errorf("layer 0 keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{10, 20, 50, 60}, v.Floats()); diff != "" {
		t.Errorf("layer 0 values mismatch (-want +got):\n%s", diff)
	}

	cache.SetLayer(1)
	k, _ = cache.Get()
	if diff := cmp.Diff([]float32{3, 4}, k.Floats()); diff != "" {
		t.Errorf("layer 1 keys mismatch (-want +got):\n%s", diff)
	}

	if cache.Len() != 2 {
		t.Errorf("cache length: want 2, got %d", cache.Len())
	}

	cache.Reset()
	if cache.Len() != 0 {
		t.Errorf("cache length after reset: want 0, got %d", cache.Len())
	}
}

func TestCausalPutDoesNotAliasInput(t *testing.T) {
	cache := NewCausalCache()
	cache.SetLayer(0)

	key := ml.FromFloats([]float32{1, 2}, 1, 2)
	cache.Put(key, ml.FromFloats([]float32{3, 4}, 1, 2))
	key.Floats()[0] = 99

	k, _ := cache.Get()
	if k.Floats()[0] != 1 {
		t.Errorf("cache aliases caller tensor: got %f", k.Floats()[0])
	}
}

func TestEncoderCachedOnce(t *testing.T) {
	cache := NewEncoderCache()
	cache.SetLayer(0)

	if cache.EncoderCached() {
		t.Fatal("cache reports cached before Put")
	}

	cache.Put(ml.FromFloats([]float32{1, 2}, 1, 2), ml.FromFloats([]float32{3, 4}, 1, 2))
	if !cache.EncoderCached() {
		t.Fatal("cache does not report cached after Put")
	}

	// caching is per layer: filling layer 0 says nothing about layer 1
	cache.SetLayer(1)
	if cache.EncoderCached() {
		t.Fatal("layer 1 reports cached after a layer 0 Put")
	}
	cache.SetLayer(0)

	k, v := cache.Get()
	if diff := cmp.Diff([]float32{1, 2}, k.Floats()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{3, 4}, v.Floats()); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}
