package sample

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestTopPIdentityAtOne(t *testing.T) {
	cases := map[string][]float64{
		"uniform-ish": {1, 2, 3, 4},
		// the dominant token saturates the cumulative sum at 1.0 in
		// float64 before the tiny trailing probability is counted
		"extreme": {40, 0},
	}

	for name, logits := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := TopP(1.0).Apply(append([]float64(nil), logits...))
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(logits, got, cmpopts.EquateApprox(1e-9, 0)); diff != "" {
				t.Errorf("top-p 1.0 changed the distribution (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTopPArgmaxAtZero(t *testing.T) {
	logits := []float64{1, 4, 3, 2}

	got, err := TopP(1e-9).Apply(append([]float64(nil), logits...))
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range got {
		if i == 1 {
			if math.IsInf(v, -1) {
				t.Errorf("highest-probability token was masked")
			}
			continue
		}
		if !math.IsInf(v, -1) {
			t.Errorf("token %d kept with p near 0: %f", i, v)
		}
	}
}

func TestTopPCumulativeCutoff(t *testing.T) {
	// Probabilities are 0.4, 0.3, 0.2, 0.1 (log of each, softmax
	// restores them). p = 0.65 keeps exactly the first two.
	logits := []float64{
		math.Log(0.4), math.Log(0.3), math.Log(0.2), math.Log(0.1),
	}

	got, err := TopP(0.65).Apply(append([]float64(nil), logits...))
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range got {
		kept := !math.IsInf(v, -1)
		if want := i < 2; kept != want {
			t.Errorf("token %d kept = %v, want %v", i, kept, want)
		}
	}
}

func TestTopPRange(t *testing.T) {
	if _, err := TopP(0).Apply([]float64{1}); err == nil {
		t.Error("expected error for p = 0")
	}
	if _, err := TopP(1.1).Apply([]float64{1}); err == nil {
		t.Error("expected error for p > 1")
	}
}

func TestTopK(t *testing.T) {
	logits := []float64{5, 1, 4, 2, 3}

	got, err := TopK(2).Apply(append([]float64(nil), logits...))
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range got {
		kept := !math.IsInf(v, -1)
		if want := i == 0 || i == 2; kept != want {
			t.Errorf("token %d kept = %v, want %v", i, kept, want)
		}
	}

	// k larger than the vocabulary is a no-op.
	got, err = TopK(10).Apply(append([]float64(nil), logits...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(logits, got); diff != "" {
		t.Errorf("top-k > len changed logits (-want +got):\n%s", diff)
	}
}

func TestTemperature(t *testing.T) {
	got, err := Temperature(0.5).Apply([]float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-4, -2, 0}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-9, 0)); diff != "" {
		t.Errorf("temperature mismatch (-want +got):\n%s", diff)
	}

	if _, err := Temperature(3).Apply([]float64{1}); err == nil {
		t.Error("expected error for temperature > 2")
	}
}

func TestWeighted(t *testing.T) {
	got, err := Weighted(nil).Sample([]float32{float32(math.Inf(-1)), 2, float32(math.Inf(-1)), float32(math.Inf(-1))})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("index mismatch: want 1, got %d", got)
	}

	if _, err := Weighted(nil).Sample([]float32{float32(math.Inf(-1)), float32(math.Inf(-1))}); err == nil {
		t.Error("expected error for no valid tokens")
	}
}

func TestWeightedDeterministic(t *testing.T) {
	logits := []float32{1, 2, 3, 4}

	seed := uint64(42)
	first, err := Weighted(&seed).Sample(logits, TopP(0.95))
	if err != nil {
		t.Fatal(err)
	}

	for range 5 {
		seed := uint64(42)
		got, err := Weighted(&seed).Sample(logits, TopP(0.95))
		if err != nil {
			t.Fatal(err)
		}
		if got != first {
			t.Fatalf("same seed produced different samples: %d, %d", first, got)
		}
	}
}

func TestGreedy(t *testing.T) {
	got, err := Greedy().Sample([]float32{1, 5, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("index mismatch: want 1, got %d", got)
	}
}
