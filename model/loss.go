package model

import (
	"fmt"

	"github.com/meshforge/meshgen/ml"
)

// NLLLoss is the teacher-forcing objective: the negative sum of
// log-probabilities of the ground-truth tokens, weighted by the loss
// mask so padded positions contribute zero. logits holds one
// [seq, vocab] tensor per batch element.
func NLLLoss(logits []*ml.Tensor, targets [][]int32, masks [][]float32) (float32, error) {
	if len(targets) != len(logits) || len(masks) != len(logits) {
		return 0, fmt.Errorf("loss: %d logits, %d targets, %d masks", len(logits), len(targets), len(masks))
	}

	var loss float32
	for i, l := range logits {
		seq, vocab := l.Dim(0), l.Dim(1)
		if len(targets[i]) != seq || len(masks[i]) != seq {
			return 0, fmt.Errorf("loss: element %d has %d steps, %d targets, %d mask entries", i, seq, len(targets[i]), len(masks[i]))
		}

		logProbs := l.LogSoftmax()
		for t, tok := range targets[i] {
			if masks[i][t] == 0 {
				continue
			}
			if tok < 0 || int(tok) >= vocab {
				return 0, fmt.Errorf("loss: target %d out of vocabulary %d", tok, vocab)
			}
			loss -= logProbs.Row(t)[tok] * masks[i][t]
		}
	}

	return loss, nil
}
