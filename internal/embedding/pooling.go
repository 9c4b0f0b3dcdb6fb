package embedding

import (
	"fmt"
	"math"
)

// MeanPool averages the hidden states over positions whose attention mask is 1.
//
// Masked rows are replaced by zero before summing rather than skipped by index, so
// whatever the encoder wrote there (including NaN) cannot reach the result.
func MeanPool(hs *HiddenStates, mask []int64) ([]float32, error) {
	if err := hs.validate(); err != nil {
		return nil, err
	}
	if len(mask) != hs.SeqLen {
		return nil, fmt.Errorf("%w: mask length %d, sequence length %d", ErrShapeMismatch, len(mask), hs.SeqLen)
	}

	sum := make([]float64, hs.Dim)
	count := 0
	for t := 0; t < hs.SeqLen; t++ {
		keep := mask[t] != 0
		if keep {
			count++
		}
		row := hs.Row(t)
		for d := range sum {
			v := float64(row[d])
			if !keep {
				v = 0
			}
			sum[d] += v
		}
	}
	if count == 0 {
		return nil, ErrNoTokens
	}

	pooled := make([]float32, hs.Dim)
	for d, s := range sum {
		pooled[d] = float32(s / float64(count))
	}
	return pooled, nil
}

// NormalizeL2 returns v scaled to unit Euclidean length. v is not modified.
func NormalizeL2(v []float32) ([]float32, error) {
	norm := L2Norm(v)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: norm %v", ErrDegenerateEmbedding, norm)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Pool reduces hidden states to a single unit-length embedding.
func Pool(hs *HiddenStates, mask []int64) ([]float32, error) {
	pooled, err := MeanPool(hs, mask)
	if err != nil {
		return nil, err
	}
	return NormalizeL2(pooled)
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}
