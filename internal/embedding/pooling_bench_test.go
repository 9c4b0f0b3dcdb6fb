package embedding

import "testing"

func BenchmarkPool(b *testing.B) {
	const seq, dim = 512, 768
	hs := &HiddenStates{SeqLen: seq, Dim: dim, Data: make([]float32, seq*dim)}
	for i := range hs.Data {
		hs.Data[i] = float32(i%97) / 97
	}
	mask := make([]int64, seq)
	for i := 0; i < seq/2; i++ {
		mask[i] = 1
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Pool(hs, mask)
	}
}
