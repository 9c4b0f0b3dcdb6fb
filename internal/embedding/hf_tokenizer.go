package embedding

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HFTokenizer wraps a HuggingFace tokenizer.json using the pure-Go tokenizer.
type HFTokenizer struct {
	inner *tokenizer.Tokenizer
	padID int64
}

// NewHFTokenizer loads a tokenizer.json file.
func NewHFTokenizer(path string) (*HFTokenizer, error) {
	if path == "" {
		return nil, fmt.Errorf("tokenizer path is required")
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	// tokenizer.json may carry its own truncation/padding; Tokenize owns both.
	tk.WithTruncation(nil)
	tk.WithPadding(nil)
	var padID int64
	if id, ok := tk.TokenToId("[PAD]"); ok {
		padID = int64(id)
	} else if id, ok := tk.TokenToId("<pad>"); ok {
		padID = int64(id)
	}
	return &HFTokenizer{inner: tk, padID: padID}, nil
}

// Encode returns the full encoding with special tokens and without truncation;
// truncation is applied by Tokenize so every backend truncates the same way.
func (t *HFTokenizer) Encode(text string) (*Encoding, error) {
	if t == nil || t.inner == nil {
		return nil, fmt.Errorf("tokenizer is not initialized")
	}
	encoding, err := t.inner.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}
	n := len(encoding.Ids)
	enc := &Encoding{
		IDs:     make([]int64, n),
		TypeIDs: make([]int64, n),
		Special: make([]bool, n),
	}
	for i, id := range encoding.Ids {
		enc.IDs[i] = int64(id)
	}
	if len(encoding.TypeIds) == n {
		for i, id := range encoding.TypeIds {
			enc.TypeIDs[i] = int64(id)
		}
	}
	if len(encoding.SpecialTokenMask) == n {
		for i, m := range encoding.SpecialTokenMask {
			enc.Special[i] = m == 1
		}
	}
	return enc, nil
}

// PadID returns the padding token ID declared by the vocabulary.
func (t *HFTokenizer) PadID() int64 {
	return t.padID
}
