package embedding

import (
	"fmt"
	"unicode/utf8"
)

// Encoding is the natural (untruncated, unpadded) tokenization of a text.
type Encoding struct {
	IDs     []int64
	TypeIDs []int64
	// Special marks positions holding special tokens such as [CLS] or [SEP].
	Special []bool
}

// Tokenizer converts text into token IDs for one specific encoder.
type Tokenizer interface {
	Encode(text string) (*Encoding, error)
	// PadID is the token ID used for padding positions.
	PadID() int64
}

// Tokenize encodes text and truncates it to maxTokens, keeping the earliest tokens.
// A trailing special token survives truncation in the last kept position, matching how
// the encoders were trained. Dropped content is reported only through Truncated.
func Tokenize(tok Tokenizer, text string, maxTokens int) (*TokenizedInput, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrTokenization)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	enc, err := tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenization, err)
	}
	n := len(enc.IDs)
	if len(enc.TypeIDs) != 0 && len(enc.TypeIDs) != n {
		return nil, fmt.Errorf("%w: %d type ids for %d tokens", ErrTokenization, len(enc.TypeIDs), n)
	}

	ids := enc.IDs
	types := enc.TypeIDs
	truncated := n > maxTokens
	if truncated {
		last := ids[n-1]
		keepLast := len(enc.Special) == n && enc.Special[n-1]
		ids = append([]int64(nil), ids[:maxTokens]...)
		if keepLast {
			ids[maxTokens-1] = last
		}
		if len(types) != 0 {
			types = types[:maxTokens]
		}
		n = maxTokens
	}

	in := &TokenizedInput{
		InputIDs:      make([]int64, n),
		AttentionMask: make([]int64, n),
		TokenTypeIDs:  make([]int64, n),
		Truncated:     truncated,
	}
	copy(in.InputIDs, ids)
	copy(in.TokenTypeIDs, types)
	for i := range in.AttentionMask {
		in.AttentionMask[i] = 1
	}
	return in, nil
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs. It is
// deterministic and wraps every text in [CLS] ... [SEP]; used by the mock backend.
type SimpleTokenizer struct {
	VocabSize int
}

const (
	simpleCLS = 101
	simpleSEP = 102
)

// Encode splits text on whitespace and maps each word to a stable ID.
func (t *SimpleTokenizer) Encode(text string) (*Encoding, error) {
	vocab := t.VocabSize
	if vocab <= 1000 {
		vocab = 30000
	}
	words := SplitWords(text)
	enc := &Encoding{
		IDs:     make([]int64, 0, len(words)+2),
		TypeIDs: make([]int64, len(words)+2),
		Special: make([]bool, 0, len(words)+2),
	}
	enc.IDs = append(enc.IDs, simpleCLS)
	enc.Special = append(enc.Special, true)
	for _, w := range words {
		enc.IDs = append(enc.IDs, int64(1000+HashString(w)%(vocab-1000)))
		enc.Special = append(enc.Special, false)
	}
	enc.IDs = append(enc.IDs, simpleSEP)
	enc.Special = append(enc.Special, true)
	return enc, nil
}

// PadID returns 0, the BERT [PAD] id.
func (t *SimpleTokenizer) PadID() int64 {
	return 0
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
