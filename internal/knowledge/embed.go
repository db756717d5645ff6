package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// #region stopwords
// stopwords are function words excluded from tokenization, English plus
// common Korean particles and auxiliaries seen in review text.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "and": true, "or": true, "but": true,
	"of": true, "on": true, "to": true, "in": true, "for": true,
	"with": true, "that": true, "this": true, "it": true, "as": true,
	"있는": true, "있다": true, "하는": true, "한다": true, "대한": true,
	"등의": true, "으로": true, "에서": true, "까지": true, "부터": true,
	"그리고": true, "또는": true, "경우": true, "해당": true,
}

// Tokenize splits text into unique lowercase non-stopword tokens of at
// least two runes, preserving first-occurrence order.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// #endregion stopwords

// #region hashing-embedder

// HashingEmbedder is the deterministic in-process embedder: feature hashing
// of tokens into a fixed-dimension L2-normalized vector. It stands in for a
// model-backed Embedder in tests and single-binary deployments.
type HashingEmbedder struct {
	Dim int
}

// NewHashingEmbedder returns a HashingEmbedder with the standard dimension.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{Dim: 128}
}

// Embed hashes each token into a bucket with a sign bit and normalizes.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = 128
	}
	vec := make([]float32, dim)

	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum % uint32(dim))
		if (sum>>16)&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// #endregion hashing-embedder
