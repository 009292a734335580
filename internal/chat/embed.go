package chat

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector width of the hashed embedder.
const DefaultDimensions = 384

// Embedder maps text to a fixed-width vector. Equal text must embed equally.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder is a signed feature-hashing bag of words, L2-normalised.
type HashEmbedder struct {
	Dim int
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func (h HashEmbedder) Embed(text string) []float32 {
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultDimensions
	}
	vec := make([]float32, dim)
	for _, tok := range tokens(text) {
		hs := fnv.New64a()
		hs.Write([]byte(tok)) //nolint:errcheck
		sum := hs.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(dim)] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Index is a flat L2 nearest-neighbour index over text chunks.
type Index struct {
	embedder Embedder
	chunks   []string
	vectors  [][]float32
}

// BuildIndex embeds every chunk once.
func BuildIndex(e Embedder, chunks []string) *Index {
	ix := &Index{embedder: e, chunks: chunks, vectors: make([][]float32, len(chunks))}
	for i, c := range chunks {
		ix.vectors[i] = e.Embed(c)
	}
	return ix
}

// Len reports the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Search returns up to k chunks closest to query, nearest first. Ties keep
// insertion order.
func (ix *Index) Search(query string, k int) []string {
	if k <= 0 || len(ix.chunks) == 0 {
		return nil
	}
	q := ix.embedder.Embed(query)
	order := make([]int, len(ix.chunks))
	dist := make([]float64, len(ix.chunks))
	for i, v := range ix.vectors {
		order[i] = i
		dist[i] = l2(q, v)
	}
	sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })
	if k > len(order) {
		k = len(order)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ix.chunks[order[i]]
	}
	return out
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}
