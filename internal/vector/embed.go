// SPDX-License-Identifier: MIT

// Package vector is a cosine-similarity index over short "artist - title"
// strings. Embeddings are hashed character trigrams; the index is derived
// state and fully rebuildable from the knowledge base.
package vector

import (
	"hash/fnv"
	"math"
)

// Dimensions of the embedding space. Hashed trigrams collide above a few
// thousand distinct trigrams per text, which short artist-title strings
// never reach.
const Dimensions = 256

// Embed maps a normalized text to an L2-normalized trigram-count vector.
// Empty or all-whitespace text yields the zero vector, which never matches.
func Embed(text string) []float32 {
	v := make([]float32, Dimensions)
	runes := []rune(" " + text + " ")
	if len(runes) < 3 {
		return v
	}
	h := fnv.New32a()
	for i := 0; i+3 <= len(runes); i++ {
		h.Reset()
		_, _ = h.Write([]byte(string(runes[i : i+3])))
		v[h.Sum32()%Dimensions]++
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// CosineDistance is 1 - dot(a, b) for unit vectors: 0 identical, 1
// orthogonal, 2 opposite. A zero vector on either side is maximally
// distant.
func CosineDistance(a, b []float32) float64 {
	var dot float64
	var na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot
}
