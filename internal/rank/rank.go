// Package rank scores query embeddings against a document set with cosine
// similarity and selects the top-K matches.
package rank

import (
	"math"
	"sort"

	"ragchat/internal/models"
)

// Cosine returns dot(a,b)/(|a|*|b|) computed over the overlapping index
// range when the vectors differ in length. Length mismatch is tolerated on
// purpose: embeddings from heterogeneous providers may not share a
// dimension. A zero norm on either side yields exactly 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Top ranks docs against query and returns at most k results in strictly
// descending score order. The sort is stable: equal scores keep corpus
// order. Documents without an embedding are excluded. k <= 0 returns an
// empty result; k beyond the corpus size returns the full ranked corpus.
func Top(query []float32, docs []models.Document, k int) []models.Scored {
	if k <= 0 {
		return nil
	}
	scored := make([]models.Scored, 0, len(docs))
	for _, d := range docs {
		if d.Embedding == nil {
			continue
		}
		scored = append(scored, models.Scored{Document: d, Score: Cosine(query, d.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
