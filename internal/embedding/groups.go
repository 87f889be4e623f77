package embedding

import (
	"context"
	"fmt"
)

// DefaultThreshold is the similarity above which two entries share a group
const DefaultThreshold = 0.8

// Embedder turns texts into vectors
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Cache keeps vectors per entry for as long as the entry text is unchanged
type Cache interface {
	Embeddings(ctx context.Context, texts map[string]string) (map[string][]float32, error)
	SaveEmbedding(ctx context.Context, entryID, text string, vector []float32) error
}

// Groups embeds the text of each id (reusing cached vectors when cache is not
// nil) and clusters them. The result maps id to group number.
func Groups(ctx context.Context, emb Embedder, cache Cache, ids []string, texts map[string]string, threshold float64) (map[string]int, error) {
	vectors := make(map[string][]float64, len(ids))
	if cache != nil {
		cached, err := cache.Embeddings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("load embeddings: %w", err)
		}
		for id, v := range cached {
			vectors[id] = widen(v)
		}
	}

	var missing []string
	var inputs []string
	for _, id := range ids {
		if _, ok := vectors[id]; !ok {
			missing = append(missing, id)
			inputs = append(inputs, texts[id])
		}
	}
	if len(missing) > 0 {
		fresh, err := emb.EmbedBatch(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("embed entries: %w", err)
		}
		if len(fresh) != len(missing) {
			return nil, fmt.Errorf("embed entries: got %d vectors for %d texts", len(fresh), len(missing))
		}
		for i, id := range missing {
			vectors[id] = fresh[i]
			if cache != nil {
				if err := cache.SaveEmbedding(ctx, id, texts[id], narrow(fresh[i])); err != nil {
					return nil, fmt.Errorf("save embedding: %w", err)
				}
			}
		}
	}

	ordered := make([][]float64, len(ids))
	for i, id := range ids {
		ordered[i] = vectors[id]
	}
	out := make(map[string]int, len(ids))
	for i, g := range Cluster(ordered, threshold) {
		out[ids[i]] = g
	}
	return out, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
