// Package embedindex implements the Embedding Index (C5): vector
// embeddings of each tool's intent text, serving top-k cosine-similarity
// queries. It is eventually consistent with the registry but updates
// synchronously in-process, well within the bound the contract allows.
package embedindex

import (
	"sort"
	"sync"
)

// Candidate is one similarity search result.
type Candidate struct {
	ToolID     string
	Similarity float64
}

// Index holds intent texts for every active tool and answers nearest-
// neighbor queries against them using the configured Embedder.
type Index struct {
	mu       sync.RWMutex
	embedder Embedder
	texts    map[string]string
	order    []string // insertion order, for deterministic iteration
}

// New builds an Index backed by the default deterministic bag-of-words/IDF
// embedder.
func New() *Index {
	return NewWithEmbedder(bagOfWordsIDF{})
}

// NewWithEmbedder builds an Index backed by a caller-supplied Embedder.
func NewWithEmbedder(embedder Embedder) *Index {
	return &Index{embedder: embedder, texts: make(map[string]string)}
}

// IndexTool registers or replaces the intent text for toolID. Called
// synchronously after a successful insert or fork.
func (idx *Index) IndexTool(toolID, intentText string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.texts[toolID]; !exists {
		idx.order = append(idx.order, toolID)
	}
	idx.texts[toolID] = intentText
}

// Remove drops toolID from the index. Called synchronously on delist so
// delisted tools stop appearing in similarity results.
func (idx *Index) Remove(toolID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.texts[toolID]; !exists {
		return
	}
	delete(idx.texts, toolID)
	for i, id := range idx.order {
		if id == toolID {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
}

// Query returns the k tools whose intent text is most similar to text,
// descending by similarity. Ties break on tool id for determinism; callers
// that need fitness/recency tie-breaking (Discovery) re-sort on top of
// this.
func (idx *Index) Query(text string, k int) []Candidate {
	idx.mu.RLock()
	docs := make([]string, len(idx.order)+1)
	ids := make([]string, len(idx.order))
	for i, id := range idx.order {
		docs[i] = idx.texts[id]
		ids[i] = id
	}
	docs[len(idx.order)] = text
	idx.mu.RUnlock()

	queryVec := idx.embedder.Embed(docs, text)

	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		docVec := idx.embedder.Embed(docs, docs[i])
		candidates[i] = Candidate{ToolID: id, Similarity: CosineSimilarity(queryVec, docVec)}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ToolID < candidates[j].ToolID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
