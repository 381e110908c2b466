// Package discovery implements Discovery (C7): the combination of the
// Embedding Index's semantic candidates with the Fitness Engine's scores
// and the registry's trust/tag filters, producing a ranked result set for
// intent-based retrieval.
package discovery

import (
	"context"
	"sort"

	"github.com/agentevolution/agentevolution/internal/embedindex"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/registry"
)

// DefaultK is the result count used when a caller does not specify one.
const DefaultK = 5

// candidateFanout is the multiplier applied to k when asking the embedding
// index for candidates, giving the filter stage enough headroom before the
// final top-k cut (spec: "ask C5 for 4k candidates").
const candidateFanout = 4

// Options narrows a discovery query.
type Options struct {
	K               int
	MinFitness      float64
	MinTrustLevel   registry.TrustLevel
	IncludeDelisted bool
	Tags            []string
}

// Result is one ranked discovery hit.
type Result struct {
	Tool       *registry.Tool
	Similarity float64
	Score      float64
}

// index is the subset of *embedindex.Index that Discovery needs, so tests
// can substitute a fake without touching the real embedder.
type index interface {
	Query(text string, k int) []embedindex.Candidate
}

// store is the subset of *registry.Store that Discovery needs.
type store interface {
	Get(ctx context.Context, id string) (*registry.Tool, error)
}

// Discovery answers intent queries by combining embedding similarity with
// fitness and trust filtering.
type Discovery struct {
	index index
	store store
	log   *logging.Logger
}

// New builds a Discovery combining idx and the registry it hydrates
// candidates from.
func New(idx *embedindex.Index, st *registry.Store, log *logging.Logger) *Discovery {
	return &Discovery{index: idx, store: st, log: log}
}

// Discover returns up to opts.K tools ranked by 0.7*similarity + 0.3*fitness,
// after filtering by delisted state, trust level, tags, and minimum fitness.
// When the filtered candidate set is empty, it returns an empty slice
// rather than substituting unrelated results.
func (d *Discovery) Discover(ctx context.Context, intentText string, opts Options) ([]Result, error) {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}

	candidates := d.index.Query(intentText, k*candidateFanout)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		tool, err := d.store.Get(ctx, c.ToolID)
		if err != nil {
			// A candidate the index knows about but the registry no longer
			// serves (e.g. a race with a concurrent mutation) is skipped,
			// not fatal to the query.
			continue
		}
		if !matchesFilter(tool, opts) {
			continue
		}
		results = append(results, Result{
			Tool:       tool,
			Similarity: c.Similarity,
			Score:      0.7*c.Similarity + 0.3*tool.FitnessScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Tool.FitnessScore != results[j].Tool.FitnessScore {
			return results[i].Tool.FitnessScore > results[j].Tool.FitnessScore
		}
		return results[i].Tool.CreatedAt.Before(results[j].Tool.CreatedAt)
	})

	if len(results) > k {
		results = results[:k]
	}

	if d.log != nil {
		d.log.Info(logging.CategoryDiscovery, "query", "discovery query served", map[string]any{
			"intent_len": len(intentText),
			"candidates": len(candidates),
			"results":    len(results),
		})
	}

	return results, nil
}

func matchesFilter(tool *registry.Tool, opts Options) bool {
	if tool.Delisted && !opts.IncludeDelisted {
		return false
	}
	if tool.TrustLevel < opts.MinTrustLevel {
		return false
	}
	if tool.FitnessScore < opts.MinFitness {
		return false
	}
	if len(opts.Tags) > 0 && !hasAnyTag(tool.Tags, opts.Tags) {
		return false
	}
	return true
}

func hasAnyTag(toolTags, wanted []string) bool {
	set := make(map[string]bool, len(toolTags))
	for _, t := range toolTags {
		set[t] = true
	}
	for _, w := range wanted {
		if set[w] {
			return true
		}
	}
	return false
}
