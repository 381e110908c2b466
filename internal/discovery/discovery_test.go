package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/agentevolution/agentevolution/internal/embedindex"
	"github.com/agentevolution/agentevolution/internal/errs"
	"github.com/agentevolution/agentevolution/internal/registry"
)

type fakeIndex struct {
	candidates []embedindex.Candidate
}

func (f *fakeIndex) Query(text string, k int) []embedindex.Candidate {
	if k > 0 && len(f.candidates) > k {
		return f.candidates[:k]
	}
	return f.candidates
}

type fakeStore struct {
	tools map[string]*registry.Tool
}

func (f *fakeStore) Get(ctx context.Context, id string) (*registry.Tool, error) {
	t, ok := f.tools[id]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "tool not found")
	}
	return t, nil
}

func tool(id string, fitness float64, trust registry.TrustLevel, delisted bool, age time.Duration) *registry.Tool {
	return &registry.Tool{
		ID:           id,
		FitnessScore: fitness,
		TrustLevel:   trust,
		Delisted:     delisted,
		CreatedAt:    time.Now().Add(-age),
	}
}

func TestDiscoverFiltersDelistedTools(t *testing.T) {
	idx := &fakeIndex{candidates: []embedindex.Candidate{
		{ToolID: "t1", Similarity: 0.9},
		{ToolID: "t2", Similarity: 0.8},
	}}
	st := &fakeStore{tools: map[string]*registry.Tool{
		"t1": tool("t1", 0.5, registry.TrustVerified, true, time.Hour),
		"t2": tool("t2", 0.5, registry.TrustVerified, false, time.Hour),
	}}
	d := New2(idx, st)

	results, err := d.Discover(context.Background(), "add two numbers", Options{K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Tool.ID != "t2" {
		t.Fatalf("expected only t2, got %+v", results)
	}
}

func TestDiscoverFiltersBelowMinTrust(t *testing.T) {
	idx := &fakeIndex{candidates: []embedindex.Candidate{{ToolID: "t1", Similarity: 0.9}}}
	st := &fakeStore{tools: map[string]*registry.Tool{
		"t1": tool("t1", 0.5, registry.TrustSubmitted, false, time.Hour),
	}}
	d := New2(idx, st)

	results, err := d.Discover(context.Background(), "x", Options{K: 5, MinTrustLevel: registry.TrustVerified})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results below min trust, got %+v", results)
	}
}

func TestDiscoverRanksByCombinedScore(t *testing.T) {
	idx := &fakeIndex{candidates: []embedindex.Candidate{
		{ToolID: "lo-sim-hi-fit", Similarity: 0.5},
		{ToolID: "hi-sim-lo-fit", Similarity: 0.9},
	}}
	st := &fakeStore{tools: map[string]*registry.Tool{
		"lo-sim-hi-fit": tool("lo-sim-hi-fit", 1.0, registry.TrustVerified, false, time.Hour),
		"hi-sim-lo-fit": tool("hi-sim-lo-fit", 0.0, registry.TrustVerified, false, time.Hour),
	}}
	d := New2(idx, st)

	results, err := d.Discover(context.Background(), "x", Options{K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// 0.7*0.5+0.3*1.0=0.65 vs 0.7*0.9+0.3*0.0=0.63: higher fitness wins here.
	if results[0].Tool.ID != "lo-sim-hi-fit" {
		t.Fatalf("expected lo-sim-hi-fit ranked first, got %s", results[0].Tool.ID)
	}
}

func TestDiscoverEmptyCandidatesReturnsEmpty(t *testing.T) {
	idx := &fakeIndex{}
	st := &fakeStore{tools: map[string]*registry.Tool{}}
	d := New2(idx, st)

	results, err := d.Discover(context.Background(), "nothing matches", Options{K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %+v", results)
	}
}

// New2 builds a Discovery against test doubles satisfying the index/store
// interfaces, bypassing the concrete-type constructor New.
func New2(idx index, st store) *Discovery {
	return &Discovery{index: idx, store: st}
}
