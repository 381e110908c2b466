package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	store, err := Open(path, []byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleInput() NewToolInput {
	return NewToolInput{
		Name:          "add",
		Description:   "adds two numbers",
		Intent:        "add two integers together",
		Code:          "def add(a,b): return a+b",
		TestCase:      "assert add(2,3) == 5",
		AuthorAgentID: "agent-1",
	}
}

func TestInsertAssignsIdentityAndVerifiedTrust(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tool, err := store.Insert(ctx, sampleInput(), true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tool.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if tool.Version != 1 {
		t.Fatalf("expected version 1, got %d", tool.Version)
	}
	if tool.TrustLevel != TrustVerified {
		t.Fatalf("expected TrustVerified, got %v", tool.TrustLevel)
	}
	if tool.Signature == "" {
		t.Fatalf("expected non-empty signature")
	}
	if tool.ContentHash == "" {
		t.Fatalf("expected non-empty content hash")
	}
}

func TestInsertUnapprovedStaysSubmitted(t *testing.T) {
	store := newTestStore(t)
	tool, err := store.Insert(context.Background(), sampleInput(), false)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tool.TrustLevel != TrustSubmitted {
		t.Fatalf("expected TrustSubmitted, got %v", tool.TrustLevel)
	}
}

func TestInsertRejectsDuplicateContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Insert(ctx, sampleInput(), true); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := store.Insert(ctx, sampleInput(), true)
	if err == nil {
		t.Fatalf("expected duplicate rejection")
	}
}

func TestForkIncrementsVersionAndSharesLineage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.Insert(ctx, sampleInput(), true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	forkInput := sampleInput()
	forkInput.Code = "def add(a,b): return a+b  # v2"
	forkInput.TestCase = "assert add(2,3) == 5  # v2"

	child, err := store.Fork(ctx, root.ID, forkInput, true)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.Version != 2 {
		t.Fatalf("expected version 2, got %d", child.Version)
	}
	if child.LineageRootID != root.LineageRootID {
		t.Fatalf("expected shared lineage root")
	}
	if child.ParentToolID != root.ID {
		t.Fatalf("expected parent_tool_id to point at root")
	}
}

func TestForkRejectsDelistedParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.Insert(ctx, sampleInput(), true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.MarkDelisted(ctx, root.ID, "test delist"); err != nil {
		t.Fatalf("delist: %v", err)
	}

	forkInput := sampleInput()
	forkInput.Code = "def add(a,b): return a+b  # v2"
	_, err = store.Fork(ctx, root.ID, forkInput, true)
	if err == nil {
		t.Fatalf("expected fork against delisted parent to fail")
	}
}

func TestProvenanceReturnsRootToSelfChain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, _ := store.Insert(ctx, sampleInput(), true)
	forkInput := sampleInput()
	forkInput.Code = "def add(a,b): return a+b  # v2"
	child, err := store.Fork(ctx, root.ID, forkInput, true)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	chain, err := store.Provenance(ctx, child.ID)
	if err != nil {
		t.Fatalf("provenance: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected chain length 2, got %d", len(chain))
	}
	if chain[0].ID != root.ID || chain[1].ID != child.ID {
		t.Fatalf("expected root-to-self ordering")
	}
}

func TestRecordUsageUpdatesAggregatesAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tool, _ := store.Insert(ctx, sampleInput(), true)
	ts := time.Now().UTC()

	report := UsageReport{ToolID: tool.ID, AgentID: "agent-1", Success: true, ExecutionTimeMS: 50, Timestamp: ts}
	updated, err := store.RecordUsage(ctx, report)
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if updated.TotalUses != 1 || updated.SuccessfulUses != 1 || updated.UniqueAgents != 1 {
		t.Fatalf("unexpected aggregates: %+v", updated)
	}

	// Re-applying the identical report must be a no-op (idempotent by key).
	again, err := store.RecordUsage(ctx, report)
	if err != nil {
		t.Fatalf("record usage (repeat): %v", err)
	}
	if again.TotalUses != 1 {
		t.Fatalf("expected idempotent no-op, got total_uses=%d", again.TotalUses)
	}
}

func TestMarkDelistedIsIdempotentAndTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tool, _ := store.Insert(ctx, sampleInput(), true)
	if err := store.MarkDelisted(ctx, tool.ID, "low fitness"); err != nil {
		t.Fatalf("delist: %v", err)
	}
	if err := store.MarkDelisted(ctx, tool.ID, "low fitness again"); err != nil {
		t.Fatalf("idempotent delist: %v", err)
	}

	got, err := store.Get(ctx, tool.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Delisted {
		t.Fatalf("expected delisted tool to remain delisted")
	}
}

func TestListExcludesDelistedByDefault(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tool, _ := store.Insert(ctx, sampleInput(), true)
	if err := store.MarkDelisted(ctx, tool.ID, "test"); err != nil {
		t.Fatalf("delist: %v", err)
	}

	active, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected delisted tool excluded by default, got %d results", len(active))
	}

	all, err := store.List(ctx, ListFilter{IncludeDelisted: true})
	if err != nil {
		t.Fatalf("list (include delisted): %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 result including delisted, got %d", len(all))
	}
}
