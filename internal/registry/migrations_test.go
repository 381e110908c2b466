package registry

import (
	"path/filepath"
	"testing"
)

func TestOpenAppliesAllMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	store, err := Open(path, []byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	version, err := schemaVersion(store.db)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema at version %d, got %d", len(migrations), version)
	}
}

func TestOpenTwiceIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	store, err := Open(path, []byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	store.Close()

	reopened, err := Open(path, []byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	version, err := schemaVersion(reopened.db)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema still at version %d after reopen, got %d", len(migrations), version)
	}
}
