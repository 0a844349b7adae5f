package main

import (
	"path/filepath"
	"testing"
)

func TestBanStoreAddAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.txt")
	b := newBanStore(path)
	if err := b.load(); err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if b.contains("1.2.3.4") {
		t.Fatalf("expected empty ban store")
	}

	b.add("1.2.3.4")
	if !b.contains("1.2.3.4") {
		t.Fatalf("expected 1.2.3.4 to be banned")
	}

	reloaded := newBanStore(path)
	if err := reloaded.load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.contains("1.2.3.4") {
		t.Fatalf("expected persisted ban to survive reload")
	}
}
