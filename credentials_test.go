package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialRotatorGenerateAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.txt")
	c := newCredentialRotator(path)

	secret, err := c.generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(secret) != adminSecretLen {
		t.Fatalf("expected %d-character secret, got %d", adminSecretLen, len(secret))
	}
	if !c.check(secret) {
		t.Fatalf("expected check to accept the just-generated secret")
	}
	if c.check("wrong") {
		t.Fatalf("expected check to reject an incorrect secret")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted secret: %v", err)
	}
	if string(data) != secret+"\n" {
		t.Fatalf("persisted file content mismatch")
	}
}

func TestCredentialRotatorStickyElevation(t *testing.T) {
	// Elevation sticking across rotation is a Session-level concern (the
	// Session's Admin flag doesn't get reset), exercised in hub_test.go's
	// rename/elevation tests; this only checks that a second generate()
	// invalidates the first secret for *future* checks.
	path := filepath.Join(t.TempDir(), "admin.txt")
	c := newCredentialRotator(path)

	first, err := c.generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := c.generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatalf("expected rotation to produce a different secret")
	}
	if c.check(first) {
		t.Fatalf("expected the old secret to no longer validate")
	}
	if !c.check(second) {
		t.Fatalf("expected the new secret to validate")
	}
}
