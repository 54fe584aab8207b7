package configfile

import "testing"

func TestEnsureInitializedCreatesOnce(t *testing.T) {
	dir := t.TempDir()

	m1, created1, err := EnsureInitialized(dir, "install-abc", "1.2.3")
	if err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	if !created1 {
		t.Fatalf("expected first call to create metadata")
	}
	if m1.InstallID != "install-abc" {
		t.Fatalf("unexpected install id: %s", m1.InstallID)
	}

	m2, created2, err := EnsureInitialized(dir, "install-xyz", "9.9.9")
	if err != nil {
		t.Fatalf("EnsureInitialized (second call): %v", err)
	}
	if created2 {
		t.Fatalf("expected second call to not recreate metadata")
	}
	if m2.InstallID != "install-abc" {
		t.Fatalf("expected existing install id to be preserved, got %s", m2.InstallID)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	m, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil metadata for uninitialized dir, got %+v", m)
	}
}
