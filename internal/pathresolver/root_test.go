package pathresolver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFromFindsMarkerUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, MarkerDir), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := ResolveFrom(nested)
	if err != nil {
		t.Fatalf("ResolveFrom: %v", err)
	}
	if paths.Root != root {
		t.Fatalf("expected root %s, got %s", root, paths.Root)
	}
	if paths.DBPath != filepath.Join(root, MarkerDir, "state.db") {
		t.Fatalf("unexpected DBPath: %s", paths.DBPath)
	}
}

func TestResolveFromFallsBackToHome(t *testing.T) {
	start := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)

	paths, err := ResolveFrom(start)
	if err != nil {
		t.Fatalf("ResolveFrom: %v", err)
	}
	if paths.Root != home {
		t.Fatalf("expected fallback root %s, got %s", home, paths.Root)
	}
}

func TestPlatformPaths(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, MarkerDir), 0o755); err != nil {
		t.Fatal(err)
	}
	paths, err := ResolveFrom(root)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := paths.PlatformAuthDir("signal"), filepath.Join(root, MarkerDir, "signal-auth"); got != want {
		t.Fatalf("PlatformAuthDir = %s, want %s", got, want)
	}
	if err := paths.EnsureDirs("signal", "whatsapp"); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, pl := range []string{"signal", "whatsapp"} {
		if info, err := os.Stat(paths.PlatformAuthDir(pl)); err != nil || !info.IsDir() {
			t.Fatalf("expected auth dir for %s to exist", pl)
		}
	}
}
