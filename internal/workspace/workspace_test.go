package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLayout(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ws.AuditDBPath != filepath.Join(root, "audit", "audit.sqlite") {
		t.Fatalf("unexpected audit db path %s", ws.AuditDBPath)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, dir := range []string{ws.RootsDir, ws.AuditDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestResolveRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(p); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestResolveRootFallbacks(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvRoot, dir)
	got, err := ResolveRoot("  ")
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %s from env, got %s", dir, got)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err = ResolveRoot("~/ws")
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if got != filepath.Join(home, "ws") {
		t.Fatalf("expected home expansion, got %s", got)
	}

	if _, err := ResolveRoot("~other/ws"); err == nil {
		t.Fatalf("expected error for ~user expansion")
	}
}

func TestResolvePathAndCatalogue(t *testing.T) {
	ws, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := ws.ResolvePath("scenarios/extra.yml")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(ws.Root, "scenarios", "extra.yml") {
		t.Fatalf("unexpected resolved path %s", got)
	}
	if got, _ := ws.ResolvePath("/abs/../abs/x"); got != "/abs/x" {
		t.Fatalf("expected cleaned absolute path, got %s", got)
	}

	if ws.Catalogue() != "" {
		t.Fatalf("expected no workspace catalogue")
	}
	if err := os.MkdirAll(ws.CatalogueDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.CatalogueDir, "extra.yml"), []byte("suite: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ws.Catalogue() != ws.CatalogueDir {
		t.Fatalf("expected workspace catalogue dir")
	}
}
