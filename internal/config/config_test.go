package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ideport.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
sourcesdir: ./src
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcesDir != "./src" {
		t.Errorf("SourcesDir = %q, want ./src", cfg.SourcesDir)
	}
}

func TestLoadRequiresSourcesDir(t *testing.T) {
	path := writeConfig(t, `
workingdir: ./work
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing sourcesdir")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
sourcesdir: ./src
bogusfield: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("IDEPORT_SOURCES", "/srv/sources")
	path := writeConfig(t, `
sourcesdir: ${IDEPORT_SOURCES}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcesDir != "/srv/sources" {
		t.Errorf("SourcesDir = %q, want /srv/sources", cfg.SourcesDir)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("staticoptions: [\"-O2\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nsourcesdir: ./src\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcesDir != "./src" {
		t.Errorf("SourcesDir = %q, want ./src", cfg.SourcesDir)
	}
	if len(cfg.StaticOptions) != 1 || cfg.StaticOptions[0] != "-O2" {
		t.Errorf("StaticOptions = %v, want [-O2]", cfg.StaticOptions)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(aPath, []byte("$include: b.yaml\nsourcesdir: ./src\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(aPath); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load: err = %v, want include cycle error", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ideport.json5")
	contents := `{
  // comments are fine in json5
  sourcesdir: "./src",
  staticoptions: ["-O2", "-Wall"],
}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.StaticOptions) != 2 {
		t.Errorf("StaticOptions = %v, want 2 entries", cfg.StaticOptions)
	}
}
