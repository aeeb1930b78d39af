package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

const goodRule = `
title: Whoami
id: whoami
detection:
  selection:
    Image|endswith: '\whoami.exe'
  condition: selection
`

const aggRule = `
title: Many Logons
id: many-logons
detection:
  selection:
    EventID: 4625
  condition: selection | count() by TargetUserName > 10
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPath_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/good.yml", goodRule)
	writeFile(t, dir, "b/agg.yaml", aggRule)
	writeFile(t, dir, "b/broken.yml", "title: [oops")
	writeFile(t, dir, "README.md", "# not a rule")

	rs, stats, err := LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath error = %v", err)
	}
	if stats.TotalFiles != 3 || stats.Loaded != 2 || stats.SkippedInvalid != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs))
	}
	if _, err := LoadDirRecursive(dir); err == nil {
		t.Fatalf("strict load should fail on broken.yml")
	}
}

func TestLoadPath_SingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yml", goodRule)
	rs, stats, err := LoadPath(filepath.Join(dir, "good.yml"))
	if err != nil || len(rs) != 1 || stats.Loaded != 1 {
		t.Fatalf("LoadPath = %d rules, %+v, %v", len(rs), stats, err)
	}
}

func TestLoadPath_Missing(t *testing.T) {
	if _, _, err := LoadPath(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestCompile_ReportsSkippedRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yml", goodRule)
	writeFile(t, dir, "agg.yml", aggRule)
	writeFile(t, dir, "broken.yml", "detection: [")

	rs, err := Compile(dir, sigma.NewFieldMapping(nil), engine.DefaultOptions())
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if rs.Engine.Len() != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", rs.Engine.Len())
	}
	if len(rs.Skipped) != 1 || rs.Skipped[0].Kind() != "aggregation" {
		t.Fatalf("skipped = %v", rs.Skipped)
	}
	if rs.Rejected() != 2 {
		t.Fatalf("Rejected() = %d, want 2", rs.Rejected())
	}

	ids, err := rs.Engine.Evaluate(map[string]any{"Image": `C:\Windows\System32\whoami.exe`})
	if err != nil || len(ids) != 1 || ids[0] != "whoami" {
		t.Fatalf("Evaluate = %v, %v", ids, err)
	}
}

func TestLoadFieldMapping(t *testing.T) {
	fm, err := LoadFieldMapping("")
	if err != nil || fm.Resolve("Image") != "Image" {
		t.Fatalf("identity mapping = %v, %v", fm, err)
	}
	dir := t.TempDir()
	writeFile(t, dir, "map.yml", "Image: process.executable\n")
	fm, err = LoadFieldMapping(filepath.Join(dir, "map.yml"))
	if err != nil || fm.Resolve("Image") != "process.executable" {
		t.Fatalf("mapping = %v, %v", fm, err)
	}
}
