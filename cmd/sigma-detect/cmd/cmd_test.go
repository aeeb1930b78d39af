package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCompileCommand(t *testing.T) {
	out, err := execute(t, "compile", "--ids", "selection,filter", "SELECTION  and NOT filter")
	if err == nil {
		t.Fatalf("identifiers are case-sensitive, expected error; out=%s", out)
	}
	if !strings.Contains(err.Error(), "[unresolved_reference]") {
		t.Fatalf("err=%v", err)
	}

	out, err = execute(t, "compile", "--ids", "selection,filter", "selection  AND NOT filter")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(out, "selection and not filter") {
		t.Fatalf("canonical form missing: %s", out)
	}
	if !strings.Contains(out, "references: [filter selection]") {
		t.Fatalf("references missing: %s", out)
	}
}

func TestCompileCommand_SyntaxCaret(t *testing.T) {
	out, err := execute(t, "compile", "--ids", "a,b", "a or b)")
	if err == nil || !strings.Contains(err.Error(), "[syntax]") {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(out, "a or b)\n      ^") {
		t.Fatalf("caret not printed under position 6:\n%s", out)
	}
}

const goodRule = `
title: Whoami
id: whoami
detection:
  selection:
    Image|endswith: '\whoami.exe'
  condition: selection
`

const aggRule = `
title: Brute Force
id: brute
detection:
  selection:
    EventID: 4625
  condition: selection | count() > 5
`

func writeRules(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCheckCommand(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": goodRule})
	out, err := execute(t, "check", dir)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "compiled=1") {
		t.Fatalf("summary: %s", out)
	}

	dir = writeRules(t, map[string]string{"whoami.yml": goodRule, "brute.yml": aggRule})
	out, err = execute(t, "check", dir)
	if err == nil {
		t.Fatalf("expected rejection error\n%s", out)
	}
	if !strings.Contains(out, "aggregation") || !strings.Contains(out, "brute") {
		t.Fatalf("skipped rule not reported:\n%s", out)
	}
}

func TestCheckCommand_Strict(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": goodRule, "broken.yml": "title: [unterminated"})
	out, err := execute(t, "check", "--strict", dir)
	if err == nil || !strings.Contains(err.Error(), "broken.yml") {
		t.Fatalf("err=%v\n%s", err, out)
	}
}

type pingSource struct {
	err    error
	pinged bool
}

func (p *pingSource) Pop(ctx context.Context) ([]byte, error) { return nil, nil }
func (p *pingSource) Close() error                            { return nil }
func (p *pingSource) Ping(ctx context.Context) error {
	p.pinged = true
	return p.err
}

type plainSource struct{}

func (plainSource) Pop(ctx context.Context) ([]byte, error) { return nil, nil }
func (plainSource) Close() error                            { return nil }

func TestCheckSource(t *testing.T) {
	refused := errors.New("connection refused")
	src := &pingSource{err: refused}
	if err := checkSource(context.Background(), src); !errors.Is(err, refused) || !src.pinged {
		t.Fatalf("err=%v pinged=%v", err, src.pinged)
	}
	if err := checkSource(context.Background(), &pingSource{}); err != nil {
		t.Fatal(err)
	}
	if err := checkSource(context.Background(), plainSource{}); err != nil {
		t.Fatal(err)
	}
}
