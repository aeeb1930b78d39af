package sigma

import (
	"reflect"
	"sort"
	"testing"
)

func sortedLits(t *testing.T, s Selection) ([]string, bool) {
	t.Helper()
	lits, ok := s.RequiredLiterals()
	sort.Strings(lits)
	return lits, ok
}

func TestRequiredLiterals_GroupPicksOnePredicate(t *testing.T) {
	sel := Selection{Name: "sel", Groups: []SelectionGroup{{
		Predicates: []SelectionPredicate{
			{Field: "CommandLine", Op: OpContains, Value: "cmd"},
			{Field: "CommandLine", Op: OpRegex, Value: ".*test.*"},
			{Field: "Image", Op: OpEndsWith, Value: []any{`\PowerShell.exe`, `\pwsh.exe`}},
		},
	}}}
	lits, ok := sortedLits(t, sel)
	if !ok {
		t.Fatalf("expected literals")
	}
	want := []string{`\powershell.exe`, `\pwsh.exe`}
	if !reflect.DeepEqual(lits, want) {
		t.Fatalf("RequiredLiterals() = %v, want %v", lits, want)
	}
}

func TestRequiredLiterals_UnionOfGroups(t *testing.T) {
	sel := Selection{Name: "sel", Groups: []SelectionGroup{
		{Predicates: []SelectionPredicate{{Field: "Description", Op: OpContains, Value: "7-Zip"}}},
		{Predicates: []SelectionPredicate{{Field: "OriginalFileName", Op: OpEq, Value: "7za.exe"}}},
	}}
	lits, ok := sortedLits(t, sel)
	if !ok || !reflect.DeepEqual(lits, []string{"7-zip", "7za.exe"}) {
		t.Fatalf("RequiredLiterals() = %v, %v", lits, ok)
	}
}

func TestRequiredLiterals_Unusable(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
	}{
		{"no groups", Selection{Name: "x"}},
		{"regex only", Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
			{Field: "a", Op: OpRegex, Value: "abc.*"},
		}}}}},
		{"short literal", Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
			{Field: "a", Op: OpEq, Value: []any{"long enough", "ab"}},
		}}}}},
		{"neq", Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
			{Field: "a", Op: OpNeq, Value: "something"},
		}}}}},
		{"base64", Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
			{Field: "a", Op: OpContains, Value: "something", Modifiers: PredicateModifiers{Base64: true}},
		}}}}},
		{"windash", Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
			{Field: "a", Op: OpContains, Value: "-encoded", Modifiers: PredicateModifiers{Windash: true}},
		}}}}},
		{"one group without literal", Selection{Groups: []SelectionGroup{
			{Predicates: []SelectionPredicate{{Field: "a", Op: OpContains, Value: "something"}}},
			{Predicates: []SelectionPredicate{{Field: "b", Op: OpExists, Value: true}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if lits, ok := tt.sel.RequiredLiterals(); ok {
				t.Fatalf("expected no literal set, got %v", lits)
			}
		})
	}
}

func TestRequiredLiterals_Numbers(t *testing.T) {
	sel := Selection{Groups: []SelectionGroup{{Predicates: []SelectionPredicate{
		{Field: "EventID", Op: OpEq, Value: []any{4688, 4689}},
	}}}}
	lits, ok := sortedLits(t, sel)
	if !ok || !reflect.DeepEqual(lits, []string{"4688", "4689"}) {
		t.Fatalf("RequiredLiterals() = %v, %v", lits, ok)
	}
}

func TestLoadFieldMappingYAML(t *testing.T) {
	fm, err := LoadFieldMappingYAML([]byte("Image: process.executable\ncommandline: process.command_line\n"))
	if err != nil {
		t.Fatalf("LoadFieldMappingYAML error = %v", err)
	}
	if got := fm.Resolve("Image"); got != "process.executable" {
		t.Fatalf("Resolve(Image) = %q", got)
	}
	if got := fm.Resolve("CommandLine"); got != "process.command_line" {
		t.Fatalf("Resolve(CommandLine) = %q", got)
	}
	if got := fm.Resolve("User"); got != "User" {
		t.Fatalf("Resolve(User) = %q", got)
	}
}
