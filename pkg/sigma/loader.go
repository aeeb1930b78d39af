package sigma

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDetection = errors.New("missing detection block")
	ErrMissingCondition = errors.New("missing detection condition")
)

type rawRule struct {
	Title       string         `yaml:"title"`
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Status      string         `yaml:"status"`
	Level       string         `yaml:"level"`
	Author      string         `yaml:"author"`
	Tags        []string       `yaml:"tags"`
	Logsource   map[string]any `yaml:"logsource"`
	Detection   map[string]any `yaml:"detection"`
}

// LoadRuleYAML decodes one rule document. The condition is kept as text.
func LoadRuleYAML(b []byte) (RuleIR, error) {
	var rr rawRule
	if err := yaml.Unmarshal(b, &rr); err != nil {
		return RuleIR{}, fmt.Errorf("decode rule: %w", err)
	}
	if rr.Detection == nil {
		return RuleIR{}, ErrMissingDetection
	}

	rawCond, ok := rr.Detection["condition"]
	if !ok {
		return RuleIR{}, ErrMissingCondition
	}
	conds, err := readConditions(rawCond)
	if err != nil {
		return RuleIR{}, err
	}

	selections := map[string]Selection{}
	for name, node := range rr.Detection {
		if name == "condition" || name == "timeframe" {
			continue
		}
		sel, err := parseSelection(name, node)
		if err != nil {
			return RuleIR{}, err
		}
		selections[name] = sel
	}

	id := strings.TrimSpace(rr.ID)
	if id == "" {
		id = rr.Title
	}

	return RuleIR{
		ID:          id,
		Title:       rr.Title,
		Description: strings.TrimSpace(rr.Description),
		Status:      rr.Status,
		Level:       rr.Level,
		Author:      rr.Author,
		Tags:        rr.Tags,
		Logsource:   rr.Logsource,
		Selections:  selections,
		Condition:   joinConditions(conds),
		Conditions:  conds,
	}, nil
}

// readConditions accepts a single string or a list of strings.
func readConditions(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{""}, nil
	case string:
		return []string{strings.TrimSpace(t)}, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("condition item %d is %T, want string", i, it)
			}
			out = append(out, strings.TrimSpace(s))
		}
		if len(out) == 0 {
			return []string{""}, nil
		}
		return out, nil
	}
	return nil, fmt.Errorf("condition is %T, want string or list of strings", v)
}

func joinConditions(conds []string) string {
	if len(conds) == 1 {
		return conds[0]
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = "(" + c + ")"
	}
	return strings.Join(parts, " or ")
}

func parseSelection(name string, node any) (Selection, error) {
	switch v := node.(type) {
	case map[string]any:
		preds, err := parsePredicateMap(v)
		if err != nil {
			return Selection{}, fmt.Errorf("selection %s: %w", name, err)
		}
		return Selection{Name: name, Groups: []SelectionGroup{{Predicates: preds}}}, nil

	case []any:
		if isKeywordList(v) {
			return Selection{Name: name, Groups: []SelectionGroup{{
				Predicates: []SelectionPredicate{{Field: KeywordField, Op: OpContains, Value: v}},
			}}}, nil
		}
		var groups []SelectionGroup
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return Selection{}, fmt.Errorf("selection %s item %d not a mapping", name, i)
			}
			preds, err := parsePredicateMap(m)
			if err != nil {
				return Selection{}, fmt.Errorf("selection %s item %d: %w", name, i, err)
			}
			groups = append(groups, SelectionGroup{Predicates: preds})
		}
		return Selection{Name: name, Groups: groups}, nil

	case string:
		return Selection{Name: name, Groups: []SelectionGroup{{
			Predicates: []SelectionPredicate{{Field: KeywordField, Op: OpContains, Value: v}},
		}}}, nil
	}
	return Selection{}, fmt.Errorf("selection %s must be mapping or list", name)
}

func isKeywordList(v []any) bool {
	if len(v) == 0 {
		return false
	}
	for _, it := range v {
		switch it.(type) {
		case string, int, int64, float64:
		default:
			return false
		}
	}
	return true
}

// parsePredicateMap returns predicates in key order so matching is stable.
func parsePredicateMap(mp map[string]any) ([]SelectionPredicate, error) {
	keys := make([]string, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SelectionPredicate, 0, len(mp))
	for _, rawKey := range keys {
		field, op, mods, err := parseFieldKey(rawKey)
		if err != nil {
			return nil, err
		}
		out = append(out, SelectionPredicate{
			Field: field, Op: op, Value: mp[rawKey], Modifiers: mods,
		})
	}
	return out, nil
}

// Field|mod1|mod2 -> (field, op, modifiers). Unknown modifiers are ignored.
func parseFieldKey(s string) (field string, op Operator, mods PredicateModifiers, err error) {
	parts := strings.Split(s, "|")
	field = strings.TrimSpace(parts[0])
	if field == "" {
		return "", 0, mods, fmt.Errorf("empty field name in %q", s)
	}
	op = OpEq

	for _, m := range parts[1:] {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "contains":
			op = OpContains
		case "startswith":
			op = OpStartsWith
		case "endswith":
			op = OpEndsWith
		case "re", "regex":
			op = OpRegex
		case "exists":
			op = OpExists
		case "cidr":
			op = OpCidr
		case "lt":
			op = OpLt
		case "lte":
			op = OpLte
		case "gt":
			op = OpGt
		case "gte":
			op = OpGte
		case "all":
			mods.RequireAllVals = true

		case "cased":
			mods.CaseSensitive = true
		case "wide", "utf16", "utf16le":
			mods.UTF16LE, mods.Wide = true, true
		case "base64":
			mods.Base64 = true
		case "base64offset":
			mods.Base64Offset = true
		case "windash":
			mods.Windash = true
		case "fieldref":
			mods.FieldRef = true
		}
	}
	return
}
