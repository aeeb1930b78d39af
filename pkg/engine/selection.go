package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

func getValue(event map[string]any, dotted string) (any, bool) {
	if v, ok := event[dotted]; ok {
		return v, true
	}
	cur := any(event)
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func normCase(s string, cased bool) string {
	if cased {
		return s
	}
	return strings.ToLower(s)
}

var windashReplacer = strings.NewReplacer("—", "-", "–", "-", "―", "-", "/", "-")

func normalizeWindash(s string) string {
	return windashReplacer.Replace(s)
}

// regexCache holds compiled patterns shared by all goroutines evaluating
// the engine. A pattern that fails to compile is cached as nil.
var regexCache sync.Map // string -> *regexp.Regexp

func cachedRegexp(pat string) *regexp.Regexp {
	if re, ok := regexCache.Load(pat); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		re = nil
	}
	regexCache.Store(pat, re)
	return re
}

// --- base64/wide helpers ---

// toUTF16LEBytes interleaves NUL bytes; enough for ASCII patterns.
func toUTF16LEBytes(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0x00)
	}
	return out
}

func encodeBase64Offsets(b []byte) []string {
	if len(b) == 0 {
		return []string{""}
	}
	var out []string
	for off := 0; off < 3 && off < len(b); off++ {
		out = append(out, base64.StdEncoding.EncodeToString(b[off:]))
	}
	return out
}

func patternsWithEncoding(pattern string, mods sigma.PredicateModifiers) []string {
	if !mods.Encoded() {
		return []string{pattern}
	}
	var raw []byte
	if mods.Wide || mods.UTF16LE {
		raw = toUTF16LEBytes(pattern)
	} else {
		raw = []byte(pattern)
	}
	if mods.Base64Offset {
		return encodeBase64Offsets(raw)
	}
	if mods.Base64 {
		return []string{base64.StdEncoding.EncodeToString(raw)}
	}
	return []string{string(raw)}
}

// --- core matching ---

func matchStringWithOp(val, patt string, op sigma.Operator, mods sigma.PredicateModifiers) bool {
	a, b := val, patt
	if mods.Windash {
		a = normalizeWindash(a)
		b = normalizeWindash(b)
	}

	aa := normCase(a, mods.CaseSensitive)
	bb := normCase(b, mods.CaseSensitive)

	switch op {
	case sigma.OpEq:
		return aa == bb
	case sigma.OpNeq:
		return aa != bb
	case sigma.OpContains:
		return strings.Contains(aa, bb)
	case sigma.OpStartsWith:
		return strings.HasPrefix(aa, bb)
	case sigma.OpEndsWith:
		return strings.HasSuffix(aa, bb)
	case sigma.OpRegex:
		pat := b
		if !mods.CaseSensitive && !strings.HasPrefix(pat, "(?i)") {
			pat = "(?i)" + pat
		}
		re := cachedRegexp(pat)
		return re != nil && re.MatchString(a)
	default:
		return false
	}
}

func parseFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// matchValues applies p to one field value, honouring list values and
// encoding modifiers.
func matchValues(valS string, p sigma.SelectionPredicate) bool {
	arr, isList := p.Value.([]any)
	if !isList {
		arr = []any{p.Value}
	}
	if isList && p.Modifiers.RequireAllVals {
		for _, it := range arr {
			if !matchOneValue(valS, toString(it), p) {
				return false
			}
		}
		return len(arr) > 0
	}
	for _, it := range arr {
		if matchOneValue(valS, toString(it), p) {
			return true
		}
	}
	return false
}

func matchOneValue(valS, pattern string, p sigma.SelectionPredicate) bool {
	for _, enc := range patternsWithEncoding(pattern, p.Modifiers) {
		if matchStringWithOp(valS, enc, p.Op, p.Modifiers) {
			return true
		}
	}
	return false
}

// eachScalar calls fn for every non-container value in v until fn returns true.
func eachScalar(v any, fn func(string) bool) bool {
	switch t := v.(type) {
	case map[string]any:
		for _, vv := range t {
			if eachScalar(vv, fn) {
				return true
			}
		}
		return false
	case []any:
		for _, vv := range t {
			if eachScalar(vv, fn) {
				return true
			}
		}
		return false
	case nil:
		return false
	default:
		return fn(toString(t))
	}
}

// matchKeyword matches a keyword predicate against every value in the event.
// With RequireAllVals each keyword may be found in a different field.
func matchKeyword(event map[string]any, p sigma.SelectionPredicate) bool {
	arr, isList := p.Value.([]any)
	if !isList {
		arr = []any{p.Value}
	}
	found := func(pattern string) bool {
		return eachScalar(event, func(s string) bool { return matchOneValue(s, pattern, p) })
	}
	if isList && p.Modifiers.RequireAllVals {
		for _, it := range arr {
			if !found(toString(it)) {
				return false
			}
		}
		return len(arr) > 0
	}
	for _, it := range arr {
		if found(toString(it)) {
			return true
		}
	}
	return false
}

func matchPredicate(event map[string]any, p sigma.SelectionPredicate, fm sigma.FieldMapping) bool {
	if p.Field == sigma.KeywordField {
		return matchKeyword(event, p)
	}
	field := fm.Resolve(p.Field)

	if p.Op == sigma.OpExists {
		want := true
		if b, ok := p.Value.(bool); ok {
			want = b
		}
		_, ok := getValue(event, field)
		return ok == want
	}

	v, ok := getValue(event, field)
	if !ok {
		return false
	}

	// OpAll: every list element contains the needle
	if p.Op == sigma.OpAll {
		needle := normCase(toString(p.Value), p.Modifiers.CaseSensitive)
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			return false
		}
		for _, it := range list {
			if !strings.Contains(normCase(toString(it), p.Modifiers.CaseSensitive), needle) {
				return false
			}
		}
		return true
	}

	if p.Op == sigma.OpCidr {
		vals := []string{toString(p.Value)}
		if arr, ok := p.Value.([]any); ok {
			vals = vals[:0]
			for _, it := range arr {
				vals = append(vals, toString(it))
			}
		}
		ip := net.ParseIP(strings.TrimSpace(toString(v)))
		if ip == nil {
			return false
		}
		for _, c := range vals {
			_, netw, err := net.ParseCIDR(strings.TrimSpace(c))
			if err == nil && netw.Contains(ip) {
				return true
			}
		}
		return false
	}

	switch p.Op {
	case sigma.OpLt, sigma.OpLte, sigma.OpGt, sigma.OpGte:
		lhs, ok1 := parseFloat(v)
		rhs, ok2 := parseFloat(p.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch p.Op {
		case sigma.OpLt:
			return lhs < rhs
		case sigma.OpLte:
			return lhs <= rhs
		case sigma.OpGt:
			return lhs > rhs
		default:
			return lhs >= rhs
		}
	}

	if p.Modifiers.FieldRef {
		ov, ok := getValue(event, fm.Resolve(toString(p.Value)))
		if !ok {
			return false
		}
		return matchStringWithOp(toString(v), toString(ov), p.Op, p.Modifiers)
	}

	return matchValues(toString(v), p)
}

// evalSelection is true when any group has all of its predicates matching.
func evalSelection(event map[string]any, sel sigma.Selection, fm sigma.FieldMapping) bool {
	for _, g := range sel.Groups {
		ok := true
		for _, p := range g.Predicates {
			if !matchPredicate(event, p, fm) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
