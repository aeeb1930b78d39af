package sigma

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldMapping renames rule fields to event fields. Lookups try the exact
// name first, then its lower-cased form.
type FieldMapping struct{ M map[string]string }

func NewFieldMapping(m map[string]string) FieldMapping {
	if m == nil {
		m = map[string]string{}
	}
	return FieldMapping{M: m}
}

// LoadFieldMappingYAML reads a flat "RuleField: event.field" document.
func LoadFieldMappingYAML(b []byte) (FieldMapping, error) {
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return FieldMapping{}, fmt.Errorf("decode field mapping: %w", err)
	}
	return NewFieldMapping(m), nil
}

func (fm FieldMapping) Resolve(field string) string {
	if v, ok := fm.M[field]; ok {
		return v
	}
	if v, ok := fm.M[strings.ToLower(field)]; ok {
		return v
	}
	return field
}
