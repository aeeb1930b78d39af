package rules

import (
	"fmt"
	"os"

	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

// Ruleset is an engine built from a rule path plus what was left out.
type Ruleset struct {
	Engine  *engine.Engine
	Stats   LoadStats
	Skipped []engine.SkippedRule
}

// Rejected is the number of rule files or rules that did not make it into the engine.
func (rs *Ruleset) Rejected() int {
	return rs.Stats.SkippedInvalid + len(rs.Skipped)
}

// LoadFieldMapping reads a mapping file; an empty path gives the identity mapping.
func LoadFieldMapping(path string) (sigma.FieldMapping, error) {
	if path == "" {
		return sigma.NewFieldMapping(nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return sigma.FieldMapping{}, fmt.Errorf("read field mapping: %w", err)
	}
	return sigma.LoadFieldMappingYAML(b)
}

// Compile loads the rules under path and compiles them into an engine.
// Bad files and rules whose condition does not compile are logged and skipped.
func Compile(path string, fm sigma.FieldMapping, opts engine.Options) (*Ruleset, error) {
	irs, stats, err := LoadPath(path)
	if err != nil {
		return nil, err
	}
	for _, f := range stats.Failures {
		logger.Warnf("Skipping rule file %s: %v", f.Path, f.Err)
	}

	eng, skipped := engine.Compile(irs, fm, opts)
	for _, s := range skipped {
		logger.Warnf("Skipping rule %s (%s) [%s]: %v", s.ID, s.Title, s.Kind(), s.Err)
	}

	pf := eng.PrefilterStats()
	logger.Infof("Rules loaded: files=%d compiled=%d invalid_files=%d skipped_rules=%d prefilter_patterns=%d always_evaluated=%d",
		stats.TotalFiles, eng.Len(), stats.SkippedInvalid, len(skipped), pf.Patterns, pf.AlwaysEval)

	return &Ruleset{Engine: eng, Stats: stats, Skipped: skipped}, nil
}
