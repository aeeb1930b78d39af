package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

// LoadStats counts what a directory load found.
type LoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedInvalid int
	Failures       []FileError
}

// FileError is a rule file that could not be read or decoded.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func isYAML(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

// yamlFiles lists rule files under path (a file or a directory), sorted.
func yamlFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule path: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadPath decodes every rule file under path. Files that fail to read or
// decode are counted and reported in stats, not returned as an error.
func LoadPath(path string) ([]sigma.RuleIR, LoadStats, error) {
	var stats LoadStats
	files, err := yamlFiles(path)
	if err != nil {
		return nil, stats, err
	}
	out := make([]sigma.RuleIR, 0, len(files))
	for _, p := range files {
		stats.TotalFiles++
		b, err := os.ReadFile(p)
		if err == nil {
			var r sigma.RuleIR
			if r, err = sigma.LoadRuleYAML(b); err == nil {
				out = append(out, r)
				stats.Loaded++
				continue
			}
		}
		stats.SkippedInvalid++
		stats.Failures = append(stats.Failures, FileError{Path: p, Err: err})
	}
	return out, stats, nil
}

// LoadDirRecursive is the strict form of LoadPath: the first bad file fails the load.
func LoadDirRecursive(root string) ([]sigma.RuleIR, error) {
	rs, stats, err := LoadPath(root)
	if err != nil {
		return nil, err
	}
	if len(stats.Failures) > 0 {
		return nil, stats.Failures[0]
	}
	return rs, nil
}
