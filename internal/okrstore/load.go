package okrstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LoadSeedDir loads and validates every YAML seed document in dir.
func LoadSeedDir(dir string) ([]Seed, error) {
	if dir == "" {
		dir = "seeds"
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("scan seed dir: %w", err)
	}
	more, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan seed dir: %w", err)
	}
	files = append(files, more...)
	if len(files) == 0 {
		return nil, fmt.Errorf("no seed YAML files found in %s", dir)
	}
	sort.Strings(files)

	var seeds []Seed
	var vErrs ValidationErrors

	for _, path := range files {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
		seed, parseErr := ParseAndValidateSeed(data, path)
		if parseErr != nil {
			if ve, ok := parseErr.(ValidationErrors); ok {
				vErrs = append(vErrs, ve...)
				continue
			}
			return nil, parseErr
		}
		seeds = append(seeds, seed)
	}

	if len(vErrs) > 0 {
		return nil, vErrs
	}
	return seeds, nil
}

// OrderByParent returns the seed's objectives with every parent ahead of its
// children. Input order is kept otherwise.
func (s Seed) OrderByParent() []SeedObjective {
	byKey := make(map[string]SeedObjective, len(s.Objectives))
	for _, obj := range s.Objectives {
		byKey[obj.Key] = obj
	}

	placed := make(map[string]bool, len(s.Objectives))
	visiting := make(map[string]bool)
	var ordered []SeedObjective

	var place func(obj SeedObjective)
	place = func(obj SeedObjective) {
		if placed[obj.Key] || visiting[obj.Key] {
			return
		}
		visiting[obj.Key] = true
		if parent, ok := byKey[obj.Parent]; ok {
			place(parent)
		}
		visiting[obj.Key] = false
		placed[obj.Key] = true
		ordered = append(ordered, obj)
	}
	for _, obj := range s.Objectives {
		place(obj)
	}
	return ordered
}
