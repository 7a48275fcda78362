package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Rule files.
 *
 * YAML document with a single top-level "rules" list. Unknown keys are an
 * error so a typo in a dimension name cannot silently widen a rule to
 * "rejects everything". Rule IDs are not part of the file; the engine assigns
 * them in file order.
 *
 * Each list entry is one value. A category written as "IAB3,utilities" must
 * be quoted and matches only that exact string.
 *
 *   rules:
 *     - gender: m
 *       countries: [JPN]
 *       app_categories: ["IAB3,utilities"]
 *       device_models: [iPhone]
 *       hours: [6]
 *       latitude: 34.79
 *       longitude: 138.86
 *       radius_km: 5
 */

// RuleSpec is one rule as written in a rule file.
type RuleSpec struct {
	Gender        string   `yaml:"gender"`
	Countries     []string `yaml:"countries"`
	AppCategories []string `yaml:"app_categories"`
	DeviceModels  []string `yaml:"device_models"`
	Hours         []int    `yaml:"hours"`
	Latitude      float64  `yaml:"latitude"`
	Longitude     float64  `yaml:"longitude"`
	RadiusKm      float64  `yaml:"radius_km"`
}

// Rule converts the file entry to the engine's authored form.
func (s RuleSpec) Rule() types.Rule {
	return types.Rule{
		Gender:        types.Gender(s.Gender),
		Countries:     s.Countries,
		AppCategories: s.AppCategories,
		DeviceModels:  s.DeviceModels,
		Hours:         s.Hours,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		RadiusKm:      s.RadiusKm,
	}
}

type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// DecodeRules parses a rule file. Validation beyond shape is left to rule compilation.
func DecodeRules(r io.Reader) ([]types.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	out := make([]types.Rule, len(f.Rules))
	for i, spec := range f.Rules {
		out[i] = spec.Rule()
	}
	return out, nil
}

// LoadRules reads and decodes a rule file from fsys.
func LoadRules(fsys afero.Fs, path string) ([]types.Rule, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	rules, err := DecodeRules(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}
