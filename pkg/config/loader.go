package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexliesenfeld/httpmock/pkg/api"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// LoadRuleFiles reads every .yaml/.yml file in dir and builds the rules it
// declares. A file may hold a list of rules or a single rule document.
// Files load in lexical order, which fixes match priority across files.
func LoadRuleFiles(dir string) ([]*rule.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading mock files dir: %w", err)
	}

	var rules []*rule.Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		loaded, err := loadRuleFile(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return rules, nil
}

func loadRuleFile(path string) ([]*rule.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mock file: %w", err)
	}

	var specs []api.RuleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		var one api.RuleSpec
		if errOne := yaml.Unmarshal(data, &one); errOne != nil {
			return nil, fmt.Errorf("decoding mock file %s: %w", path, err)
		}
		specs = []api.RuleSpec{one}
	}

	rules := make([]*rule.Rule, 0, len(specs))
	for i := range specs {
		r, err := specs[i].Build()
		if err != nil {
			return nil, fmt.Errorf("mock file %s rule %d: %w", path, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
