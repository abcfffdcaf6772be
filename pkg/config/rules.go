package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleConfig is the on-disk shape of one operator-authored severity
// override/suppression rule, grounded on the teacher's own
// policy.DynamicRule loaded through an identical yaml.Unmarshal call in
// engine.runPolicyEngine — a CEL condition plus an action and a priority
// used to break ties between simultaneously-matching rules.
type RuleConfig struct {
	ID          string   `yaml:"id"`
	Condition   string   `yaml:"condition"`
	Action      string   `yaml:"action"`
	Priority    int      `yaml:"priority"`
	TargetKinds []string `yaml:"target_kinds"`
}

// rulesFile is the top-level shape of the rules YAML document: a single
// "rules" list, matching the teacher's own RuleConfig{Rules: [...]}
// wrapper rather than a bare top-level array.
type rulesFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// LoadRules reads and parses the severity override/suppression rules file
// named by severity_overrides.rules_file. Kept as a direct yaml.Unmarshal
// call rather than routed through Viper: these rules are authored and
// version-controlled separately from the main engine config, the same
// separation the teacher draws between its heuristics config and its
// policy rules file.
func LoadRules(path string) ([]RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read rules file %s: %w", path, err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse rules file %s: %w", path, err)
	}
	return doc.Rules, nil
}
