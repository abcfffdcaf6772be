package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
rules:
  - id: exec-ou-override
    condition: "ou == 'executives'"
    action: override_high
    priority: 10
    target_kinds: ["download", "share_external"]
  - id: security-team-suppress
    condition: "actor.endsWith('@security.example.com')"
    action: suppress
    priority: 5
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].ID != "exec-ou-override" || rules[0].Action != "override_high" || rules[0].Priority != 10 {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
	if len(rules[0].TargetKinds) != 2 || rules[0].TargetKinds[0] != "download" {
		t.Errorf("unexpected target_kinds: %v", rules[0].TargetKinds)
	}
	if rules[1].ID != "security-team-suppress" || rules[1].Action != "suppress" {
		t.Errorf("unexpected second rule: %+v", rules[1])
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing rules file")
	}
}

func TestLoadRules_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("rules: [this is not: valid: yaml"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
