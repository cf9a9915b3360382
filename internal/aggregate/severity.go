package aggregate

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Normalized severity levels, from most to least severe.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
	SeverityInfo   = "info"
)

// severityLevels is the fixed histogram order.
var severityLevels = []string{SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

//go:embed severity.yaml
var severityTableYAML []byte

type severityRule struct {
	Severity string   `yaml:"severity"`
	IDs      []string `yaml:"ids"`
	Prefixes []string `yaml:"prefixes"`
}

type severityTable struct {
	Rules  []severityRule    `yaml:"rules"`
	Levels map[string]string `yaml:"levels"`

	byRuleID map[string]string
}

// table is loaded once at init; the embedded file is part of the binary
// so a parse failure is a build defect, not a runtime condition.
var table = mustLoadSeverityTable()

func mustLoadSeverityTable() *severityTable {
	var t severityTable

	if err := yaml.Unmarshal(severityTableYAML, &t); err != nil {
		panic(fmt.Sprintf("severity table: %v", err))
	}

	t.byRuleID = make(map[string]string)

	for _, rule := range t.Rules {
		for _, id := range rule.IDs {
			t.byRuleID[strings.ToLower(id)] = rule.Severity
		}
	}

	return &t
}

// NormalizeSeverity maps a tool-native severity token and rule id to the
// unified scale. Rule overrides win over the native level.
func NormalizeSeverity(native, ruleID string) string {
	if ruleID != "" {
		key := strings.ToLower(ruleID)

		if severity, ok := table.byRuleID[key]; ok {
			return severity
		}

		upper := strings.ToUpper(ruleID)
		for _, rule := range table.Rules {
			for _, prefix := range rule.Prefixes {
				if strings.HasPrefix(upper, prefix) {
					return rule.Severity
				}
			}
		}
	}

	if severity, ok := table.Levels[strings.ToLower(strings.TrimSpace(native))]; ok {
		return severity
	}

	return SeverityMedium
}
