// Package rules provides a YAML-based rules engine for instrument categorization.
// It is the deterministic fallback used when no sector is cached and the
// oracle is unavailable.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against an instrument field
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire field exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the field
	MatchTypeContains MatchType = "contains"
	// MatchTypePrefix requires the field to start with the pattern
	MatchTypePrefix MatchType = "prefix"
)

// Field selects which instrument attribute a rule inspects.
type Field string

const (
	FieldName Field = "name"
	FieldCode Field = "code"
)

// Rule represents a single categorization rule.
//
// Rules should be created via:
//   - YAML loading: NewEngine, LoadEmbedded, LoadFromFile
//   - Programmatic construction: NewRule constructor
//
// Both methods validate all invariants:
//   - Priority in range [0, 999]
//   - Pattern must not be empty after trimming
//   - MatchType must be "exact", "contains" or "prefix"
//   - Field must be "name" or "code" (empty means "name")
//   - Category must be a valid domain.Category
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Field     Field     `yaml:"field"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
}

func (r *Rule) validate() error {
	if !domain.ValidateCategory(domain.Category(r.Category)) {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}
	switch r.MatchType {
	case MatchTypeExact, MatchTypeContains, MatchTypePrefix:
	default:
		return fmt.Errorf("invalid match_type %q (must be 'exact', 'contains' or 'prefix')", r.MatchType)
	}
	switch r.Field {
	case "":
		r.Field = FieldName
	case FieldName, FieldCode:
	default:
		return fmt.Errorf("invalid field %q (must be 'name' or 'code')", r.Field)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	return nil
}

// NewRule creates a validated rule.
func NewRule(name, pattern string, matchType MatchType, field Field, priority int, category domain.Category) (*Rule, error) {
	r := &Rule{
		Name:      name,
		Pattern:   pattern,
		MatchType: matchType,
		Field:     field,
		Priority:  priority,
		Category:  string(category),
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine performs rule matching on instrument names and codes
type Engine struct {
	rules []Rule // Sorted by priority (highest first)
}

// MatchResult contains the result of applying a rule
type MatchResult struct {
	Category domain.Category
	RuleName string // For debugging
}

// NewEngine creates a rules engine from YAML data
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	for i := range ruleSet.Rules {
		rule := &ruleSet.Rules[i]
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
	}

	// Sort rules by priority (highest first). SliceStable keeps YAML order for
	// equal priorities so matching is deterministic.
	sortedRules := make([]Rule, len(ruleSet.Rules))
	copy(sortedRules, ruleSet.Rules)
	sort.SliceStable(sortedRules, func(i, j int) bool {
		return sortedRules[i].Priority > sortedRules[j].Priority
	})

	return &Engine{
		rules: sortedRules,
	}, nil
}

// LoadEmbedded loads the embedded rules.yaml file
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Match applies rules to an instrument and returns the first match. Matching
// is case-insensitive. Rules are evaluated in priority order (highest first),
// then in YAML file order. Returns (nil, false) if no rules match.
func (e *Engine) Match(name, code string) (*MatchResult, bool) {
	fields := map[Field]string{
		FieldName: strings.ToUpper(strings.TrimSpace(name)),
		FieldCode: strings.ToUpper(strings.TrimSpace(code)),
	}

	for _, rule := range e.rules {
		value := fields[rule.Field]
		if value == "" {
			continue
		}
		// patterns are not trimmed: "KODEX " must not match "KODEXA"
		pattern := strings.ToUpper(rule.Pattern)

		matched := false
		switch rule.MatchType {
		case MatchTypeExact:
			matched = value == pattern
		case MatchTypeContains:
			matched = strings.Contains(value, pattern)
		case MatchTypePrefix:
			matched = strings.HasPrefix(value, pattern)
		}

		if matched {
			return &MatchResult{
				Category: domain.Category(rule.Category),
				RuleName: rule.Name,
			}, true
		}
	}

	return nil, false
}

// GetRules returns a copy of the rules in priority order.
func (e *Engine) GetRules() []Rule {
	result := make([]Rule, len(e.rules))
	copy(result, e.rules)
	return result
}
