package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

func TestNewEngine_ValidRules(t *testing.T) {
	rulesYAML := `
rules:
  - name: "Test Rule"
    pattern: "TEST"
    match_type: "contains"
    priority: 100
    category: "ETF"
`
	engine, err := NewEngine([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if len(engine.rules) != 1 {
		t.Fatalf("NewEngine() rules count = %d, want 1", len(engine.rules))
	}

	rule := engine.rules[0]
	if rule.Name != "Test Rule" {
		t.Errorf("rule.Name = %s, want Test Rule", rule.Name)
	}
	if rule.Priority != 100 {
		t.Errorf("rule.Priority = %d, want 100", rule.Priority)
	}
	if rule.Field != FieldName {
		t.Errorf("rule.Field = %q, want default %q", rule.Field, FieldName)
	}
}

func TestNewEngine_InvalidRules(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		wantErr string
	}{
		{
			name:    "invalid category",
			rule:    "pattern: \"X\"\n    match_type: \"exact\"\n    priority: 1\n    category: \"groceries\"",
			wantErr: "invalid category",
		},
		{
			name:    "negative priority",
			rule:    "pattern: \"X\"\n    match_type: \"exact\"\n    priority: -1\n    category: \"ETF\"",
			wantErr: "priority must be in [0,999]",
		},
		{
			name:    "priority too high",
			rule:    "pattern: \"X\"\n    match_type: \"exact\"\n    priority: 1000\n    category: \"ETF\"",
			wantErr: "priority must be in [0,999]",
		},
		{
			name:    "invalid match type",
			rule:    "pattern: \"X\"\n    match_type: \"regex\"\n    priority: 1\n    category: \"ETF\"",
			wantErr: "invalid match_type",
		},
		{
			name:    "invalid field",
			rule:    "pattern: \"X\"\n    match_type: \"exact\"\n    field: \"isin\"\n    priority: 1\n    category: \"ETF\"",
			wantErr: "invalid field",
		},
		{
			name:    "empty pattern",
			rule:    "pattern: \"  \"\n    match_type: \"exact\"\n    priority: 1\n    category: \"ETF\"",
			wantErr: "pattern cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rulesYAML := "rules:\n  - name: \"Bad\"\n    " + tt.rule + "\n"
			_, err := NewEngine([]byte(rulesYAML))
			if err == nil {
				t.Fatal("NewEngine() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewEngine() error = %v, want containing %q", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), "rule 0 (Bad)") {
				t.Errorf("NewEngine() error = %v, want rule context", err)
			}
		})
	}
}

func TestNewEngine_InvalidYAML(t *testing.T) {
	_, err := NewEngine([]byte("rules: [unclosed"))
	if err == nil {
		t.Error("NewEngine() expected error for invalid YAML")
	}
}

func TestNewEngine_PrioritySorting(t *testing.T) {
	rulesYAML := `
rules:
  - name: "Low"
    pattern: "A"
    match_type: "contains"
    priority: 10
    category: "ETF"
  - name: "High"
    pattern: "B"
    match_type: "contains"
    priority: 500
    category: "IT"
  - name: "Low Second"
    pattern: "C"
    match_type: "contains"
    priority: 10
    category: "금융"
`
	engine, err := NewEngine([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	want := []string{"High", "Low", "Low Second"}
	for i, rule := range engine.GetRules() {
		if rule.Name != want[i] {
			t.Errorf("rules[%d] = %s, want %s", i, rule.Name, want[i])
		}
	}
}

func TestNewRule(t *testing.T) {
	r, err := NewRule("brand", "TIGER ", MatchTypePrefix, "", 100, domain.CategoryETF)
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if r.Field != FieldName {
		t.Errorf("NewRule() field = %q, want %q", r.Field, FieldName)
	}

	if _, err := NewRule("bad", "X", MatchTypeExact, FieldCode, 1, domain.Category("주식")); err == nil {
		t.Error("NewRule() expected error for invalid category")
	}
}

func TestMatch(t *testing.T) {
	rulesYAML := `
rules:
  - name: "ticker"
    pattern: "SPY"
    match_type: "exact"
    field: "code"
    priority: 200
    category: "ETF"
  - name: "brand"
    pattern: "KODEX "
    match_type: "prefix"
    priority: 100
    category: "ETF"
  - name: "keyword"
    pattern: "etf"
    match_type: "contains"
    priority: 50
    category: "ETF"
  - name: "bank"
    pattern: "은행"
    match_type: "contains"
    priority: 10
    category: "금융"
`
	engine, err := NewEngine([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	tests := []struct {
		name, instrument, code string
		wantRule               string
		wantMatch              bool
	}{
		{"ticker exact", "SPDR S&P 500", "spy", "ticker", true},
		{"ticker is not a prefix", "SPYG", "SPYG", "", false},
		{"brand prefix", "KODEX 200", "069500", "brand", true},
		{"brand needs separator", "KODEXA", "", "", false},
		{"keyword contains", "Global X Lithium ETF", "LIT2", "keyword", true},
		{"lower priority", "신한은행", "", "bank", true},
		{"whitespace trimmed", "  kodex 레버리지  ", "", "brand", true},
		{"no match", "삼성전자", "005930", "", false},
		{"empty", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, matched := engine.Match(tt.instrument, tt.code)
			if matched != tt.wantMatch {
				t.Fatalf("Match(%q, %q) matched = %v, want %v", tt.instrument, tt.code, matched, tt.wantMatch)
			}
			if !matched {
				if result != nil {
					t.Errorf("Match() result = %+v, want nil", result)
				}
				return
			}
			if result.RuleName != tt.wantRule {
				t.Errorf("Match() rule = %s, want %s", result.RuleName, tt.wantRule)
			}
		})
	}
}

func TestLoadEmbedded(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	if len(engine.GetRules()) == 0 {
		t.Fatal("LoadEmbedded() returned no rules")
	}

	tests := []struct {
		name, instrument, code string
		want                   domain.Category
		wantMatch              bool
	}{
		{"domestic brand", "TIGER 미국S&P500", "360750", domain.CategoryETF, true},
		{"active keyword", "TIMEFOLIO 글로벌AI인공지능액티브", "456600", domain.CategoryETF, true},
		{"us ticker", "INVESCO QQQ TRUST", "QQQ", domain.CategoryETF, true},
		{"ishares name", "ISHARES CORE MSCI EAFE", "IEFA2", domain.CategoryETF, true},
		{"stock", "삼성전자", "005930", "", false},
		{"us stock", "APPLE INC", "AAPL", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, matched := engine.Match(tt.instrument, tt.code)
			if matched != tt.wantMatch {
				t.Fatalf("Match(%q, %q) matched = %v, want %v", tt.instrument, tt.code, matched, tt.wantMatch)
			}
			if matched && result.Category != tt.want {
				t.Errorf("Match() category = %s, want %s", result.Category, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
rules:
  - name: "File Rule"
    pattern: "REIT"
    match_type: "contains"
    priority: 10
    category: "부동산"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	engine, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	result, ok := engine.Match("맥쿼리인프라 REIT", "")
	if !ok || result.Category != domain.CategoryRealEstate {
		t.Errorf("Match() = %+v, %v; want 부동산", result, ok)
	}
}

func TestLoadFromFile_NotExists(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() expected error for missing file")
	}
}

func TestGetRules_ReturnsCopy(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	rules := engine.GetRules()
	rules[0].Pattern = "MUTATED"
	if engine.GetRules()[0].Pattern == "MUTATED" {
		t.Error("GetRules() exposed internal state")
	}
}
