// Package intent classifies queries into intent categories with calibrated
// confidence and selects the ordered candidate plugin list.
//
// Classification is a single ranked-rule table evaluated once per query:
// each rule carries compiled patterns, keyword signals, a base confidence
// and the capability tag its intent routes to. The table is data, not
// control flow — it loads from YAML or falls back to the built-in defaults.
package intent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one row of the intent table.
type Rule struct {
	// Intent is the category label ("howto", "time", ...).
	Intent string
	// Capability is the registry tag candidates must declare. Usually the
	// same string as Intent.
	Capability string
	// Base is the confidence assigned on a full pattern match.
	Base float64
	// Patterns are compiled regexes; any match scores Base.
	Patterns []*regexp.Regexp
	// Keywords are weaker signals; hits raise a keyword-only score toward
	// Base and nudge a pattern match slightly above it.
	Keywords []string
}

// ruleSpec is the YAML shape of one rule.
type ruleSpec struct {
	Intent     string   `yaml:"intent"`
	Capability string   `yaml:"capability,omitempty"`
	Base       float64  `yaml:"base"`
	Patterns   []string `yaml:"patterns,omitempty"`
	Keywords   []string `yaml:"keywords,omitempty"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// keyword hits add this much each, capped at keywordBonusCap.
const (
	keywordBonus    = 0.05
	keywordBonusCap = 0.15
)

// score rates how strongly the rule matches text. Zero means no signal.
func (r *Rule) score(text string) float64 {
	lower := strings.ToLower(text)

	hits := 0
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	bonus := float64(hits) * keywordBonus
	if bonus > keywordBonusCap {
		bonus = keywordBonusCap
	}

	for _, p := range r.Patterns {
		if p.MatchString(text) {
			s := r.Base + bonus
			if s > 1 {
				s = 1
			}
			return s
		}
	}
	if hits == 0 {
		return 0
	}
	// Keyword-only evidence: weaker than a pattern match, never above Base.
	s := r.Base*0.6 + bonus
	if s > r.Base {
		s = r.Base
	}
	return s
}

// LoadRules parses a YAML rule table.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return compileRules(rf.Rules)
}

func compileRules(specs []ruleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		if s.Intent == "" {
			return nil, fmt.Errorf("rule with empty intent")
		}
		if s.Base <= 0 || s.Base > 1 {
			return nil, fmt.Errorf("rule %s: base confidence %v outside (0,1]", s.Intent, s.Base)
		}
		r := Rule{
			Intent:     s.Intent,
			Capability: s.Capability,
			Base:       s.Base,
			Keywords:   lowerAll(s.Keywords),
		}
		if r.Capability == "" {
			r.Capability = s.Intent
		}
		for _, pat := range s.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("rule %s: pattern %q: %w", s.Intent, pat, err)
			}
			r.Patterns = append(r.Patterns, re)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// DefaultRules is the built-in table covering the shipped plugins.
func DefaultRules() []Rule {
	rules, err := compileRules([]ruleSpec{
		{
			Intent: "time",
			Base:   0.85,
			Patterns: []string{
				`(?i)\b(what time|current time|what('| i)?s the time|today'?s date|what (day|date))\b`,
			},
			Keywords: []string{"time", "date", "clock", "today"},
		},
		{
			Intent: "howto",
			Base:   0.75,
			Patterns: []string{
				`(?i)\bhow (do|can|to|would) .*(build|install|set ?up|compile|configure|run)`,
				`(?i)\b(build|install|set ?up|setup|compile) (script|steps|instructions?|guide)\b`,
				`(?i)would you like .*(script|instructions?|steps|guide)`,
			},
			Keywords: []string{"build", "install", "setup", "script", "instructions", "compile", "configure"},
		},
		{
			Intent: "system",
			Base:   0.7,
			Patterns: []string{
				`(?i)\b(system status|uptime|memory usage|loaded plugins?|plugin status|are you (ok|healthy))\b`,
			},
			Keywords: []string{"status", "uptime", "diagnostics"},
		},
		{
			Intent:     "search",
			Capability: "websearch",
			Base:       0.6,
			Patterns: []string{
				`(?i)\b(search( for)?|look ?up|find out|who (is|was)|what (is|are|was)|tell me about)\b`,
			},
			Keywords: []string{"search", "find", "lookup", "news", "latest"},
		},
	})
	if err != nil {
		// Built-in table is static; a compile failure is a programming error.
		panic(err)
	}
	return rules
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
