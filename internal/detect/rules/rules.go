package rules

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/vigilbot/vigil/internal/db"
	"github.com/vigilbot/vigil/resources"
)

// Verdict is a rule match outcome. Nil means no rule matched.
type Verdict struct {
	Allowed bool
	Pattern string
}

// Match scans lower-cased text against an ordered rule list. Any deny
// match wins over any allow match regardless of rule order; only when no
// deny rule matches is the first allow match returned.
func Match(text string, rules []*db.CustomRule) *Verdict {
	if text == "" || len(rules) == 0 {
		return nil
	}
	lowered := strings.ToLower(text)

	var allowHit *Verdict
	for _, rule := range rules {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if pattern == "" || !strings.Contains(lowered, pattern) {
			continue
		}
		switch rule.Kind {
		case db.RuleDeny:
			return &Verdict{Allowed: false, Pattern: rule.Pattern}
		case db.RuleAllow:
			if allowHit == nil {
				allowHit = &Verdict{Allowed: true, Pattern: rule.Pattern}
			}
		}
	}
	return allowHit
}

type defaultPack struct {
	Deny  []string `yaml:"deny"`
	Allow []string `yaml:"allow"`
}

// DefaultRules loads the embedded rule pack applied ahead of per-chat
// rules.
func DefaultRules() []*db.CustomRule {
	raw, err := resources.FS.ReadFile("rules.yml")
	if err != nil {
		log.WithField("error", err.Error()).Error("cant read default rules")
		return nil
	}
	var pack defaultPack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		log.WithField("error", err.Error()).Error("cant parse default rules")
		return nil
	}

	rules := make([]*db.CustomRule, 0, len(pack.Deny)+len(pack.Allow))
	for i, pattern := range pack.Deny {
		rules = append(rules, &db.CustomRule{Position: i, Kind: db.RuleDeny, Pattern: pattern})
	}
	for i, pattern := range pack.Allow {
		rules = append(rules, &db.CustomRule{Position: len(pack.Deny) + i, Kind: db.RuleAllow, Pattern: pattern})
	}
	return rules
}

// Merged returns chat rules followed by the default pack, so chat rules
// are scanned first but deny-priority still spans both.
func Merged(chatRules []*db.CustomRule) []*db.CustomRule {
	defaults := DefaultRules()
	merged := make([]*db.CustomRule, 0, len(chatRules)+len(defaults))
	merged = append(merged, chatRules...)
	merged = append(merged, defaults...)
	return merged
}

func Describe(v *Verdict) string {
	if v == nil {
		return "no match"
	}
	kind := "deny"
	if v.Allowed {
		kind = "allow"
	}
	return fmt.Sprintf("%s rule %q", kind, v.Pattern)
}
