package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type compiledSigmaRule struct {
	rule  sigma.Rule
	eval  *sigmaevaluator.RuleEvaluator
	match Match
}

// SigmaEngine evaluates Sigma rules against normalized device events.
// Rules can match the Message, DeviceID, SourceIP, User, and Topic
// fields. Matched rules are mapped onto the threat taxonomy via their
// MITRE tactic tags and level.
type SigmaEngine struct {
	rules []compiledSigmaRule
	ctx   context.Context
}

// NewSigmaEngine loads Sigma rules from a file or directory and
// compiles evaluators. Unsupported or complex rules are skipped and
// included in stats.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 64)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}

		if !isSimpleSingleEventRule(rule) {
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledSigmaRule{
			rule:  rule,
			eval:  sigmaevaluator.ForRule(rule),
			match: matchFromRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaEngine{rules: compiled, ctx: context.Background()}, stats, nil
}

// Apply evaluates all loaded Sigma rules against the event and returns
// the strongest match, or an unknown match when no rule fires.
func (e *SigmaEngine) Apply(event *models.Event) Match {
	best := Match{
		ThreatType:  models.ThreatUnknown,
		Confidence:  0.2,
		Explanation: "No rule matched",
	}
	if e == nil || event == nil || len(e.rules) == 0 {
		return best
	}

	eventMap := sigmaEventFrom(event)
	for _, rule := range e.rules {
		res, err := rule.eval.Matches(e.ctx, eventMap)
		if err != nil {
			continue
		}
		if res.Match && rule.match.Confidence > best.Confidence {
			best = rule.match
		}
	}
	return best
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSimpleSingleEventRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false
		}
		if len(search.EventMatchers) == 0 {
			return false
		}
	}

	return true
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

func sigmaEventFrom(event *models.Event) map[string]interface{} {
	buf := make(map[string]interface{}, 6)
	buf["Message"] = event.RawMessage
	buf["DeviceID"] = event.DeviceID
	if event.SourceIP != "" {
		buf["SourceIP"] = event.SourceIP
	}
	if event.User != "" {
		buf["User"] = event.User
	}
	if event.Topic != "" {
		buf["Topic"] = event.Topic
	}
	return buf
}

func matchFromRule(rule sigma.Rule) Match {
	title := strings.TrimSpace(rule.Title)
	if title == "" {
		title = strings.TrimSpace(rule.ID)
	}

	return Match{
		ThreatType:     threatFromTags(rule.Tags),
		Confidence:     confidenceFromLevel(rule.Level),
		Explanation:    fmt.Sprintf("Matched rule %q", title),
		Recommendation: "Investigate per rule guidance",
	}
}

// threatFromTags maps MITRE ATT&CK tactic tags onto the fixed taxonomy.
func threatFromTags(tags []string) models.ThreatType {
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if !strings.HasPrefix(tag, "attack.") {
			continue
		}
		switch strings.TrimPrefix(tag, "attack.") {
		case "credential_access", "brute_force":
			return models.ThreatBruteForce
		case "initial_access", "execution", "persistence", "privilege_escalation",
			"lateral_movement", "exfiltration", "impact":
			return models.ThreatIntrusion
		case "discovery", "collection", "command_and_control", "defense_evasion":
			return models.ThreatAnomaly
		}
	}
	return models.ThreatAnomaly
}

func confidenceFromLevel(level string) float64 {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical":
		return 0.9
	case "high":
		return 0.8
	case "medium":
		return 0.6
	case "low":
		return 0.4
	default:
		return 0.5
	}
}
