package services

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Rule IDs form a closed set; adding a rule means adding a case to
// EvaluateCase and a block to configs/rules.yaml.
const (
	RuleProhibitedPhrase    = "RULE_PROHIBITED_PHRASE"
	RuleMissingDisclaimer   = "RULE_MISSING_DISCLAIMER"
	RuleLandingDomainRisk   = "RULE_LANDING_DOMAIN_RISK"
	RuleRedirectCount       = "RULE_REDIRECT_COUNT"
	RuleHiddenTextHeuristic = "RULE_HIDDEN_TEXT_HEURISTIC"
	RuleSuspiciousRedirects = "RULE_SUSPICIOUS_REDIRECTS"
)

var knownRuleIDs = map[string]bool{
	RuleProhibitedPhrase:    true,
	RuleMissingDisclaimer:   true,
	RuleLandingDomainRisk:   true,
	RuleRedirectCount:       true,
	RuleHiddenTextHeuristic: true,
	RuleSuspiciousRedirects: true,
}

// RuleDefinition is one entry of configs/rules.yaml, seeded into the
// policy_rules table at startup.
type RuleDefinition struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description"`
	Severity      models.Severity        `yaml:"severity"`
	CategoryScope *models.Category       `yaml:"categoryScope"`
	Enabled       bool                   `yaml:"enabled"`
	Config        map[string]interface{} `yaml:"config"`
}

type rulesFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// LoadRuleDefinitions parses the YAML rules config at path.
func LoadRuleDefinitions(path string) ([]RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules config: %w", err)
	}
	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rules config: %w", err)
	}
	if len(parsed.Rules) == 0 {
		return nil, fmt.Errorf("rules config %s defines no rules", path)
	}
	for _, def := range parsed.Rules {
		if !knownRuleIDs[def.ID] {
			return nil, fmt.Errorf("rules config %s: unknown rule id %q", path, def.ID)
		}
	}
	return parsed.Rules, nil
}

// SyncRules upserts the YAML rule definitions into the database so the
// evaluator always reads rule config from policy_rules rows.
func SyncRules(db *gorm.DB, defs []RuleDefinition) error {
	for _, def := range defs {
		row := models.PolicyRule{
			ID:            def.ID,
			Name:          def.Name,
			Description:   def.Description,
			Severity:      def.Severity,
			CategoryScope: def.CategoryScope,
			Enabled:       def.Enabled,
			Config:        models.JSONB(def.Config),
		}
		var existing models.PolicyRule
		err := db.Where("id = ?", def.ID).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&row).Error; err != nil {
				return fmt.Errorf("create rule %s: %w", def.ID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup rule %s: %w", def.ID, err)
		}
		if err := db.Model(&existing).Updates(map[string]interface{}{
			"name":           row.Name,
			"description":    row.Description,
			"severity":       row.Severity,
			"category_scope": row.CategoryScope,
			"enabled":        row.Enabled,
			"config":         row.Config,
		}).Error; err != nil {
			return fmt.Errorf("update rule %s: %w", def.ID, err)
		}
	}
	return nil
}

// RuleInput is everything a case evaluation can see: the submitted ad
// plus whatever evidence capture has produced so far.
type RuleInput struct {
	AdText        string
	Category      models.Category
	LandingURL    string
	HTMLContent   string
	RedirectChain []RedirectHop
}

type ruleResult struct {
	Triggered   bool
	MatchedText *string
	Explanation string
}

// RuleService evaluates the enabled policy rules against a case and
// persists one RuleRun row per rule per evaluation.
type RuleService struct {
	db *gorm.DB
}

func NewRuleService(db *gorm.DB) *RuleService {
	return &RuleService{db: db}
}

// EvaluateCase runs every enabled rule and returns the persisted runs
// along with a ruleID to severity map for risk scoring.
func (rs *RuleService) EvaluateCase(caseID uint, input RuleInput) ([]models.RuleRun, map[string]models.Severity, error) {
	var rules []models.PolicyRule
	if err := rs.db.Where("enabled = ?", true).Order("id asc").Find(&rules).Error; err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}

	severities := make(map[string]models.Severity, len(rules))
	runs := make([]models.RuleRun, 0, len(rules))
	for _, rule := range rules {
		severities[rule.ID] = rule.Severity

		result, evidenceRef := rs.evaluateRule(rule, input)
		configHash, err := HashCanonical(map[string]interface{}(rule.Config))
		if err != nil {
			return nil, nil, fmt.Errorf("hash config for %s: %w", rule.ID, err)
		}

		run := models.RuleRun{
			CaseID:      caseID,
			RuleID:      rule.ID,
			Triggered:   result.Triggered,
			MatchedText: result.MatchedText,
			Explanation: result.Explanation,
			EvidenceRef: evidenceRef,
			ConfigHash:  configHash,
		}
		if err := rs.db.Create(&run).Error; err != nil {
			return nil, nil, fmt.Errorf("persist rule run %s: %w", rule.ID, err)
		}
		runs = append(runs, run)
	}

	logger.WithCase(caseID).WithField("rules", len(runs)).Info("Rule evaluation completed")
	return runs, severities, nil
}

func (rs *RuleService) evaluateRule(rule models.PolicyRule, input RuleInput) (ruleResult, models.EvidenceRef) {
	cfg := map[string]interface{}(rule.Config)
	switch rule.ID {
	case RuleProhibitedPhrase:
		return evalProhibitedPhrase(input.AdText, cfg), models.EvidenceRefAdText
	case RuleMissingDisclaimer:
		return evalMissingDisclaimer(input.AdText, input.Category, cfg), models.EvidenceRefAdText
	case RuleLandingDomainRisk:
		return evalLandingDomainRisk(input.LandingURL, cfg), models.EvidenceRefLandingURL
	case RuleRedirectCount:
		return evalRedirectCount(input.RedirectChain, cfg), models.EvidenceRefRedirectChain
	case RuleHiddenTextHeuristic:
		if input.HTMLContent == "" {
			return ruleResult{Explanation: "No HTML snapshot available."}, models.EvidenceRefHTMLSnapshot
		}
		return evalHiddenText(input.HTMLContent, cfg), models.EvidenceRefHTMLSnapshot
	case RuleSuspiciousRedirects:
		if len(input.RedirectChain) == 0 {
			return ruleResult{Explanation: "No redirect chain available."}, models.EvidenceRefRedirectChain
		}
		return evalSuspiciousRedirects(input.RedirectChain), models.EvidenceRefRedirectChain
	default:
		return ruleResult{Explanation: "Unknown rule."}, models.EvidenceRefAdText
	}
}

func evalProhibitedPhrase(adText string, cfg map[string]interface{}) ruleResult {
	for _, pattern := range configStrings(cfg, "patterns") {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		if match := re.FindString(adText); match != "" {
			return ruleResult{
				Triggered:   true,
				MatchedText: &match,
				Explanation: fmt.Sprintf("Prohibited phrase found: %q", match),
			}
		}
	}
	return ruleResult{Explanation: "No prohibited phrases found in ad text."}
}

func evalMissingDisclaimer(adText string, category models.Category, cfg map[string]interface{}) ruleResult {
	if category != models.CategoryHealth {
		return ruleResult{Explanation: "Rule applies only to Health category."}
	}
	lower := strings.ToLower(adText)
	for _, phrase := range configStrings(cfg, "requiredPhrases") {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return ruleResult{Explanation: fmt.Sprintf("Disclaimer phrase found: %q", phrase)}
		}
	}
	return ruleResult{
		Triggered:   true,
		Explanation: "Health category ad must include at least one disclaimer phrase (e.g. 'consult your doctor', 'not medical advice').",
	}
}

func evalLandingDomainRisk(landingURL string, cfg map[string]interface{}) ruleResult {
	domain := hostnameOf(landingURL)
	for _, denied := range configStrings(cfg, "deniedDomains") {
		if strings.EqualFold(denied, domain) {
			return ruleResult{
				Triggered:   true,
				MatchedText: &domain,
				Explanation: fmt.Sprintf("Domain %q is on the risk denylist.", domain),
			}
		}
	}
	return ruleResult{Explanation: fmt.Sprintf("Domain %q not on denylist.", domain)}
}

func evalRedirectCount(chain []RedirectHop, cfg map[string]interface{}) ruleResult {
	maxRedirects := configInt(cfg, "maxRedirects", 3)
	count := len(chain)
	if count > maxRedirects {
		matched := fmt.Sprintf("%d", count)
		return ruleResult{
			Triggered:   true,
			MatchedText: &matched,
			Explanation: fmt.Sprintf("Redirect count %d exceeds max %d.", count, maxRedirects),
		}
	}
	return ruleResult{Explanation: fmt.Sprintf("Redirect count %d within limit (max %d).", count, maxRedirects)}
}

func evalHiddenText(htmlContent string, cfg map[string]interface{}) ruleResult {
	threshold := configInt(cfg, "threshold", 5)
	lower := strings.ToLower(htmlContent)
	count := 0
	for _, pattern := range configStrings(cfg, "patterns") {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		count += len(re.FindAllString(lower, -1))
	}
	if count >= threshold {
		return ruleResult{
			Triggered:   true,
			Explanation: fmt.Sprintf("Hidden-style patterns found %d times (threshold %d).", count, threshold),
		}
	}
	return ruleResult{Explanation: fmt.Sprintf("Hidden-style count %d below threshold %d.", count, threshold)}
}

func evalSuspiciousRedirects(chain []RedirectHop) ruleResult {
	if len(chain) >= 2 {
		matched := fmt.Sprintf("%d", len(chain))
		return ruleResult{
			Triggered:   true,
			MatchedText: &matched,
			Explanation: fmt.Sprintf("Redirect chain length %d >= 2.", len(chain)),
		}
	}
	initial := hostnameOf(chain[0].URL)
	final := hostnameOf(chain[len(chain)-1].URL)
	if initial != final {
		matched := fmt.Sprintf("%s -> %s", initial, final)
		return ruleResult{
			Triggered:   true,
			MatchedText: &matched,
			Explanation: fmt.Sprintf("Final domain %s differs from initial %s.", final, initial),
		}
	}
	return ruleResult{Explanation: "Redirect chain within limits."}
}

func hostnameOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func configStrings(cfg map[string]interface{}, key string) []string {
	raw, ok := cfg[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func configInt(cfg map[string]interface{}, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
