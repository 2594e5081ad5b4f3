package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beacongate/backend/internal/models"
)

func prohibitedPhraseConfig() map[string]interface{} {
	return map[string]interface{}{
		"patterns": []interface{}{
			`\bguaranteed\s+results?\b`,
			`\b100%\s+free\b`,
			`\bact\s+now\b`,
		},
	}
}

func disclaimerConfig() map[string]interface{} {
	return map[string]interface{}{
		"requiredPhrases": []interface{}{
			"consult your doctor",
			"not medical advice",
			"for informational purposes",
		},
		"matchAny": true,
	}
}

func domainRiskConfig() map[string]interface{} {
	return map[string]interface{}{
		"deniedDomains": []interface{}{
			"risky-example.com",
			"phish-demo.net",
			"blocked-test.org",
		},
	}
}

func hiddenTextConfig() map[string]interface{} {
	return map[string]interface{}{
		"threshold": float64(5),
		"patterns": []interface{}{
			`display:\s*none`,
			`visibility:\s*hidden`,
			`font-size:\s*0`,
		},
	}
}

func TestEvalProhibitedPhrase(t *testing.T) {
	cfg := prohibitedPhraseConfig()

	tests := []struct {
		adText    string
		triggered bool
		matched   string
	}{
		{"Act now or miss out.", true, "Act now"},
		{"GUARANTEED RESULTS in two weeks", true, "GUARANTEED RESULTS"},
		{"Guaranteed result for everyone", true, "Guaranteed result"},
		{"Sign up, it is 100% free today", true, "100% free"},
		{"A perfectly ordinary ad for shoes.", false, ""},
		{"We guarantee nothing in particular.", false, ""},
	}
	for _, tt := range tests {
		got := evalProhibitedPhrase(tt.adText, cfg)
		if got.Triggered != tt.triggered {
			t.Errorf("%q: expected triggered=%v, got %v", tt.adText, tt.triggered, got.Triggered)
			continue
		}
		if tt.triggered {
			if got.MatchedText == nil || *got.MatchedText != tt.matched {
				t.Errorf("%q: expected match %q, got %v", tt.adText, tt.matched, got.MatchedText)
			}
			if !strings.Contains(got.Explanation, "Prohibited phrase found") {
				t.Errorf("%q: unexpected explanation %q", tt.adText, got.Explanation)
			}
		}
	}
}

func TestEvalMissingDisclaimer(t *testing.T) {
	cfg := disclaimerConfig()

	// Non-health categories never trigger.
	for _, cat := range []models.Category{models.CategoryFinance, models.CategoryRetail, models.CategoryOther} {
		got := evalMissingDisclaimer("No disclaimer anywhere here.", cat, cfg)
		if got.Triggered {
			t.Errorf("Category %s: expected not triggered", cat)
		}
		if got.Explanation != "Rule applies only to Health category." {
			t.Errorf("Category %s: unexpected explanation %q", cat, got.Explanation)
		}
	}

	// Health without any required phrase triggers.
	got := evalMissingDisclaimer("Lose weight fast with our pill!", models.CategoryHealth, cfg)
	if !got.Triggered {
		t.Error("Expected health ad without disclaimer to trigger")
	}

	// Any one required phrase satisfies the rule, case-insensitively.
	for _, adText := range []string{
		"Consult your doctor before use.",
		"This is NOT MEDICAL ADVICE.",
		"Provided for informational purposes only.",
	} {
		got := evalMissingDisclaimer(adText, models.CategoryHealth, cfg)
		if got.Triggered {
			t.Errorf("%q: expected disclaimer to satisfy the rule", adText)
		}
	}
}

func TestEvalLandingDomainRisk(t *testing.T) {
	cfg := domainRiskConfig()

	got := evalLandingDomainRisk("https://risky-example.com/offer", cfg)
	if !got.Triggered {
		t.Error("Expected denylisted domain to trigger")
	}
	if got.MatchedText == nil || *got.MatchedText != "risky-example.com" {
		t.Errorf("Expected matched domain, got %v", got.MatchedText)
	}

	got = evalLandingDomainRisk("https://RISKY-EXAMPLE.COM/offer", cfg)
	if !got.Triggered {
		t.Error("Expected denylist check to be case-insensitive")
	}

	got = evalLandingDomainRisk("https://example.com/offer", cfg)
	if got.Triggered {
		t.Error("Expected clean domain not to trigger")
	}

	// Subdomains of a denied domain are not the denied domain.
	got = evalLandingDomainRisk("https://sub.risky-example.com/", cfg)
	if got.Triggered {
		t.Error("Expected subdomain not to match exact denylist entry")
	}
}

func TestEvalRedirectCount(t *testing.T) {
	cfg := map[string]interface{}{"maxRedirects": float64(3)}

	chain := func(n int) []RedirectHop {
		hops := make([]RedirectHop, n)
		for i := range hops {
			hops[i] = RedirectHop{URL: "https://example.com/hop"}
		}
		return hops
	}

	if got := evalRedirectCount(chain(3), cfg); got.Triggered {
		t.Error("Expected chain of 3 to be within limit")
	}
	got := evalRedirectCount(chain(4), cfg)
	if !got.Triggered {
		t.Error("Expected chain of 4 to exceed limit")
	}
	if got.MatchedText == nil || *got.MatchedText != "4" {
		t.Errorf("Expected matched text \"4\", got %v", got.MatchedText)
	}

	// Missing config falls back to max 3.
	if got := evalRedirectCount(chain(4), map[string]interface{}{}); !got.Triggered {
		t.Error("Expected default max of 3 to apply")
	}
}

func TestEvalHiddenText(t *testing.T) {
	cfg := hiddenTextConfig()

	hidden := strings.Repeat(`<div style="display: none">x</div>`, 6)
	got := evalHiddenText(hidden, cfg)
	if !got.Triggered {
		t.Error("Expected 6 hidden-style hits to meet threshold 5")
	}

	some := strings.Repeat(`<div style="display:none">x</div>`, 4)
	if got := evalHiddenText(some, cfg); got.Triggered {
		t.Error("Expected 4 hits to stay below threshold 5")
	}

	mixed := `<p style="display:none"></p><p style="visibility: hidden"></p>` +
		`<p style="font-size:0"></p><p style="display: none"></p><p style="visibility:hidden"></p>`
	if got := evalHiddenText(mixed, cfg); !got.Triggered {
		t.Error("Expected 5 mixed hits to meet threshold 5")
	}

	if got := evalHiddenText("<p>visible content</p>", cfg); got.Triggered {
		t.Error("Expected clean HTML not to trigger")
	}
}

func TestEvalSuspiciousRedirects(t *testing.T) {
	got := evalSuspiciousRedirects([]RedirectHop{
		{URL: "https://a.example.com/"},
		{URL: "https://b.example.net/"},
	})
	if !got.Triggered {
		t.Error("Expected chain of length 2 to trigger")
	}
	if got.Explanation != "Redirect chain length 2 >= 2." {
		t.Errorf("Unexpected explanation %q", got.Explanation)
	}

	// Same-host chains of length 2 still trigger on length alone.
	got = evalSuspiciousRedirects([]RedirectHop{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	})
	if !got.Triggered {
		t.Error("Expected length rule to apply before host comparison")
	}

	// Single hop: no redirect happened.
	got = evalSuspiciousRedirects([]RedirectHop{{URL: "https://example.com/"}})
	if got.Triggered {
		t.Error("Expected single-hop chain not to trigger")
	}
}

func TestLoadRuleDefinitionsRejectsUnknownIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - id: RULE_PROHIBITED_PHRASE
    name: Prohibited phrase
    severity: HIGH
    enabled: true
  - id: RULE_TOTALLY_MADE_UP
    name: Not a real rule
    severity: LOW
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadRuleDefinitions(path)
	if err == nil {
		t.Fatal("Expected unknown rule id to be rejected at load time")
	}
	if !strings.Contains(err.Error(), "RULE_TOTALLY_MADE_UP") {
		t.Errorf("Expected error to name the offending id, got %v", err)
	}
}

func TestLoadRuleDefinitionsShippedConfig(t *testing.T) {
	defs, err := LoadRuleDefinitions("../../configs/rules.yaml")
	if err != nil {
		t.Fatalf("Expected shipped config to load, got %v", err)
	}
	if len(defs) != 6 {
		t.Errorf("Expected 6 rules, got %d", len(defs))
	}
	for _, def := range defs {
		if !knownRuleIDs[def.ID] {
			t.Errorf("Unexpected rule id %s", def.ID)
		}
	}
}

func TestEvaluateRuleMissingEvidence(t *testing.T) {
	rs := &RuleService{}

	result, ref := rs.evaluateRule(models.PolicyRule{ID: RuleHiddenTextHeuristic, Config: models.JSONB(hiddenTextConfig())}, RuleInput{})
	if result.Triggered {
		t.Error("Expected hidden text rule not to trigger without HTML")
	}
	if result.Explanation != "No HTML snapshot available." {
		t.Errorf("Unexpected explanation %q", result.Explanation)
	}
	if ref != models.EvidenceRefHTMLSnapshot {
		t.Errorf("Expected HTML snapshot evidence ref, got %s", ref)
	}

	result, ref = rs.evaluateRule(models.PolicyRule{ID: RuleSuspiciousRedirects}, RuleInput{})
	if result.Triggered {
		t.Error("Expected suspicious redirects rule not to trigger without a chain")
	}
	if ref != models.EvidenceRefRedirectChain {
		t.Errorf("Expected redirect chain evidence ref, got %s", ref)
	}
}
