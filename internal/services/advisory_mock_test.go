package services

import (
	"reflect"
	"testing"

	"github.com/beacongate/backend/internal/models"
)

func mockInput() AdvisoryInput {
	matched := "6"
	return AdvisoryInput{
		Case: AdvisoryInputCase{
			ID:         1,
			Category:   string(models.CategoryHealth),
			AdText:     "Our supplement brings pain relief. Guarantee of satisfaction or your money back.",
			LandingURL: "https://start.example.com/",
		},
		Evidence: AdvisoryInputEvidence{
			RedirectChain: []RedirectHop{
				{URL: "https://start.example.com/"},
				{URL: "https://final.example.net/"},
			},
		},
		RuleRuns: []AdvisoryInputRuleRun{
			{RuleID: RuleSuspiciousRedirects, Severity: "HIGH", Triggered: true, Explanation: "Redirect chain length 2 >= 2."},
			{RuleID: RuleHiddenTextHeuristic, Severity: "MEDIUM", Triggered: true, MatchedText: &matched, Explanation: "Hidden-style patterns found 6 times (threshold 5)."},
		},
		Retrieval: AdvisoryInputRetrieval{
			PolicyMatches: []AdvisoryInputMatch{
				{DocumentTitle: "Landing Page Integrity", ChunkID: "kc_aaaaaaaaaaaaaaaa", Score: 0.8, Snippet: "Redirect chains..."},
				{DocumentTitle: "Misleading Claims", ChunkID: "kc_bbbbbbbbbbbbbbbb", Score: 0.6, Snippet: "Guarantees..."},
			},
			PrecedentMatches: []AdvisoryInputMatch{},
		},
	}
}

func TestGenerateMockAdvisoryDeterministic(t *testing.T) {
	a := GenerateMockAdvisory(mockInput())
	b := GenerateMockAdvisory(mockInput())
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected identical input to produce identical advisory")
	}
}

func TestGenerateMockAdvisoryValidatesAgainstSchema(t *testing.T) {
	a := GenerateMockAdvisory(mockInput())
	if err := ValidateAdvisory(a); err != nil {
		t.Errorf("Expected mock advisory to satisfy the output contract, got %v", err)
	}
	if a.NonBindingNotice != NonBindingNotice {
		t.Errorf("Unexpected notice %q", a.NonBindingNotice)
	}
}

func TestGenerateMockAdvisoryClaims(t *testing.T) {
	a := GenerateMockAdvisory(mockInput())
	if len(a.Claims) == 0 {
		t.Fatal("Expected keyword-derived claims")
	}
	// Health keywords come first in the ordered scan.
	if a.Claims[0].Type != "health" {
		t.Errorf("Expected first claim type health, got %s", a.Claims[0].Type)
	}
	if len(a.Claims) > 5 {
		t.Errorf("Expected at most 5 claims, got %d", len(a.Claims))
	}
}

func TestGenerateMockAdvisoryFallbackClaim(t *testing.T) {
	input := mockInput()
	input.Case.AdText = "Buy shoes."
	a := GenerateMockAdvisory(input)
	if len(a.Claims) != 1 {
		t.Fatalf("Expected single fallback claim, got %d", len(a.Claims))
	}
	if a.Claims[0].Text != "General promotional claim" || a.Claims[0].Type != "other" {
		t.Errorf("Unexpected fallback claim: %+v", a.Claims[0])
	}
}

func TestGenerateMockAdvisoryEvasionSignals(t *testing.T) {
	a := GenerateMockAdvisory(mockInput())

	var haveRedirect, haveHidden bool
	for _, s := range a.EvasionSignals {
		switch s.Signal {
		case "multi-hop redirect":
			haveRedirect = true
		case "hidden text":
			haveHidden = true
		}
	}
	if !haveRedirect {
		t.Error("Expected a multi-hop redirect signal for a 2-hop chain")
	}
	if !haveHidden {
		t.Error("Expected a hidden text signal for the triggered heuristic")
	}

	input := mockInput()
	input.Evidence.RedirectChain = input.Evidence.RedirectChain[:1]
	input.RuleRuns = nil
	a = GenerateMockAdvisory(input)
	if len(a.EvasionSignals) != 0 {
		t.Errorf("Expected no signals without redirects or hidden text, got %d", len(a.EvasionSignals))
	}
}

func TestGenerateMockAdvisoryPolicyConcerns(t *testing.T) {
	a := GenerateMockAdvisory(mockInput())
	if len(a.PolicyConcerns) != 2 {
		t.Fatalf("Expected one concern per policy match, got %d", len(a.PolicyConcerns))
	}
	for _, concern := range a.PolicyConcerns {
		if concern.Severity != "high" {
			t.Errorf("Expected high severity for triggered HIGH rules, got %s", concern.Severity)
		}
		if len(concern.PolicyCitations) != 1 {
			t.Errorf("Expected one citation per concern, got %d", len(concern.PolicyCitations))
		}
	}

	// Without high-severity triggers the mock still cites retrieval.
	input := mockInput()
	for i := range input.RuleRuns {
		input.RuleRuns[i].Triggered = false
	}
	a = GenerateMockAdvisory(input)
	if len(a.PolicyConcerns) != 1 {
		t.Fatalf("Expected single general concern, got %d", len(a.PolicyConcerns))
	}
	if a.PolicyConcerns[0].Severity != "medium" {
		t.Errorf("Expected medium severity, got %s", a.PolicyConcerns[0].Severity)
	}
	if len(a.PolicyConcerns[0].PolicyCitations) != 2 {
		t.Errorf("Expected both matches cited, got %d", len(a.PolicyConcerns[0].PolicyCitations))
	}
}
