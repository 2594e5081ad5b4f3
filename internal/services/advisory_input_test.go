package services

import (
	"strings"
	"testing"
	"time"

	"github.com/beacongate/backend/internal/models"
)

func TestHTMLSnippet(t *testing.T) {
	got := HTMLSnippet("<html><body><h1>Big   Sale</h1>\n<p>Buy now.</p></body></html>", 1500)
	if got != "Big Sale Buy now." {
		t.Errorf("Expected tag-stripped collapsed text, got %q", got)
	}

	long := "<p>" + strings.Repeat("word ", 500) + "</p>"
	got = HTMLSnippet(long, 1500)
	if len(got) != 1500 {
		t.Errorf("Expected snippet capped at 1500, got %d", len(got))
	}

	if got := HTMLSnippet("", 1500); got != "" {
		t.Errorf("Expected empty snippet for empty HTML, got %q", got)
	}
}

func TestBuildAdvisoryInputFinalURL(t *testing.T) {
	c := &models.Case{AdText: "Some ad", Category: models.CategoryRetail, LandingURL: "https://start.example.com/"}
	chain := []RedirectHop{
		{URL: "https://start.example.com/"},
		{URL: "https://mid.example.net/step"},
		{URL: "https://final.example.org/landing"},
	}

	input := BuildAdvisoryInput(c, nil, "", chain, nil, nil, nil, nil)
	if input.Evidence.FinalURL != "https://final.example.org/landing" {
		t.Errorf("Expected final URL from last hop, got %q", input.Evidence.FinalURL)
	}

	input = BuildAdvisoryInput(c, nil, "", nil, nil, nil, nil, nil)
	if input.Evidence.FinalURL != "" {
		t.Errorf("Expected empty final URL without a chain, got %q", input.Evidence.FinalURL)
	}
	if input.Evidence.RedirectChain == nil {
		t.Error("Expected empty, non-nil redirect chain")
	}
}

func TestBuildAdvisoryInputRuleRuns(t *testing.T) {
	c := &models.Case{Category: models.CategoryHealth}
	matched := "act now"
	runs := []models.RuleRun{
		{RuleID: RuleProhibitedPhrase, Triggered: true, MatchedText: &matched, EvidenceRef: models.EvidenceRefAdText, Explanation: "found"},
		{RuleID: RuleRedirectCount, Triggered: false, EvidenceRef: models.EvidenceRefRedirectChain, Explanation: "within limit"},
	}
	severities := map[string]models.Severity{
		RuleProhibitedPhrase: models.SeverityHigh,
		RuleRedirectCount:    models.SeverityLow,
	}

	input := BuildAdvisoryInput(c, nil, "", nil, runs, severities, nil, nil)
	if len(input.RuleRuns) != 2 {
		t.Fatalf("Expected 2 rule runs, got %d", len(input.RuleRuns))
	}
	if input.RuleRuns[0].Severity != "HIGH" || input.RuleRuns[1].Severity != "LOW" {
		t.Errorf("Expected severities mapped from rule ids, got %s/%s", input.RuleRuns[0].Severity, input.RuleRuns[1].Severity)
	}
	if input.RuleRuns[0].MatchedText == nil || *input.RuleRuns[0].MatchedText != "act now" {
		t.Error("Expected matched text carried through")
	}
}

func TestBuildAdvisoryInputEvidenceAndRetrieval(t *testing.T) {
	capturedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	screenshotID := uint(42)
	evidence := &models.Evidence{
		EvidenceHash:         "abc123",
		LastCapturedAt:       &capturedAt,
		ScreenshotArtifactID: &screenshotID,
	}
	run := &models.RetrievalRun{ID: 7}
	results := &RetrievalResults{
		Policy: []RetrievalResultItem{
			{ChunkID: "kc_a", DocumentTitle: "Misleading Claims", Score: 0.9, Snippet: "..."},
		},
		Precedent: []RetrievalResultItem{},
	}

	input := BuildAdvisoryInput(&models.Case{}, evidence, "", nil, nil, nil, run, results)
	if input.Evidence.EvidenceHash != "abc123" {
		t.Errorf("Expected evidence hash, got %q", input.Evidence.EvidenceHash)
	}
	if input.Evidence.LastCapturedAt == nil || *input.Evidence.LastCapturedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("Expected RFC3339 capture time, got %v", input.Evidence.LastCapturedAt)
	}
	if input.Evidence.ScreenshotArtifactID == nil || *input.Evidence.ScreenshotArtifactID != 42 {
		t.Error("Expected screenshot artifact id carried through")
	}
	if input.Retrieval.LastRunID == nil || *input.Retrieval.LastRunID != 7 {
		t.Error("Expected retrieval run id carried through")
	}
	if len(input.Retrieval.PolicyMatches) != 1 || input.Retrieval.PolicyMatches[0].ChunkID != "kc_a" {
		t.Errorf("Unexpected policy matches: %v", input.Retrieval.PolicyMatches)
	}
}

func TestAdvisoryInputHashStable(t *testing.T) {
	c := &models.Case{AdText: "Ad", Category: models.CategoryFinance, LandingURL: "https://example.com"}
	chain := []RedirectHop{{URL: "https://example.com"}}

	a := BuildAdvisoryInput(c, nil, "<p>hi</p>", chain, nil, nil, nil, nil)
	b := BuildAdvisoryInput(c, nil, "<p>hi</p>", chain, nil, nil, nil, nil)

	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha != hb {
		t.Error("Expected identical inputs to hash identically")
	}

	c2 := &models.Case{AdText: "Different ad", Category: models.CategoryFinance, LandingURL: "https://example.com"}
	hc, err := BuildAdvisoryInput(c2, nil, "<p>hi</p>", chain, nil, nil, nil, nil).Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha == hc {
		t.Error("Expected a changed ad text to change the input hash")
	}
}
