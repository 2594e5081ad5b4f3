package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/beacongate/backend/internal/models"
)

const advisoryHTMLSnippetLen = 1500

// AdvisoryInput is the canonical payload sent to the advisory provider.
// Its canonical-JSON hash is stored on the LLMRun so any advisory can
// be traced back to the exact inputs it saw.
type AdvisoryInput struct {
	Case             AdvisoryInputCase        `json:"case"`
	Evidence         AdvisoryInputEvidence    `json:"evidence"`
	RuleRuns         []AdvisoryInputRuleRun   `json:"ruleRuns"`
	Retrieval        AdvisoryInputRetrieval   `json:"retrieval"`
	GenerationParams AdvisoryGenerationParams `json:"generationParams"`
}

type AdvisoryInputCase struct {
	ID         uint   `json:"id"`
	Category   string `json:"category"`
	AdText     string `json:"adText"`
	LandingURL string `json:"landingUrl"`
}

type AdvisoryInputEvidence struct {
	FinalURL             string        `json:"finalUrl,omitempty"`
	RedirectChain        []RedirectHop `json:"redirectChain"`
	HTMLSnippet          string        `json:"htmlSnippet"`
	ScreenshotArtifactID *uint         `json:"screenshotArtifactId,omitempty"`
	EvidenceHash         string        `json:"evidenceHash"`
	LastCapturedAt       *string       `json:"lastCapturedAt"`
}

type AdvisoryInputRuleRun struct {
	ID          uint    `json:"id"`
	RuleID      string  `json:"ruleId"`
	Severity    string  `json:"severity"`
	Triggered   bool    `json:"triggered"`
	MatchedText *string `json:"matchedText"`
	EvidenceRef string  `json:"evidenceRef"`
	Explanation string  `json:"explanation"`
}

type AdvisoryInputMatch struct {
	DocumentTitle string  `json:"documentTitle"`
	ChunkID       string  `json:"chunkId"`
	Score         float64 `json:"score"`
	Snippet       string  `json:"snippet"`
}

type AdvisoryInputRetrieval struct {
	LastRunID        *uint                `json:"lastRunId"`
	PolicyMatches    []AdvisoryInputMatch `json:"policyMatches"`
	PrecedentMatches []AdvisoryInputMatch `json:"precedentMatches"`
}

type AdvisoryGenerationParams struct {
	TopKPolicy    int `json:"topKPolicy"`
	TopKPrecedent int `json:"topKPrecedent"`
}

// BuildAdvisoryInput assembles the canonical input from a case and its
// evidence, rule runs and latest retrieval. The final URL comes from
// the last redirect hop; the HTML snippet is tag-stripped and bounded.
func BuildAdvisoryInput(
	c *models.Case,
	evidence *models.Evidence,
	htmlContent string,
	redirectChain []RedirectHop,
	ruleRuns []models.RuleRun,
	severities map[string]models.Severity,
	retrievalRun *models.RetrievalRun,
	results *RetrievalResults,
) AdvisoryInput {
	input := AdvisoryInput{
		Case: AdvisoryInputCase{
			ID:         c.ID,
			Category:   string(c.Category),
			AdText:     c.AdText,
			LandingURL: c.LandingURL,
		},
		Evidence: AdvisoryInputEvidence{
			RedirectChain: redirectChain,
			HTMLSnippet:   HTMLSnippet(htmlContent, advisoryHTMLSnippetLen),
		},
		RuleRuns: []AdvisoryInputRuleRun{},
		Retrieval: AdvisoryInputRetrieval{
			PolicyMatches:    []AdvisoryInputMatch{},
			PrecedentMatches: []AdvisoryInputMatch{},
		},
		GenerationParams: AdvisoryGenerationParams{
			TopKPolicy:    defaultTopK,
			TopKPrecedent: defaultTopK,
		},
	}
	if input.Evidence.RedirectChain == nil {
		input.Evidence.RedirectChain = []RedirectHop{}
	}
	if len(redirectChain) > 0 {
		input.Evidence.FinalURL = redirectChain[len(redirectChain)-1].URL
	}

	if evidence != nil {
		input.Evidence.EvidenceHash = evidence.EvidenceHash
		input.Evidence.ScreenshotArtifactID = evidence.ScreenshotArtifactID
		if evidence.LastCapturedAt != nil {
			ts := evidence.LastCapturedAt.UTC().Format(time.RFC3339)
			input.Evidence.LastCapturedAt = &ts
		}
	}

	for _, run := range ruleRuns {
		input.RuleRuns = append(input.RuleRuns, AdvisoryInputRuleRun{
			ID:          run.ID,
			RuleID:      run.RuleID,
			Severity:    string(severities[run.RuleID]),
			Triggered:   run.Triggered,
			MatchedText: run.MatchedText,
			EvidenceRef: string(run.EvidenceRef),
			Explanation: run.Explanation,
		})
	}

	if retrievalRun != nil {
		runID := retrievalRun.ID
		input.Retrieval.LastRunID = &runID
	}
	if results != nil {
		input.Retrieval.PolicyMatches = toInputMatches(results.Policy, defaultTopK)
		input.Retrieval.PrecedentMatches = toInputMatches(results.Precedent, defaultTopK)
	}
	return input
}

func toInputMatches(items []RetrievalResultItem, limit int) []AdvisoryInputMatch {
	if len(items) > limit {
		items = items[:limit]
	}
	matches := make([]AdvisoryInputMatch, 0, len(items))
	for _, item := range items {
		matches = append(matches, AdvisoryInputMatch{
			DocumentTitle: item.DocumentTitle,
			ChunkID:       item.ChunkID,
			Score:         item.Score,
			Snippet:       item.Snippet,
		})
	}
	return matches
}

// Hash returns the canonical-JSON SHA-256 of the input.
func (in AdvisoryInput) Hash() (string, error) {
	return HashCanonical(in)
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// HTMLSnippet strips tags, collapses whitespace and truncates.
func HTMLSnippet(htmlContent string, maxLen int) string {
	text := htmlTagPattern.ReplaceAllString(htmlContent, " ")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}
