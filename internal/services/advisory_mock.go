package services

import (
	"fmt"
	"strings"
)

// Keyword lists are ordered so the mock output is deterministic for a
// given input.
var claimKeywordOrder = []string{"health", "finance", "guarantee", "endorsement"}

var claimKeywords = map[string][]string{
	"health":      {"health", "doctor", "cure", "treatment", "medical", "joint", "pain", "relief", "supplement"},
	"finance":     {"guarantee", "return", "investment", "profit", "money", "cash", "refund"},
	"guarantee":   {"guarantee", "promise", "ensure", "100%", "best"},
	"endorsement": {"recommended", "approved", "certified"},
}

// GenerateMockAdvisory produces a structured advisory from rules,
// retrieval and evidence alone, with no model call. Same input, same
// output.
func GenerateMockAdvisory(input AdvisoryInput) *Advisory {
	claims := mockClaims(input)
	signals := mockEvasionSignals(input)
	concerns := mockPolicyConcerns(input)

	return &Advisory{
		Summary:                      mockSummary(claims, signals, concerns),
		Claims:                       claims,
		EvasionSignals:               signals,
		PolicyConcerns:               concerns,
		RecommendedReviewerQuestions: mockQuestions(input),
		RecommendedNextActions:       mockNextActions(input),
		NonBindingNotice:             NonBindingNotice,
	}
}

func mockClaims(input AdvisoryInput) []AdvisoryClaim {
	var claims []AdvisoryClaim
	adText := input.Case.AdText
	adLower := strings.ToLower(adText)
	for _, claimType := range claimKeywordOrder {
		for _, kw := range claimKeywords[claimType] {
			if !strings.Contains(adLower, kw) {
				continue
			}
			sentence := sentenceContaining(adText, kw)
			quote := sentence
			if len(quote) > 200 {
				quote = quote[:200]
			}
			claims = append(claims, AdvisoryClaim{
				Text: sentence,
				Type: claimType,
				Risk: "medium",
				Evidence: []AdvisoryEvidenceRef{{
					Source:  "ad_text",
					Quote:   quote,
					Pointer: fmt.Sprintf("adText:chars 0-%d", len(adText)),
				}},
			})
			if len(claims) >= 5 {
				return claims
			}
		}
	}
	if len(claims) == 0 {
		quote := adText
		if len(quote) > 150 {
			quote = quote[:150]
		}
		claims = append(claims, AdvisoryClaim{
			Text: "General promotional claim",
			Type: "other",
			Risk: "low",
			Evidence: []AdvisoryEvidenceRef{{
				Source:  "ad_text",
				Quote:   quote,
				Pointer: fmt.Sprintf("adText:chars 0-%d", len(quote)),
			}},
		})
	}
	return claims
}

func sentenceContaining(text, word string) string {
	idx := strings.Index(strings.ToLower(text), word)
	if idx == -1 {
		if len(text) > 120 {
			return text[:120]
		}
		return text
	}
	start := strings.LastIndex(text[:idx], ".") + 1
	end := strings.Index(text[idx:], ".")
	var slice string
	if end == -1 {
		slice = text[start:]
	} else {
		slice = text[start : idx+end+1]
	}
	slice = strings.TrimSpace(slice)
	if len(slice) > 200 {
		return slice[:197] + "…"
	}
	return slice
}

func mockEvasionSignals(input AdvisoryInput) []AdvisoryEvasionSignal {
	var signals []AdvisoryEvasionSignal
	hops := len(input.Evidence.RedirectChain)
	if hops >= 2 {
		severity := "medium"
		if hops > 3 {
			severity = "high"
		}
		signals = append(signals, AdvisoryEvasionSignal{
			Signal:   "multi-hop redirect",
			Severity: severity,
			Evidence: []AdvisoryEvidenceRef{{
				Source:  "redirect_chain",
				Quote:   fmt.Sprintf("%d hops", hops),
				Pointer: fmt.Sprintf("redirectChain[0..%d]", hops-1),
			}},
		})
	}
	for _, run := range input.RuleRuns {
		if !run.Triggered {
			continue
		}
		if !strings.Contains(strings.ToLower(run.RuleID), "hidden") &&
			!strings.Contains(strings.ToLower(run.Explanation), "hidden") {
			continue
		}
		severity := "medium"
		if run.Severity == "HIGH" {
			severity = "high"
		}
		quote := ""
		if run.MatchedText != nil {
			quote = *run.MatchedText
			if len(quote) > 150 {
				quote = quote[:150]
			}
		}
		signals = append(signals, AdvisoryEvasionSignal{
			Signal:   "hidden text",
			Severity: severity,
			Evidence: []AdvisoryEvidenceRef{{
				Source:  "html",
				Quote:   quote,
				Pointer: "htmlSnippet",
			}},
		})
		break
	}
	if len(signals) > 8 {
		signals = signals[:8]
	}
	return signals
}

func mockPolicyConcerns(input AdvisoryInput) []AdvisoryPolicyConcern {
	var concerns []AdvisoryPolicyConcern
	var highTriggered []string
	for _, run := range input.RuleRuns {
		if run.Triggered && run.Severity == "HIGH" {
			highTriggered = append(highTriggered, run.RuleID)
		}
	}
	policyMatches := input.Retrieval.PolicyMatches
	if len(policyMatches) > 3 {
		policyMatches = policyMatches[:3]
	}

	if len(highTriggered) > 0 && len(policyMatches) > 0 {
		for _, match := range policyMatches {
			snippet := match.Snippet
			if len(snippet) > 400 {
				snippet = snippet[:400]
			}
			concerns = append(concerns, AdvisoryPolicyConcern{
				Concern:  fmt.Sprintf("Policy relevance: %s. Rule(s) triggered: %s.", match.DocumentTitle, strings.Join(highTriggered, ", ")),
				Severity: "high",
				PolicyCitations: []AdvisoryPolicyCitation{{
					ChunkID:       match.ChunkID,
					DocumentTitle: match.DocumentTitle,
					Snippet:       snippet,
				}},
			})
			if len(concerns) >= 3 {
				break
			}
		}
	}
	if len(concerns) == 0 {
		citations := make([]AdvisoryPolicyCitation, 0, len(policyMatches))
		for _, match := range policyMatches {
			snippet := match.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			citations = append(citations, AdvisoryPolicyCitation{
				ChunkID:       match.ChunkID,
				DocumentTitle: match.DocumentTitle,
				Snippet:       snippet,
			})
		}
		concerns = append(concerns, AdvisoryPolicyConcern{
			Concern:         "Review policy guidance for this category and ad type.",
			Severity:        "medium",
			PolicyCitations: citations,
		})
	}
	if len(concerns) > 8 {
		concerns = concerns[:8]
	}
	return concerns
}

func mockQuestions(input AdvisoryInput) []string {
	var questions []string
	if len(input.Evidence.RedirectChain) >= 2 {
		questions = append(questions, "Does the redirect chain comply with disclosure requirements?")
	}
	for _, run := range input.RuleRuns {
		if run.Triggered && run.Severity == "HIGH" {
			questions = append(questions, "Are triggered rule findings substantiated by evidence?")
			break
		}
	}
	questions = append(questions, "Does the ad and landing experience align with category policy?")
	if len(questions) > 8 {
		questions = questions[:8]
	}
	return questions
}

func mockNextActions(input AdvisoryInput) []AdvisoryNextAction {
	actions := []AdvisoryNextAction{
		{Action: "Check disclaimer presence where required", Priority: "P0"},
		{Action: "Verify claim substantiation against evidence", Priority: "P1"},
	}
	if len(input.Retrieval.PolicyMatches) > 0 {
		actions = append(actions, AdvisoryNextAction{Action: "Review policy and precedent matches", Priority: "P2"})
	}
	return actions
}

func mockSummary(claims []AdvisoryClaim, signals []AdvisoryEvasionSignal, concerns []AdvisoryPolicyConcern) string {
	parts := []string{
		fmt.Sprintf("Advisory identifies %d claim(s) and %d evasion signal(s).", len(claims), len(signals)),
	}
	if len(concerns) > 0 {
		parts = append(parts, fmt.Sprintf("%d policy concern(s) cited from retrieval.", len(concerns)))
	}
	parts = append(parts, "Reviewer should verify evidence and apply policy. This output is non-binding.")
	return strings.Join(parts, " ")
}
