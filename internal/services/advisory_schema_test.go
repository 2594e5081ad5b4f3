package services

import (
	"strings"
	"testing"
)

func validAdvisory() *Advisory {
	return &Advisory{
		Summary: "The ad makes an unconditional guarantee and lands on a risky domain.",
		Claims: []AdvisoryClaim{
			{
				Text: "Guaranteed results in two weeks.",
				Type: "guarantee",
				Risk: "high",
				Evidence: []AdvisoryEvidenceRef{
					{Source: "ad_text", Quote: "Guaranteed results"},
				},
			},
		},
		EvasionSignals: []AdvisoryEvasionSignal{
			{Signal: "Redirect chain crosses domains", Severity: "medium"},
		},
		PolicyConcerns: []AdvisoryPolicyConcern{
			{
				Concern:  "Unsubstantiated performance guarantee",
				Severity: "high",
				PolicyCitations: []AdvisoryPolicyCitation{
					{ChunkID: "kc_0123456789abcdef", DocumentTitle: "Misleading Claims"},
				},
			},
		},
		RecommendedReviewerQuestions: []string{"Is the guarantee substantiated anywhere?"},
		RecommendedNextActions: []AdvisoryNextAction{
			{Action: "Reject unless guarantee is removed", Priority: "P1"},
		},
		NonBindingNotice: NonBindingNotice,
	}
}

func TestValidateAdvisoryAccepts(t *testing.T) {
	if err := ValidateAdvisory(validAdvisory()); err != nil {
		t.Errorf("Expected valid advisory to pass, got %v", err)
	}
}

func TestValidateAdvisoryNoticeLiteral(t *testing.T) {
	a := validAdvisory()
	a.NonBindingNotice = "llm advisory (non-binding)"
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected wrong notice casing to be rejected")
	}

	a = validAdvisory()
	a.NonBindingNotice = ""
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected empty notice to be rejected")
	}
}

func TestValidateAdvisoryEnums(t *testing.T) {
	a := validAdvisory()
	a.Claims[0].Risk = "critical"
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected out-of-enum risk to be rejected")
	}

	a = validAdvisory()
	a.Claims[0].Evidence[0].Source = "screenshot"
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected out-of-enum evidence source to be rejected")
	}

	a = validAdvisory()
	a.RecommendedNextActions[0].Priority = "P3"
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected out-of-enum priority to be rejected")
	}
}

func TestValidateAdvisoryBounds(t *testing.T) {
	a := validAdvisory()
	a.Summary = strings.Repeat("x", 1201)
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected over-length summary to be rejected")
	}

	a = validAdvisory()
	a.Summary = ""
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected missing summary to be rejected")
	}

	a = validAdvisory()
	for i := 0; i < 11; i++ {
		a.Claims = append(a.Claims, a.Claims[0])
	}
	if err := ValidateAdvisory(a); err == nil {
		t.Error("Expected more than 10 claims to be rejected")
	}
}

func TestParseAdvisoryRejectsUnknownFields(t *testing.T) {
	raw := `{"summary":"ok","nonBindingNotice":"LLM Advisory (non-binding)","surprise":true}`
	if _, err := ParseAdvisory(raw); err == nil {
		t.Error("Expected unknown field to be rejected")
	}
}

func TestParseAdvisoryRejectsNonJSON(t *testing.T) {
	if _, err := ParseAdvisory("I think this ad is fine."); err == nil {
		t.Error("Expected prose output to be rejected")
	}
}

func TestParseAdvisoryMinimal(t *testing.T) {
	raw := `{"summary":"Nothing remarkable.","nonBindingNotice":"LLM Advisory (non-binding)"}`
	a, err := ParseAdvisory(raw)
	if err != nil {
		t.Fatalf("Expected minimal advisory to parse, got %v", err)
	}
	if a.Summary != "Nothing remarkable." {
		t.Errorf("Unexpected summary %q", a.Summary)
	}
}

func TestAdvisoryChunkIDs(t *testing.T) {
	a := validAdvisory()
	a.PolicyConcerns = append(a.PolicyConcerns, AdvisoryPolicyConcern{
		Concern:  "Second concern",
		Severity: "low",
		PolicyCitations: []AdvisoryPolicyCitation{
			{ChunkID: "kc_0123456789abcdef"},
			{ChunkID: "kc_fedcba9876543210"},
			{ChunkID: ""},
		},
	})

	ids := a.ChunkIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 distinct chunk ids, got %d", len(ids))
	}
	if ids[0] != "kc_0123456789abcdef" || ids[1] != "kc_fedcba9876543210" {
		t.Errorf("Unexpected id order: %v", ids)
	}
}
