package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NonBindingNotice is the exact sentinel every advisory must carry.
const NonBindingNotice = "LLM Advisory (non-binding)"

// Advisory is the structured output contract for advisory generation.
// Providers that cannot produce this shape have their output rejected.
type Advisory struct {
	Summary                      string                  `json:"summary" validate:"required,max=1200"`
	Claims                       []AdvisoryClaim         `json:"claims" validate:"max=10,dive"`
	EvasionSignals               []AdvisoryEvasionSignal `json:"evasionSignals" validate:"max=8,dive"`
	PolicyConcerns               []AdvisoryPolicyConcern `json:"policyConcerns" validate:"max=8,dive"`
	RecommendedReviewerQuestions []string                `json:"recommendedReviewerQuestions" validate:"max=8,dive,max=400"`
	RecommendedNextActions       []AdvisoryNextAction    `json:"recommendedNextActions" validate:"max=8,dive"`
	NonBindingNotice             string                  `json:"nonBindingNotice" validate:"required"`
}

type AdvisoryEvidenceRef struct {
	Source  string `json:"source" validate:"required,oneof=ad_text html redirect_chain"`
	Quote   string `json:"quote" validate:"max=500"`
	Pointer string `json:"pointer" validate:"max=200"`
}

type AdvisoryClaim struct {
	Text     string                `json:"text" validate:"required,max=800"`
	Type     string                `json:"type" validate:"required,oneof=health finance pricing guarantee endorsement other"`
	Risk     string                `json:"risk" validate:"required,oneof=low medium high"`
	Evidence []AdvisoryEvidenceRef `json:"evidence" validate:"max=5,dive"`
}

type AdvisoryEvasionSignal struct {
	Signal   string                `json:"signal" validate:"required,max=300"`
	Severity string                `json:"severity" validate:"required,oneof=low medium high"`
	Evidence []AdvisoryEvidenceRef `json:"evidence" validate:"max=5,dive"`
}

type AdvisoryPolicyCitation struct {
	ChunkID       string `json:"chunkId" validate:"required,max=100"`
	DocumentTitle string `json:"documentTitle" validate:"max=300"`
	Snippet       string `json:"snippet" validate:"max=600"`
}

type AdvisoryPolicyConcern struct {
	Concern         string                   `json:"concern" validate:"required,max=500"`
	Severity        string                   `json:"severity" validate:"required,oneof=low medium high"`
	PolicyCitations []AdvisoryPolicyCitation `json:"policyCitations" validate:"max=5,dive"`
}

type AdvisoryNextAction struct {
	Action   string `json:"action" validate:"required,max=300"`
	Priority string `json:"priority" validate:"required,oneof=P0 P1 P2"`
}

var advisoryValidate = validator.New()

// ValidateAdvisory checks an advisory against the output contract. The
// notice literal is checked by hand because it is a fixed sentence, not
// an enum the validator can express.
func ValidateAdvisory(a *Advisory) error {
	if a == nil {
		return fmt.Errorf("advisory is nil")
	}
	if err := advisoryValidate.Struct(a); err != nil {
		return fmt.Errorf("advisory schema validation failed: %w", err)
	}
	if a.NonBindingNotice != NonBindingNotice {
		return fmt.Errorf("advisory nonBindingNotice must be exactly %q", NonBindingNotice)
	}
	return nil
}

// ParseAdvisory decodes raw provider output into a validated Advisory.
// Unknown fields are rejected so providers cannot smuggle extra keys.
func ParseAdvisory(raw string) (*Advisory, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var advisory Advisory
	if err := dec.Decode(&advisory); err != nil {
		return nil, fmt.Errorf("advisory output is not valid JSON: %w", err)
	}
	if err := ValidateAdvisory(&advisory); err != nil {
		return nil, err
	}
	return &advisory, nil
}

// ChunkIDs collects the distinct chunk ids cited across policy
// concerns, in first-seen order.
func (a *Advisory) ChunkIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, concern := range a.PolicyConcerns {
		for _, citation := range concern.PolicyCitations {
			if citation.ChunkID == "" || seen[citation.ChunkID] {
				continue
			}
			seen[citation.ChunkID] = true
			ids = append(ids, citation.ChunkID)
		}
	}
	return ids
}
