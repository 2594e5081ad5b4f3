package models

import (
	"time"

	"gorm.io/gorm"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type EvidenceRef string

const (
	EvidenceRefAdText        EvidenceRef = "AD_TEXT"
	EvidenceRefLandingURL    EvidenceRef = "LANDING_URL"
	EvidenceRefHTMLSnapshot  EvidenceRef = "HTML_SNAPSHOT"
	EvidenceRefRedirectChain EvidenceRef = "REDIRECT_CHAIN"
)

// PolicyRule is one configured deterministic rule. The id set is closed;
// config shape depends on the rule id.
type PolicyRule struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name" gorm:"not null"`
	Description   string         `json:"description" gorm:"type:text"`
	Severity      Severity       `json:"severity" gorm:"not null"`
	CategoryScope *Category      `json:"categoryScope"`
	Enabled       bool           `json:"enabled" gorm:"not null;default:true"`
	Config        JSONB          `json:"config" gorm:"type:jsonb"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

func (PolicyRule) TableName() string {
	return "policy_rules"
}

// RuleRun is one deterministic rule evaluation result. Append-only: re-running
// the engine creates new rows, it never updates old ones. ConfigHash pins the
// exact rule config the evaluation used, so runtime config edits stay auditable.
type RuleRun struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	CaseID      uint        `json:"caseId" gorm:"not null;index"`
	RuleID      string      `json:"ruleId" gorm:"not null;index"`
	Triggered   bool        `json:"triggered" gorm:"not null"`
	MatchedText *string     `json:"matchedText"`
	Explanation string      `json:"explanation" gorm:"type:text;not null"`
	EvidenceRef EvidenceRef `json:"evidenceRef" gorm:"not null"`
	ConfigHash  string      `json:"configHash" gorm:"not null"`
	CreatedAt   time.Time   `json:"createdAt"`

	Rule *PolicyRule `json:"rule,omitempty" gorm:"foreignKey:RuleID;references:ID"`
}

func (RuleRun) TableName() string {
	return "rule_runs"
}
