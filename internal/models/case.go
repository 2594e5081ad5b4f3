package models

import (
	"time"

	"gorm.io/gorm"
)

type Category string

const (
	CategoryHealth  Category = "HEALTH"
	CategoryFinance Category = "FINANCE"
	CategoryRetail  Category = "RETAIL"
	CategoryOther   Category = "OTHER"
)

type CaseStatus string

const (
	CaseStatusNew            CaseStatus = "NEW"
	CaseStatusCapturing      CaseStatus = "CAPTURING"
	CaseStatusReadyForReview CaseStatus = "READY_FOR_REVIEW"
	CaseStatusInReview       CaseStatus = "IN_REVIEW"
	CaseStatusDecided        CaseStatus = "DECIDED"
)

// Case is one submitted advertisement under review.
type Case struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	AdText     string         `json:"adText" gorm:"type:text;not null"`
	Category   Category       `json:"category" gorm:"not null"`
	LandingURL string         `json:"landingUrl" gorm:"not null"`
	Status     CaseStatus     `json:"status" gorm:"not null;default:'NEW'"`
	EvidenceID uint           `json:"evidenceId" gorm:"not null;index"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	Evidence      *Evidence      `json:"evidence,omitempty" gorm:"foreignKey:EvidenceID;references:ID"`
	RuleRuns      []RuleRun      `json:"ruleRuns,omitempty" gorm:"foreignKey:CaseID"`
	RetrievalRuns []RetrievalRun `json:"retrievalRuns,omitempty" gorm:"foreignKey:CaseID"`
	LLMRuns       []LLMRun       `json:"llmRuns,omitempty" gorm:"foreignKey:CaseID"`
	QueueItem     *QueueItem     `json:"queueItem,omitempty" gorm:"foreignKey:CaseID"`
}

func (Case) TableName() string {
	return "cases"
}

type DecisionOutcome string

const (
	DecisionApproved     DecisionOutcome = "APPROVED"
	DecisionRejected     DecisionOutcome = "REJECTED"
	DecisionNeedsChanges DecisionOutcome = "NEEDS_CHANGES"
)

// Decision records the reviewer's final call on a case.
type Decision struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	CaseID     uint            `json:"caseId" gorm:"not null;index"`
	ReviewerID uint            `json:"reviewerId" gorm:"not null"`
	Outcome    DecisionOutcome `json:"outcome" gorm:"not null"`
	Notes      string          `json:"notes" gorm:"type:text"`
	CreatedAt  time.Time       `json:"createdAt"`

	Reviewer *User `json:"reviewer,omitempty" gorm:"foreignKey:ReviewerID"`
}

func (Decision) TableName() string {
	return "decisions"
}
