package models

import (
	"time"

	"github.com/lib/pq"
)

type RetrievalType string

const (
	RetrievalPolicyOnly    RetrievalType = "POLICY_ONLY"
	RetrievalPrecedentOnly RetrievalType = "PRECEDENT_ONLY"
	RetrievalBoth          RetrievalType = "BOTH"
)

// RetrievalRun is one nearest-neighbor search invocation and its ranked results.
// Immutable once created; re-running retrieval appends a new row.
type RetrievalRun struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	CaseID        uint          `json:"caseId" gorm:"not null;index"`
	RetrievalType RetrievalType `json:"retrievalType" gorm:"not null"`
	QueryText     string        `json:"queryText" gorm:"type:text;not null"`
	EmbedModel    string        `json:"embedModel" gorm:"not null"`
	TopK          int           `json:"topK" gorm:"not null"`
	Results       JSONB         `json:"results" gorm:"type:jsonb"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (RetrievalRun) TableName() string {
	return "retrieval_runs"
}

// LLMRun is one advisory generation attempt. AdvisoryJSON is null when the
// provider output failed schema validation; RemovedChunkIDs is the citations
// audit trail for ids stripped by the integrity check. Immutable.
type LLMRun struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	CaseID          uint           `json:"caseId" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"not null"`
	Model           string         `json:"model" gorm:"not null"`
	Temperature     float64        `json:"temperature" gorm:"not null"`
	PromptVersion   string         `json:"promptVersion" gorm:"not null"`
	InputHash       string         `json:"inputHash" gorm:"not null"`
	AdvisoryText    string         `json:"advisoryText" gorm:"type:text"`
	AdvisoryJSON    JSONB          `json:"advisoryJson" gorm:"type:jsonb"`
	CitationsJSON   JSONB          `json:"citationsJson" gorm:"type:jsonb"`
	RemovedChunkIDs pq.StringArray `json:"removedChunkIds" gorm:"type:text[]"`
	ErrorMessage    *string        `json:"errorMessage"`
	LatencyMs       *int64         `json:"latencyMs"`
	CreatedAt       time.Time      `json:"createdAt"`
}

func (LLMRun) TableName() string {
	return "llm_runs"
}
