package models

import (
	"time"

	"gorm.io/gorm"
)

// Evidence is the captured record of a case's landing destination. One per case;
// mutated only by the capture worker after each attempt.
type Evidence struct {
	ID                   uint           `json:"id" gorm:"primaryKey"`
	LandingURL           string         `json:"landingUrl" gorm:"not null"`
	EvidenceHash         string         `json:"evidenceHash" gorm:"not null"`
	LastCapturedAt       *time.Time     `json:"lastCapturedAt"`
	CurrentCaptureRunID  *uint          `json:"currentCaptureRunId"`
	ScreenshotArtifactID *uint          `json:"screenshotArtifactId"`
	Notes                *string        `json:"notes"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	DeletedAt            gorm.DeletedAt `json:"-" gorm:"index"`

	CaptureRuns []CaptureRun `json:"captureRuns,omitempty" gorm:"foreignKey:EvidenceID"`
	Artifacts   []Artifact   `json:"artifacts,omitempty" gorm:"foreignKey:EvidenceID"`
}

func (Evidence) TableName() string {
	return "evidence"
}

type CaptureRunStatus string

const (
	CaptureRunQueued    CaptureRunStatus = "QUEUED"
	CaptureRunRunning   CaptureRunStatus = "RUNNING"
	CaptureRunSucceeded CaptureRunStatus = "SUCCEEDED"
	CaptureRunFailed    CaptureRunStatus = "FAILED"
)

// CaptureRun is one attempt to fetch and record evidence. Append-only audit trail;
// rows are never deleted or reused across attempts.
type CaptureRun struct {
	ID           uint             `json:"id" gorm:"primaryKey"`
	EvidenceID   uint             `json:"evidenceId" gorm:"not null;index"`
	Status       CaptureRunStatus `json:"status" gorm:"not null;default:'QUEUED'"`
	Attempt      int              `json:"attempt" gorm:"not null;default:1"`
	StartedAt    *time.Time       `json:"startedAt"`
	FinishedAt   *time.Time       `json:"finishedAt"`
	ErrorMessage *string          `json:"errorMessage"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func (CaptureRun) TableName() string {
	return "capture_runs"
}

type ArtifactType string

const (
	ArtifactScreenshot     ArtifactType = "SCREENSHOT"
	ArtifactHTMLSnapshot   ArtifactType = "HTML_SNAPSHOT"
	ArtifactRedirectChain  ArtifactType = "REDIRECT_CHAIN"
	ArtifactNetworkSummary ArtifactType = "NETWORK_SUMMARY"
)

// Artifact is an immutable record of one captured byte blob. Path is relative to
// the storage root: {evidenceId}/{captureRunId}/{basename}.
type Artifact struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	EvidenceID   uint         `json:"evidenceId" gorm:"not null;index"`
	CaptureRunID uint         `json:"captureRunId" gorm:"not null;index"`
	Type         ArtifactType `json:"type" gorm:"not null"`
	Path         string       `json:"path" gorm:"not null"`
	SHA256       string       `json:"sha256" gorm:"not null"`
	ByteSize     int64        `json:"byteSize" gorm:"not null"`
	MimeType     *string      `json:"mimeType"`
	Meta         JSONB        `json:"meta" gorm:"type:jsonb"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (Artifact) TableName() string {
	return "artifacts"
}
