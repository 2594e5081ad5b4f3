package models

import (
	"time"
)

type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

type QueueStatus string

const (
	QueueStatusOpen    QueueStatus = "OPEN"
	QueueStatusDecided QueueStatus = "DECIDED"
)

// QueueItem is the derived risk projection shown in the reviewer queue.
// The risk scorer overwrites score and tier after every rule-engine run.
type QueueItem struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	CaseID    uint        `json:"caseId" gorm:"not null;uniqueIndex"`
	RiskScore int         `json:"riskScore" gorm:"not null;default:10"`
	Tier      RiskTier    `json:"tier" gorm:"not null;default:'LOW'"`
	Status    QueueStatus `json:"status" gorm:"not null;default:'OPEN'"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`

	Case *Case `json:"case,omitempty" gorm:"foreignKey:CaseID"`
}

func (QueueItem) TableName() string {
	return "queue_items"
}
