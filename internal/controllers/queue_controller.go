package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/beacongate/backend/internal/models"
)

// QueueController serves the reviewer work queue.
type QueueController struct {
	db *gorm.DB
}

func NewQueueController(db *gorm.DB) *QueueController {
	return &QueueController{db: db}
}

// List returns queue items, open first, highest risk first. Pass
// ?status=OPEN or ?status=DECIDED to filter.
func (qc *QueueController) List(c *gin.Context) {
	query := qc.db.Preload("Case")
	if status := c.Query("status"); status != "" {
		if status != string(models.QueueStatusOpen) && status != string(models.QueueStatusDecided) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
			return
		}
		query = query.Where("status = ?", status)
	}

	var items []models.QueueItem
	if err := query.Order("status asc").Order("risk_score desc").Order("created_at asc").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": items})
}
