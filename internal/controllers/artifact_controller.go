package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/beacongate/backend/internal/models"
	"github.com/beacongate/backend/internal/services"
)

// ArtifactController serves raw artifact bytes to the review UI.
type ArtifactController struct {
	db      *gorm.DB
	storage *services.ArtifactStorage
}

func NewArtifactController(db *gorm.DB, storage *services.ArtifactStorage) *ArtifactController {
	return &ArtifactController{db: db, storage: storage}
}

// Get streams one artifact. The storage layer rejects paths that
// escape the artifact root.
func (ac *ArtifactController) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid artifact id"})
		return
	}

	var artifact models.Artifact
	if err := ac.db.First(&artifact, uint(id)).Error; err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load artifact"})
		return
	}

	data, err := ac.storage.Read(artifact.Path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact content unavailable"})
		return
	}

	contentType := "application/octet-stream"
	if artifact.MimeType != nil && *artifact.MimeType != "" {
		contentType = *artifact.MimeType
	}
	c.Data(http.StatusOK, contentType, data)
}
