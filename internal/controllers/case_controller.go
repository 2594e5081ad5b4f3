package controllers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/beacongate/backend/internal/models"
	"github.com/beacongate/backend/internal/services"
)

// CaseController handles case submission and the reviewer actions that
// drive the pipeline: capture retry, retrieval, advisory, decision.
type CaseController struct {
	db               *gorm.DB
	jobService       *services.JobService
	retrievalService *services.RetrievalService
	advisoryService  *services.AdvisoryService
	storage          *services.ArtifactStorage
}

func NewCaseController(
	db *gorm.DB,
	jobService *services.JobService,
	retrievalService *services.RetrievalService,
	advisoryService *services.AdvisoryService,
	storage *services.ArtifactStorage,
) *CaseController {
	return &CaseController{
		db:               db,
		jobService:       jobService,
		retrievalService: retrievalService,
		advisoryService:  advisoryService,
		storage:          storage,
	}
}

type SubmitCaseRequest struct {
	AdText     string          `json:"adText" binding:"required,max=10000"`
	Category   models.Category `json:"category" binding:"required,oneof=HEALTH FINANCE RETAIL OTHER"`
	LandingURL string          `json:"landingUrl" binding:"required,url,max=2048"`
}

// Create validates the submission shape, creates Evidence, Case and
// QueueItem, and enqueues the capture job. The SSRF guard runs inside
// the capture job so a blocked URL still leaves an auditable FAILED
// run on the case.
func (cc *CaseController) Create(c *gin.Context) {
	var req SubmitCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if parsed, err := url.Parse(req.LandingURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "landingUrl must use http or https"})
		return
	}

	evidence := models.Evidence{
		LandingURL:   req.LandingURL,
		EvidenceHash: services.SHA256Hex([]byte(req.LandingURL)),
	}
	if err := cc.db.Create(&evidence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create evidence"})
		return
	}

	kase := models.Case{
		AdText:     req.AdText,
		Category:   req.Category,
		LandingURL: req.LandingURL,
		Status:     models.CaseStatusCapturing,
		EvidenceID: evidence.ID,
	}
	if err := cc.db.Create(&kase).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create case"})
		return
	}

	queueItem := models.QueueItem{
		CaseID:    kase.ID,
		RiskScore: 10,
		Tier:      models.TierLow,
		Status:    models.QueueStatusOpen,
	}
	if err := cc.db.Create(&queueItem).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create queue item"})
		return
	}

	if _, err := cc.jobService.EnqueueCapture(kase.ID, evidence.ID, req.LandingURL); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue capture: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "case": kase})
}

// List returns cases newest first.
func (cc *CaseController) List(c *gin.Context) {
	var cases []models.Case
	if err := cc.db.Preload("QueueItem").Order("created_at desc").Find(&cases).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

// Get returns one case with its full pipeline history.
func (cc *CaseController) Get(c *gin.Context) {
	kase, ok := cc.loadCase(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": kase})
}

// Retry re-enqueues capture for a case stuck in CAPTURING.
func (cc *CaseController) Retry(c *gin.Context) {
	kase, ok := cc.loadCase(c)
	if !ok {
		return
	}
	if kase.Status != models.CaseStatusCapturing {
		c.JSON(http.StatusConflict, gin.H{"error": "Case is not in CAPTURING state"})
		return
	}

	run, err := cc.jobService.EnqueueCapture(kase.ID, kase.EvidenceID, kase.LandingURL)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue capture: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "captureRun": run})
}

type RetrievalRequest struct {
	TopK          int                  `json:"topK"`
	RetrievalType models.RetrievalType `json:"retrievalType" binding:"omitempty,oneof=POLICY_ONLY PRECEDENT_ONLY BOTH"`
}

// RunRetrieval embeds the case query and records a retrieval run.
func (cc *CaseController) RunRetrieval(c *gin.Context) {
	kase, ok := cc.loadCase(c)
	if !ok {
		return
	}

	var req RetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RetrievalType == "" {
		req.RetrievalType = models.RetrievalBoth
	}

	htmlContent, redirectChain := cc.loadEvidenceContent(kase)
	finalDomain := ""
	if len(redirectChain) > 0 {
		if parsed, err := url.Parse(redirectChain[len(redirectChain)-1].URL); err == nil {
			finalDomain = parsed.Hostname()
		}
	}

	queryText := services.BuildQueryText(kase.AdText, kase.Category, kase.LandingURL, htmlContent, finalDomain)
	results, err := cc.retrievalService.Retrieve(kase.ID, queryText, req.RetrievalType, req.TopK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Retrieval failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GenerateAdvisory builds the canonical advisory input for the case and
// runs the generator, persisting the LLMRun.
func (cc *CaseController) GenerateAdvisory(c *gin.Context) {
	kase, ok := cc.loadCase(c)
	if !ok {
		return
	}

	htmlContent, redirectChain := cc.loadEvidenceContent(kase)

	var ruleRuns []models.RuleRun
	if err := cc.db.Where("case_id = ?", kase.ID).Order("id asc").Find(&ruleRuns).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rule runs"})
		return
	}
	severities := make(map[string]models.Severity)
	var rules []models.PolicyRule
	if err := cc.db.Find(&rules).Error; err == nil {
		for _, rule := range rules {
			severities[rule.ID] = rule.Severity
		}
	}

	var retrievalRun *models.RetrievalRun
	var results *services.RetrievalResults
	var latest models.RetrievalRun
	err := cc.db.Where("case_id = ?", kase.ID).Order("created_at desc").First(&latest).Error
	if err == nil {
		retrievalRun = &latest
		results = decodeRetrievalResults(latest.Results)
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load retrieval run"})
		return
	}

	input := services.BuildAdvisoryInput(kase, kase.Evidence, htmlContent, redirectChain, ruleRuns, severities, retrievalRun, results)
	run, err := cc.advisoryService.Generate(c.Request.Context(), kase.ID, input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Advisory generation failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"llmRun": run})
}

type DecisionRequest struct {
	Outcome models.DecisionOutcome `json:"outcome" binding:"required,oneof=APPROVED REJECTED NEEDS_CHANGES"`
	Notes   string                 `json:"notes" binding:"max=5000"`
}

// SubmitDecision records the reviewer's outcome and closes the queue
// item. A decided case cannot be decided again.
func (cc *CaseController) SubmitDecision(c *gin.Context) {
	kase, ok := cc.loadCase(c)
	if !ok {
		return
	}
	if kase.Status == models.CaseStatusDecided {
		c.JSON(http.StatusConflict, gin.H{"error": "Case is already decided"})
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	reviewerID, _ := userID.(uint)

	decision := models.Decision{
		CaseID:     kase.ID,
		ReviewerID: reviewerID,
		Outcome:    req.Outcome,
		Notes:      req.Notes,
	}
	if err := cc.db.Create(&decision).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record decision"})
		return
	}
	if err := cc.db.Model(&models.Case{}).Where("id = ?", kase.ID).Updates(map[string]interface{}{
		"status": models.CaseStatusDecided,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update case status"})
		return
	}
	cc.db.Model(&models.QueueItem{}).Where("case_id = ?", kase.ID).Updates(map[string]interface{}{
		"status": models.QueueStatusDecided,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "decision": decision})
}

func (cc *CaseController) loadCase(c *gin.Context) (*models.Case, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid case id"})
		return nil, false
	}

	var kase models.Case
	err = cc.db.
		Preload("Evidence").
		Preload("Evidence.CaptureRuns").
		Preload("Evidence.Artifacts").
		Preload("RuleRuns").
		Preload("RetrievalRuns").
		Preload("LLMRuns").
		Preload("QueueItem").
		First(&kase, uint(id)).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load case"})
		return nil, false
	}
	return &kase, true
}

// loadEvidenceContent reads the HTML snapshot and redirect chain of the
// evidence's current capture run from artifact storage. Missing or
// unreadable artifacts yield empty values rather than errors: the case
// may simply not have been captured yet.
func (cc *CaseController) loadEvidenceContent(kase *models.Case) (string, []services.RedirectHop) {
	if kase.Evidence == nil || kase.Evidence.CurrentCaptureRunID == nil {
		return "", nil
	}
	htmlContent := ""
	var redirectChain []services.RedirectHop
	for _, artifact := range kase.Evidence.Artifacts {
		if artifact.CaptureRunID != *kase.Evidence.CurrentCaptureRunID {
			continue
		}
		switch artifact.Type {
		case models.ArtifactHTMLSnapshot:
			if data, err := cc.storage.Read(artifact.Path); err == nil {
				htmlContent = string(data)
			}
		case models.ArtifactRedirectChain:
			if data, err := cc.storage.Read(artifact.Path); err == nil {
				var chain []services.RedirectHop
				if jsonErr := json.Unmarshal(data, &chain); jsonErr == nil {
					redirectChain = chain
				}
			}
		}
	}
	return htmlContent, redirectChain
}

func decodeRetrievalResults(stored models.JSONB) *services.RetrievalResults {
	if stored == nil {
		return nil
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil
	}
	var results services.RetrievalResults
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil
	}
	return &results
}
