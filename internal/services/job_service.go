package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
	"gorm.io/gorm"
)

// CaptureJob is one unit of capture work. Jobs are keyed by evidence id
// so concurrent submissions for the same evidence collapse into one
// in-flight capture.
type CaptureJob struct {
	CaseID       uint
	EvidenceID   uint
	CaptureRunID uint
	LandingURL   string
}

const (
	jobQueueSize      = 100
	jobRetryAttempts  = 2
	jobRetryBaseDelay = 2 * time.Second
)

// JobService owns the capture worker pool and drives the per-job
// pipeline: capture, artifact persistence, rule evaluation, risk
// scoring, queue projection, case status advancement.
type JobService struct {
	db             *gorm.DB
	captureService *CaptureService
	ruleService    *RuleService
	storage        *ArtifactStorage
	jobQueue       chan CaptureJob
	workerCount    int
	stopChan       chan struct{}
	wg             sync.WaitGroup

	mu       sync.Mutex
	inFlight map[uint]bool // evidence id -> queued or running
}

// NewJobService creates the service and starts its workers.
func NewJobService(db *gorm.DB, captureService *CaptureService, ruleService *RuleService, storage *ArtifactStorage) *JobService {
	js := &JobService{
		db:             db,
		captureService: captureService,
		ruleService:    ruleService,
		storage:        storage,
		jobQueue:       make(chan CaptureJob, jobQueueSize),
		workerCount:    2,
		stopChan:       make(chan struct{}),
		inFlight:       make(map[uint]bool),
	}

	for i := 0; i < js.workerCount; i++ {
		js.wg.Add(1)
		go js.worker(i)
	}

	return js
}

// Stop drains the workers. In-flight jobs finish; queued jobs are
// abandoned and remain QUEUED for the next process start.
func (js *JobService) Stop() {
	close(js.stopChan)
	js.wg.Wait()
}

// EnqueueCapture creates a new CaptureRun for the evidence and queues
// it. A second enqueue for evidence already in flight returns the
// existing state without creating duplicate work.
func (js *JobService) EnqueueCapture(caseID, evidenceID uint, landingURL string) (*models.CaptureRun, error) {
	js.mu.Lock()
	if js.inFlight[evidenceID] {
		js.mu.Unlock()
		var current models.CaptureRun
		err := js.db.Where("evidence_id = ? AND status IN ?", evidenceID,
			[]models.CaptureRunStatus{models.CaptureRunQueued, models.CaptureRunRunning}).
			Order("id desc").First(&current).Error
		if err != nil {
			return nil, fmt.Errorf("evidence %d already in flight but no active run found: %w", evidenceID, err)
		}
		return &current, nil
	}
	js.inFlight[evidenceID] = true
	js.mu.Unlock()

	var attempts int64
	if err := js.db.Model(&models.CaptureRun{}).Where("evidence_id = ?", evidenceID).Count(&attempts).Error; err != nil {
		js.clearInFlight(evidenceID)
		return nil, fmt.Errorf("count capture attempts: %w", err)
	}

	run := models.CaptureRun{
		EvidenceID: evidenceID,
		Status:     models.CaptureRunQueued,
		Attempt:    int(attempts) + 1,
	}
	if err := js.db.Create(&run).Error; err != nil {
		js.clearInFlight(evidenceID)
		return nil, fmt.Errorf("create capture run: %w", err)
	}

	select {
	case js.jobQueue <- CaptureJob{CaseID: caseID, EvidenceID: evidenceID, CaptureRunID: run.ID, LandingURL: landingURL}:
	default:
		js.clearInFlight(evidenceID)
		return nil, fmt.Errorf("capture queue is full")
	}

	logger.WithCapture(evidenceID, run.ID).WithField("attempt", run.Attempt).Info("Capture job enqueued")
	return &run, nil
}

func (js *JobService) clearInFlight(evidenceID uint) {
	js.mu.Lock()
	delete(js.inFlight, evidenceID)
	js.mu.Unlock()
}

func (js *JobService) worker(id int) {
	defer js.wg.Done()

	for {
		select {
		case job := <-js.jobQueue:
			logger.Info("Worker processing capture job", map[string]interface{}{
				"workerID":     id,
				"caseID":       job.CaseID,
				"evidenceID":   job.EvidenceID,
				"captureRunID": job.CaptureRunID,
			})
			js.runWithRetry(job)
			js.clearInFlight(job.EvidenceID)

		case <-js.stopChan:
			logger.Info("Worker stopping", map[string]interface{}{"workerID": id})
			return
		}
	}
}

// runWithRetry retries only infrastructure errors (DB writes, storage
// IO). Capture failures are persisted outcomes, never retried here:
// retry is an explicit reviewer action.
func (js *JobService) runWithRetry(job CaptureJob) {
	var err error
	for attempt := 0; attempt <= jobRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(jobRetryBaseDelay << (attempt - 1))
		}
		err = js.processCaptureJob(job)
		if err == nil {
			return
		}
		logger.WithError(err, "job_service").WithFields(map[string]interface{}{
			"captureRunID": job.CaptureRunID,
			"attempt":      attempt + 1,
		}).Warn("Capture job infrastructure error")
	}
	// All retries exhausted; record the failure on the run.
	msg := err.Error()
	js.db.Model(&models.CaptureRun{}).Where("id = ?", job.CaptureRunID).Updates(map[string]interface{}{
		"status":        models.CaptureRunFailed,
		"error_message": &msg,
		"finished_at":   time.Now(),
	})
}

// processCaptureJob runs the full pipeline for one capture attempt.
// Returned errors are infrastructure failures eligible for broker
// retry; capture failures are persisted and return nil.
func (js *JobService) processCaptureJob(job CaptureJob) error {
	now := time.Now()
	if err := js.db.Model(&models.CaptureRun{}).Where("id = ?", job.CaptureRunID).Updates(map[string]interface{}{
		"status":     models.CaptureRunRunning,
		"started_at": now,
	}).Error; err != nil {
		return fmt.Errorf("mark capture run running: %w", err)
	}
	if err := js.db.Model(&models.Evidence{}).Where("id = ?", job.EvidenceID).Updates(map[string]interface{}{
		"current_capture_run_id": job.CaptureRunID,
	}).Error; err != nil {
		return fmt.Errorf("link current capture run: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, captureErr := js.captureService.Capture(ctx, job.EvidenceID, job.CaptureRunID, job.LandingURL)
	if captureErr != nil {
		// Hard failure: SSRF rejection or browser/network error. The
		// case stays CAPTURING so the reviewer can retry.
		msg := captureErr.Error()
		if err := js.db.Model(&models.CaptureRun{}).Where("id = ?", job.CaptureRunID).Updates(map[string]interface{}{
			"status":        models.CaptureRunFailed,
			"error_message": &msg,
			"finished_at":   time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("mark capture run failed: %w", err)
		}
		logger.WithCapture(job.EvidenceID, job.CaptureRunID).WithField("error", msg).Warn("Capture failed")
		return nil
	}

	var screenshotArtifactID *uint
	for _, captured := range result.Artifacts {
		artifact := models.Artifact{
			EvidenceID:   job.EvidenceID,
			CaptureRunID: job.CaptureRunID,
			Type:         captured.Type,
			Path:         captured.RelPath,
			SHA256:       captured.SHA256,
			ByteSize:     captured.ByteSize,
			MimeType:     &captured.MimeType,
			Meta:         captured.Meta,
		}
		if err := js.db.Create(&artifact).Error; err != nil {
			return fmt.Errorf("persist artifact %s: %w", captured.Basename, err)
		}
		if captured.Type == models.ArtifactScreenshot {
			id := artifact.ID
			screenshotArtifactID = &id
		}
	}

	evidenceUpdates := map[string]interface{}{
		"evidence_hash":    result.BundleHash,
		"last_captured_at": result.CapturedAt,
	}
	if screenshotArtifactID != nil {
		evidenceUpdates["screenshot_artifact_id"] = *screenshotArtifactID
	}
	if err := js.db.Model(&models.Evidence{}).Where("id = ?", job.EvidenceID).Updates(evidenceUpdates).Error; err != nil {
		return fmt.Errorf("update evidence: %w", err)
	}

	// Rule evaluation reads the persisted artifacts back from storage,
	// not the in-memory capture result, so what is scored is exactly
	// what was stored.
	htmlContent, redirectChain, err := js.loadRuleEvidence(job.EvidenceID, job.CaptureRunID)
	if err != nil {
		return err
	}

	var c models.Case
	if err := js.db.First(&c, job.CaseID).Error; err != nil {
		return fmt.Errorf("load case: %w", err)
	}

	runs, severities, err := js.ruleService.EvaluateCase(job.CaseID, RuleInput{
		AdText:        c.AdText,
		Category:      c.Category,
		LandingURL:    c.LandingURL,
		HTMLContent:   htmlContent,
		RedirectChain: redirectChain,
	})
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}

	score := ComputeRiskScore(runs, severities)
	tier := TierForScore(score)
	if err := js.db.Model(&models.QueueItem{}).Where("case_id = ?", job.CaseID).Updates(map[string]interface{}{
		"risk_score": score,
		"tier":       tier,
	}).Error; err != nil {
		return fmt.Errorf("update queue projection: %w", err)
	}

	if result.TimedOut {
		// Partial capture: evidence and rule runs are kept, but the run
		// is failed and the case stays CAPTURING pending a retry.
		msg := result.ErrorMessage + " (artifacts captured)"
		if err := js.db.Model(&models.CaptureRun{}).Where("id = ?", job.CaptureRunID).Updates(map[string]interface{}{
			"status":        models.CaptureRunFailed,
			"error_message": &msg,
			"finished_at":   time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("mark capture run failed: %w", err)
		}
		logger.WithCapture(job.EvidenceID, job.CaptureRunID).Warn("Partial capture, case left for retry")
		return nil
	}

	if err := js.db.Model(&models.CaptureRun{}).Where("id = ?", job.CaptureRunID).Updates(map[string]interface{}{
		"status":      models.CaptureRunSucceeded,
		"finished_at": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("mark capture run succeeded: %w", err)
	}
	if err := js.db.Model(&models.Case{}).Where("id = ?", job.CaseID).Updates(map[string]interface{}{
		"status": models.CaseStatusReadyForReview,
	}).Error; err != nil {
		return fmt.Errorf("advance case status: %w", err)
	}

	logger.WithCase(job.CaseID).WithFields(map[string]interface{}{
		"risk_score": score,
		"tier":       tier,
	}).Info("Capture pipeline completed")
	return nil
}

// loadRuleEvidence reads the HTML snapshot and redirect chain for a run
// back out of artifact storage.
func (js *JobService) loadRuleEvidence(evidenceID, captureRunID uint) (string, []RedirectHop, error) {
	var artifacts []models.Artifact
	if err := js.db.Where("evidence_id = ? AND capture_run_id = ?", evidenceID, captureRunID).Find(&artifacts).Error; err != nil {
		return "", nil, fmt.Errorf("load artifacts: %w", err)
	}

	var htmlContent string
	var redirectChain []RedirectHop
	for _, artifact := range artifacts {
		switch artifact.Type {
		case models.ArtifactHTMLSnapshot:
			data, err := js.storage.Read(artifact.Path)
			if err != nil {
				return "", nil, fmt.Errorf("read html snapshot: %w", err)
			}
			htmlContent = string(data)
		case models.ArtifactRedirectChain:
			data, err := js.storage.Read(artifact.Path)
			if err != nil {
				return "", nil, fmt.Errorf("read redirect chain: %w", err)
			}
			if err := json.Unmarshal(data, &redirectChain); err != nil {
				return "", nil, fmt.Errorf("decode redirect chain: %w", err)
			}
		}
	}
	return htmlContent, redirectChain, nil
}
