package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
)

const (
	promptVersion  = "v1.0"
	mockModel      = "mock-v1"
	openAIModel    = "gpt-4.1-mini"
	anthropicModel = "claude-sonnet-4-20250514"

	advisoryTemperature = 0.2
)

const advisorySystemInstruction = `You are an advisory assistant for ads enforcement review. Your output is NON-BINDING and must never be used as the sole basis for a decision. The reviewer remains responsible for the final outcome.

Rules:
- Cite only evidence provided: ad text, html snippet, redirect chain. Do not invent quotes or pointers.
- For policy concerns, cite ONLY the retrieval matches provided. Use exactly the chunkId and documentTitle from the input. Do not invent policy citations or chunk IDs.
- Output must be valid JSON matching the required schema exactly.
- Do not make a final decision (approve/reject). Only summarize claims, evasion signals, policy concerns, and suggest reviewer questions and next actions.`

// AdvisoryService generates non-binding advisories for cases. Provider
// selection: Anthropic when ANTHROPIC_API_KEY is set, OpenAI when
// OPENAI_API_KEY is set, otherwise the deterministic mock. Setting
// LLM_PROVIDER_FORCE=mock always uses the mock.
type AdvisoryService struct {
	db     *gorm.DB
	client *http.Client
}

func NewAdvisoryService(db *gorm.DB) *AdvisoryService {
	return &AdvisoryService{
		db:     db,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type generationOutcome struct {
	provider     string
	model        string
	temperature  float64
	advisory     *Advisory
	rawText      string
	errorMessage *string
}

// Generate produces an advisory for the given input and persists an
// LLMRun recording provider, model, input hash and outcome. A provider
// transport failure falls back to the mock so the reviewer still gets
// an advisory; the transport error is kept on the run. A schema
// validation failure persists the raw text with a null advisory.
func (as *AdvisoryService) Generate(ctx context.Context, caseID uint, input AdvisoryInput) (*models.LLMRun, error) {
	inputHash, err := input.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash advisory input: %w", err)
	}

	start := time.Now()
	outcome := as.generate(ctx, input)
	latencyMs := time.Since(start).Milliseconds()

	run := models.LLMRun{
		CaseID:        caseID,
		Provider:      outcome.provider,
		Model:         outcome.model,
		Temperature:   outcome.temperature,
		PromptVersion: promptVersion,
		InputHash:     inputHash,
		AdvisoryText:  outcome.rawText,
		ErrorMessage:  outcome.errorMessage,
		LatencyMs:     &latencyMs,
	}

	if outcome.advisory != nil {
		advisory, removedChunkIDs, err := as.scrubCitations(outcome.advisory)
		if err != nil {
			return nil, err
		}

		// The scrub can only remove citations, but re-check the schema
		// so nothing invalid is ever stored as a validated advisory.
		if err := ValidateAdvisory(advisory); err != nil {
			msg := fmt.Sprintf("Schema validation failed after citation check: %v", err)
			run.ErrorMessage = joinErrors(run.ErrorMessage, msg)
		} else {
			advisoryMap, err := toJSONB(advisory)
			if err != nil {
				return nil, fmt.Errorf("encode advisory: %w", err)
			}
			run.AdvisoryJSON = advisoryMap
			run.AdvisoryText = advisory.Summary
			run.CitationsJSON = buildCitations(input, advisory)
			if len(removedChunkIDs) > 0 {
				msg := "Some policy citations were invalid (chunkId not found) and were removed: " + strings.Join(removedChunkIDs, ", ")
				run.ErrorMessage = joinErrors(run.ErrorMessage, msg)
				run.RemovedChunkIDs = pq.StringArray(removedChunkIDs)
			}
		}
	}

	if err := as.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("persist llm run: %w", err)
	}

	logger.WithLLM(&caseID, run.Provider).WithFields(map[string]interface{}{
		"model":      run.Model,
		"latency_ms": latencyMs,
		"validated":  run.AdvisoryJSON != nil,
	}).Info("Advisory generated")
	return &run, nil
}

func (as *AdvisoryService) generate(ctx context.Context, input AdvisoryInput) generationOutcome {
	if os.Getenv("LLM_PROVIDER_FORCE") == "mock" {
		return runMockAdvisory(input, nil)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		outcome, err := as.callAnthropic(ctx, key, input)
		if err != nil {
			msg := err.Error()
			return runMockAdvisory(input, &msg)
		}
		return outcome
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		outcome, err := as.callOpenAI(ctx, key, input)
		if err != nil {
			msg := err.Error()
			return runMockAdvisory(input, &msg)
		}
		return outcome
	}
	return runMockAdvisory(input, nil)
}

func runMockAdvisory(input AdvisoryInput, transportError *string) generationOutcome {
	advisory := GenerateMockAdvisory(input)
	return generationOutcome{
		provider:     "mock",
		model:        mockModel,
		temperature:  0,
		advisory:     advisory,
		rawText:      advisory.Summary,
		errorMessage: transportError,
	}
}

func (as *AdvisoryService) callAnthropic(ctx context.Context, apiKey string, input AdvisoryInput) (generationOutcome, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return generationOutcome{}, fmt.Errorf("encode advisory input: %w", err)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(anthropicModel),
		MaxTokens:   4096,
		Temperature: anthropic.Float(advisoryTemperature),
		System: []anthropic.TextBlockParam{
			{Text: advisorySystemInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserMessage(string(inputJSON)))),
		},
	})
	if err != nil {
		return generationOutcome{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var rawContent string
	for _, block := range message.Content {
		if block.Type == "text" {
			rawContent = block.Text
			break
		}
	}
	if rawContent == "" {
		return generationOutcome{}, fmt.Errorf("anthropic response has no text content")
	}
	return parseProviderOutput("anthropic", anthropicModel, rawContent), nil
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat map[string]any  `json:"response_format"`
	Messages       []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (as *AdvisoryService) callOpenAI(ctx context.Context, apiKey string, input AdvisoryInput) (generationOutcome, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return generationOutcome{}, fmt.Errorf("encode advisory input: %w", err)
	}

	reqBody := openAIChatRequest{
		Model:          openAIModel,
		Temperature:    advisoryTemperature,
		ResponseFormat: map[string]any{"type": "json_object"},
		Messages: []openAIMessage{
			{Role: "system", Content: advisorySystemInstruction},
			{Role: "user", Content: buildUserMessage(string(inputJSON))},
		},
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return generationOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := as.client.Do(req)
	if err != nil {
		return generationOutcome{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return generationOutcome{}, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(errBody))
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return generationOutcome{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return generationOutcome{}, fmt.Errorf("openai response missing content")
	}
	return parseProviderOutput("openai", openAIModel, parsed.Choices[0].Message.Content), nil
}

// parseProviderOutput validates model output against the advisory
// schema. Invalid output is not an error at this level: the raw text is
// kept for audit and the run records the validation failure.
func parseProviderOutput(provider, model, rawContent string) generationOutcome {
	outcome := generationOutcome{
		provider:    provider,
		model:       model,
		temperature: advisoryTemperature,
		rawText:     truncate(rawContent, 2000),
	}
	advisory, err := ParseAdvisory(rawContent)
	if err != nil {
		msg := fmt.Sprintf("Schema validation failed: %v", err)
		outcome.errorMessage = &msg
		return outcome
	}
	outcome.advisory = advisory
	outcome.rawText = advisory.Summary
	return outcome
}

func buildUserMessage(inputJSON string) string {
	return `Using the following case input (JSON), produce an advisory output in the exact schema required. Return only the JSON object, no markdown or explanation.

Input:
` + inputJSON + `

Required output schema: summary (string), claims (array with text, type, risk, evidence), evasionSignals (array with signal, severity, evidence), policyConcerns (array with concern, severity, policyCitations where each citation has chunkId, documentTitle, snippet from the input only), recommendedReviewerQuestions (array of strings), recommendedNextActions (array with action, priority P0|P1|P2), nonBindingNotice (exactly "` + NonBindingNotice + `").`
}

// scrubCitations removes policy citations whose chunk ids do not exist
// in the knowledge store and reports which ids were removed.
func (as *AdvisoryService) scrubCitations(advisory *Advisory) (*Advisory, []string, error) {
	citedIDs := advisory.ChunkIDs()
	if len(citedIDs) == 0 {
		return advisory, nil, nil
	}

	var validChunks []models.KnowledgeChunk
	if err := as.db.Select("id").Where("id IN ?", citedIDs).Find(&validChunks).Error; err != nil {
		return nil, nil, fmt.Errorf("verify cited chunks: %w", err)
	}
	validIDs := make(map[string]bool, len(validChunks))
	for _, chunk := range validChunks {
		validIDs[chunk.ID] = true
	}

	cleaned, removed := removeDanglingCitations(advisory, validIDs)
	return cleaned, removed, nil
}

// removeDanglingCitations drops citations whose chunk id is not in
// validIDs, returning the cleaned advisory and the removed ids in
// first-cited order. The advisory is returned unchanged when every
// citation resolves.
func removeDanglingCitations(advisory *Advisory, validIDs map[string]bool) (*Advisory, []string) {
	var removed []string
	for _, id := range advisory.ChunkIDs() {
		if !validIDs[id] {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return advisory, nil
	}

	cleaned := *advisory
	cleaned.PolicyConcerns = make([]AdvisoryPolicyConcern, len(advisory.PolicyConcerns))
	for i, concern := range advisory.PolicyConcerns {
		kept := make([]AdvisoryPolicyCitation, 0, len(concern.PolicyCitations))
		for _, citation := range concern.PolicyCitations {
			if validIDs[citation.ChunkID] {
				kept = append(kept, citation)
			}
		}
		concern.PolicyCitations = kept
		cleaned.PolicyConcerns[i] = concern
	}
	return &cleaned, removed
}

func buildCitations(input AdvisoryInput, advisory *Advisory) models.JSONB {
	artifactIDs := []interface{}{}
	if input.Evidence.ScreenshotArtifactID != nil {
		artifactIDs = append(artifactIDs, float64(*input.Evidence.ScreenshotArtifactID))
	}
	ruleRunIDs := make([]interface{}, 0, len(input.RuleRuns))
	for _, run := range input.RuleRuns {
		ruleRunIDs = append(ruleRunIDs, float64(run.ID))
	}
	chunkIDs := advisory.ChunkIDs()
	chunkIDValues := make([]interface{}, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		chunkIDValues = append(chunkIDValues, id)
	}
	return models.JSONB{
		"evidenceArtifactIds": artifactIDs,
		"ruleRunIds":          ruleRunIDs,
		"chunkIds":            chunkIDValues,
	}
}

func joinErrors(existing *string, msg string) *string {
	if existing == nil || *existing == "" {
		return &msg
	}
	joined := *existing + " " + msg
	return &joined
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
