package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
	"gorm.io/gorm"
)

const (
	defaultTopK         = 6
	retrievalSnippetLen = 500
)

// RetrievalResultItem is one ranked chunk returned by retrieval. Score
// is cosine similarity, higher is more similar.
type RetrievalResultItem struct {
	ChunkID       string         `json:"chunkId"`
	DocumentID    uint           `json:"documentId"`
	DocumentTitle string         `json:"documentTitle"`
	DocType       models.DocType `json:"docType"`
	Score         float64        `json:"score"`
	Snippet       string         `json:"snippet"`
	Content       string         `json:"content,omitempty"`
}

// RetrievalResults groups retrieved chunks by document type.
type RetrievalResults struct {
	Policy    []RetrievalResultItem `json:"policy"`
	Precedent []RetrievalResultItem `json:"precedent"`
}

// RetrievalService embeds a case query and ranks knowledge chunks by
// cosine similarity against their stored vectors.
type RetrievalService struct {
	db       *gorm.DB
	embedder *EmbeddingService
}

func NewRetrievalService(db *gorm.DB, embedder *EmbeddingService) *RetrievalService {
	return &RetrievalService{db: db, embedder: embedder}
}

// BuildQueryText assembles the embedding query from case fields and
// captured evidence. Raw page HTML is tag-stripped and bounded so
// markup never reaches the embedder.
func BuildQueryText(adText string, category models.Category, landingURL, htmlContent, finalDomain string) string {
	parts := []string{
		"Ad: " + adText,
		"Category: " + string(category),
		"Landing URL: " + landingURL,
	}
	if excerpt := HTMLSnippet(htmlContent, retrievalSnippetLen); excerpt != "" {
		parts = append(parts, "Page excerpt: "+excerpt)
	}
	if finalDomain != "" {
		parts = append(parts, "Final domain: "+finalDomain)
	}
	return strings.Join(parts, "\n")
}

// Retrieve runs a retrieval pass for a case and persists a RetrievalRun
// recording the query, model and ranked results.
func (rs *RetrievalService) Retrieve(caseID uint, queryText string, retrievalType models.RetrievalType, topK int) (*RetrievalResults, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVec, err := rs.embedder.Embed(queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := &RetrievalResults{
		Policy:    []RetrievalResultItem{},
		Precedent: []RetrievalResultItem{},
	}
	if retrievalType == models.RetrievalPolicyOnly || retrievalType == models.RetrievalBoth {
		items, err := rs.rank(queryVec, models.DocTypePolicy, topK)
		if err != nil {
			return nil, err
		}
		results.Policy = items
	}
	if retrievalType == models.RetrievalPrecedentOnly || retrievalType == models.RetrievalBoth {
		items, err := rs.rank(queryVec, models.DocTypePrecedent, topK)
		if err != nil {
			return nil, err
		}
		results.Precedent = items
	}

	resultsMap, err := toJSONB(results)
	if err != nil {
		return nil, fmt.Errorf("encode retrieval results: %w", err)
	}
	run := models.RetrievalRun{
		CaseID:        caseID,
		RetrievalType: retrievalType,
		QueryText:     queryText,
		EmbedModel:    rs.embedder.Model(),
		TopK:          topK,
		Results:       resultsMap,
	}
	if err := rs.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("persist retrieval run: %w", err)
	}

	logger.WithCase(caseID).WithFields(map[string]interface{}{
		"retrieval_type": retrievalType,
		"policy_hits":    len(results.Policy),
		"precedent_hits": len(results.Precedent),
	}).Info("Retrieval completed")
	return results, nil
}

// rank loads every stored embedding of the given document type and
// scores it against the query vector in memory. The knowledge base is
// small enough that a full scan beats maintaining an index.
func (rs *RetrievalService) rank(queryVec []float64, docType models.DocType, topK int) ([]RetrievalResultItem, error) {
	var chunks []models.KnowledgeChunk
	err := rs.db.
		Joins("JOIN knowledge_documents ON knowledge_documents.id = knowledge_chunks.document_id").
		Where("knowledge_documents.type = ?", docType).
		Preload("Document").
		Preload("Embedding").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("load %s chunks: %w", docType, err)
	}
	return rankChunks(queryVec, chunks, docType, topK, rs.embedder.Model()), nil
}

// rankChunks scores chunks against the query vector, skipping chunks
// whose embedding is missing, from a different model, or of a
// different dimensionality. Results are sorted by descending score
// with chunk id as the tie-break, bounded to topK.
func rankChunks(queryVec []float64, chunks []models.KnowledgeChunk, docType models.DocType, topK int, model string) []RetrievalResultItem {
	items := make([]RetrievalResultItem, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Embedding == nil || chunk.Embedding.Model != model {
			continue
		}
		vec, ok := decodeVector(chunk.Embedding.Vector)
		if !ok || len(vec) != len(queryVec) {
			continue
		}
		title := ""
		if chunk.Document != nil {
			title = chunk.Document.Title
		}
		items = append(items, RetrievalResultItem{
			ChunkID:       chunk.ID,
			DocumentID:    chunk.DocumentID,
			DocumentTitle: title,
			DocType:       docType,
			Score:         CosineSimilarity(queryVec, vec),
			Snippet:       Snippet(chunk.Content, 200),
			Content:       chunk.Content,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ChunkID < items[j].ChunkID
	})
	if len(items) > topK {
		items = items[:topK]
	}
	return items
}

// Snippet collapses whitespace and truncates content for display.
func Snippet(content string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	if len(collapsed) <= maxLen {
		return collapsed
	}
	return collapsed[:maxLen] + "…"
}

func decodeVector(stored models.JSONB) ([]float64, bool) {
	raw, ok := stored["values"]
	if !ok {
		return nil, false
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	vec := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, false
		}
		vec = append(vec, f)
	}
	return vec, true
}

// EncodeVector stores a vector in the JSONB shape decodeVector reads.
func EncodeVector(vec []float64) models.JSONB {
	values := make([]interface{}, len(vec))
	for i, v := range vec {
		values[i] = v
	}
	return models.JSONB{"values": values}
}

func toJSONB(v interface{}) (models.JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
