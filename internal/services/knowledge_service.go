package services

import (
	"fmt"

	"github.com/beacongate/backend/internal/logger"
	"github.com/beacongate/backend/internal/models"
	"gorm.io/gorm"
)

// KnowledgeService ingests policy documents and precedent entries into
// the retrieval store: document row, content-addressed chunks, one
// embedding per chunk.
type KnowledgeService struct {
	db       *gorm.DB
	embedder *EmbeddingService
}

func NewKnowledgeService(db *gorm.DB, embedder *EmbeddingService) *KnowledgeService {
	return &KnowledgeService{db: db, embedder: embedder}
}

// IngestPolicyDocument chunks markdown policy content and stores it.
// Re-ingesting identical content is a no-op because chunk ids are
// derived from the content itself.
func (ks *KnowledgeService) IngestPolicyDocument(title, source, content string) (*models.KnowledgeDocument, error) {
	chunks := ChunkPolicyDocument(source, content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("policy document %q produced no chunks", title)
	}
	return ks.store(models.DocTypePolicy, title, source, chunks)
}

// IngestPrecedent stores one decided case as a single retrievable chunk.
func (ks *KnowledgeService) IngestPrecedent(title, source, scenario string, triggeredRules []string, outcome, rationale string) (*models.KnowledgeDocument, error) {
	chunk := BuildPrecedentChunk(source, title, scenario, triggeredRules, outcome, rationale)
	return ks.store(models.DocTypePrecedent, title, source, []PolicyChunk{chunk})
}

func (ks *KnowledgeService) store(docType models.DocType, title, source string, chunks []PolicyChunk) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := ks.db.Where("source = ? AND type = ?", source, docType).First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		doc = models.KnowledgeDocument{Type: docType, Title: title, Source: source}
		if err := ks.db.Create(&doc).Error; err != nil {
			return nil, fmt.Errorf("create knowledge document: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup knowledge document: %w", err)
	}

	embedded := 0
	for _, chunk := range chunks {
		var existing models.KnowledgeChunk
		err := ks.db.Where("id = ?", chunk.ID).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("lookup chunk %s: %w", chunk.ID, err)
		}

		row := models.KnowledgeChunk{
			ID:          chunk.ID,
			DocumentID:  doc.ID,
			ChunkIndex:  chunk.Index,
			Content:     chunk.Content,
			ContentHash: chunk.ContentHash,
		}
		if err := ks.db.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("create chunk %s: %w", chunk.ID, err)
		}

		vec, err := ks.embedder.Embed(chunk.Content)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
		}
		embedding := models.KnowledgeEmbedding{
			ChunkID: chunk.ID,
			Dims:    len(vec),
			Model:   ks.embedder.Model(),
			Vector:  EncodeVector(vec),
		}
		if err := ks.db.Create(&embedding).Error; err != nil {
			return nil, fmt.Errorf("create embedding for %s: %w", chunk.ID, err)
		}
		embedded++
	}

	logger.Info("Knowledge document ingested", map[string]interface{}{
		"document_id": doc.ID,
		"type":        docType,
		"chunks":      len(chunks),
		"embedded":    embedded,
	})
	return &doc, nil
}
