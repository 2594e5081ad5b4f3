package models

import (
	"time"

	"gorm.io/gorm"
)

type DocType string

const (
	DocTypePolicy    DocType = "POLICY"
	DocTypePrecedent DocType = "PRECEDENT"
)

// KnowledgeDocument is one ingested policy document or precedent entry.
type KnowledgeDocument struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Type      DocType        `json:"type" gorm:"not null;index"`
	Title     string         `json:"title" gorm:"not null"`
	Source    string         `json:"source" gorm:"not null"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Chunks []KnowledgeChunk `json:"chunks,omitempty" gorm:"foreignKey:DocumentID"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk is a content-addressed slice of a document. The primary key is
// the stable chunk id derived from (source, index, content hash): re-ingesting
// unchanged content reproduces the same id.
type KnowledgeChunk struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	DocumentID  uint      `json:"documentId" gorm:"not null;index"`
	ChunkIndex  int       `json:"chunkIndex" gorm:"not null"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	ContentHash string    `json:"contentHash" gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"`

	Document  *KnowledgeDocument  `json:"document,omitempty" gorm:"foreignKey:DocumentID"`
	Embedding *KnowledgeEmbedding `json:"embedding,omitempty" gorm:"foreignKey:ChunkID"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// KnowledgeEmbedding stores one fixed-dimension vector per chunk as a JSON array
// of floats, searched in-process by cosine similarity.
type KnowledgeEmbedding struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ChunkID   string    `json:"chunkId" gorm:"not null;uniqueIndex"`
	Dims      int       `json:"dims" gorm:"not null"`
	Model     string    `json:"model" gorm:"not null"`
	Vector    JSONB     `json:"vector" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"createdAt"`
}

func (KnowledgeEmbedding) TableName() string {
	return "knowledge_embeddings"
}
