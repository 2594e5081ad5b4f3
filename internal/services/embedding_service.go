package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

const (
	embeddingDims        = 384
	embeddingMaxInputLen = 512
	localEmbedModelName  = "local-hash-384"
)

// EmbeddingService produces embedding vectors for knowledge chunks and
// retrieval queries. The default provider is a deterministic local
// hashed-feature embedder so the pipeline works with no external model
// server; when EMBEDDING_PROVIDER=ollama it calls an Ollama endpoint
// instead.
type EmbeddingService struct {
	provider   string
	baseURL    string
	embedModel string
	client     *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewEmbeddingService builds the service from environment configuration.
func NewEmbeddingService() *EmbeddingService {
	provider := os.Getenv("EMBEDDING_PROVIDER")
	if provider == "" {
		provider = "local"
	}
	baseURL := os.Getenv("OLLAMA_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	embedModel := os.Getenv("OLLAMA_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &EmbeddingService{
		provider:   provider,
		baseURL:    baseURL,
		embedModel: embedModel,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the identifier of the embedding model in use, recorded
// alongside stored vectors so mismatched spaces are never compared.
func (es *EmbeddingService) Model() string {
	if es.provider == "ollama" {
		return es.embedModel
	}
	return localEmbedModelName
}

// Dims returns the dimensionality of vectors from the local embedder.
func (es *EmbeddingService) Dims() int {
	return embeddingDims
}

// Embed generates an embedding vector for text. Input is truncated
// before embedding so very long chunks do not dominate cost.
func (es *EmbeddingService) Embed(text string) ([]float64, error) {
	if len(text) > embeddingMaxInputLen {
		text = text[:embeddingMaxInputLen]
	}
	if es.provider == "ollama" {
		return es.embedOllama(text)
	}
	return localEmbedding(text), nil
}

func (es *EmbeddingService) embedOllama(text string) ([]float64, error) {
	url := es.baseURL + "/api/embeddings"
	request := ollamaEmbeddingRequest{
		Model:  es.embedModel,
		Prompt: text,
	}
	body, _ := json.Marshal(request)
	resp, err := es.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("embedding API returned status %d", resp.StatusCode)
	}
	var embeddingResp ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, err
	}
	if len(embeddingResp.Embedding) != embeddingDims {
		return nil, fmt.Errorf("embedding API returned %d dims, expected %d", len(embeddingResp.Embedding), embeddingDims)
	}
	return embeddingResp.Embedding, nil
}

// localEmbedding maps lowercased word tokens into a fixed-size vector
// by hashing each token to a dimension, then L2-normalizes. The same
// text always yields the same vector.
func localEmbedding(text string) []float64 {
	vec := make([]float64, embeddingDims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		dim := int(sum % embeddingDims)
		// Half the hash space contributes positively, half negatively,
		// so distinct token sets land in distinct directions.
		if (sum>>16)&1 == 0 {
			vec[dim] += 1
		} else {
			vec[dim] -= 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, returning 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
