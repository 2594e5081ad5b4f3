package services

import (
	"fmt"
	"strings"
)

const (
	chunkTargetSize = 650
	chunkOverlap    = 100
)

// PolicyChunk is a single retrievable slice of a knowledge document.
type PolicyChunk struct {
	ID          string
	Index       int
	Content     string
	ContentHash string
}

// ChunkPolicyDocument splits markdown policy text into retrieval-sized
// chunks. The text is first split on "## " section headings, then each
// section is packed into chunks of roughly chunkTargetSize characters
// with a trailing overlap carried into the next chunk. Chunk IDs are
// stable across re-ingestion as long as source and content are stable.
func ChunkPolicyDocument(source, text string) []PolicyChunk {
	sections := splitSections(text)

	var pieces []string
	for _, section := range sections {
		if len(section) <= chunkTargetSize {
			pieces = append(pieces, section)
			continue
		}
		pieces = append(pieces, packParagraphs(section)...)
	}

	chunks := make([]PolicyChunk, 0, len(pieces))
	for _, content := range pieces {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		idx := len(chunks)
		contentHash := SHA256Hex([]byte(content))
		chunks = append(chunks, PolicyChunk{
			ID:          ChunkID(source, idx, contentHash),
			Index:       idx,
			Content:     content,
			ContentHash: contentHash,
		})
	}
	return chunks
}

// BuildPrecedentChunk renders a decided precedent case as one chunk of
// labeled lines so the whole precedent is always retrieved together.
func BuildPrecedentChunk(source, title, scenario string, triggeredRules []string, outcome, rationale string) PolicyChunk {
	parts := []string{
		"Title: " + title,
		"Scenario: " + scenario,
		"Triggered rules: " + strings.Join(triggeredRules, ", "),
		"Outcome: " + outcome,
		"Rationale: " + rationale,
	}
	content := strings.Join(parts, "\n\n")
	contentHash := SHA256Hex([]byte(content))
	return PolicyChunk{
		ID:          ChunkID(source, 0, contentHash),
		Index:       0,
		Content:     content,
		ContentHash: contentHash,
	}
}

// ChunkID derives a stable chunk identifier from the document source,
// the chunk's position and its content hash.
func ChunkID(source string, index int, contentHash string) string {
	seed := fmt.Sprintf("%s#%d#%s", source, index, contentHash)
	return "kc_" + SHA256Hex([]byte(seed))[:16]
}

func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

// packParagraphs greedily packs paragraphs into chunks near the target
// size, carrying the tail of each chunk into the next as overlap.
func packParagraphs(section string) []string {
	paragraphs := strings.Split(section, "\n\n")
	var out []string
	var buf strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(p)+2 > chunkTargetSize {
			chunk := buf.String()
			out = append(out, chunk)
			buf.Reset()
			if tail := overlapTail(chunk); tail != "" {
				buf.WriteString(tail)
			}
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	if strings.TrimSpace(buf.String()) != "" {
		out = append(out, buf.String())
	}
	return out
}

func overlapTail(chunk string) string {
	if len(chunk) <= chunkOverlap {
		return chunk
	}
	return chunk[len(chunk)-chunkOverlap:]
}
