package services

import (
	"strings"
	"testing"

	"github.com/beacongate/backend/internal/models"
)

func TestBuildQueryText(t *testing.T) {
	got := BuildQueryText("Act now!", models.CategoryHealth, "https://example.com/", "", "")
	want := "Ad: Act now!\nCategory: HEALTH\nLanding URL: https://example.com/"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	got = BuildQueryText("Act now!", models.CategoryHealth, "https://example.com/", "page text", "final.example.net")
	if !strings.Contains(got, "Page excerpt: page text") {
		t.Error("Expected page excerpt line when snippet present")
	}
	if !strings.HasSuffix(got, "Final domain: final.example.net") {
		t.Error("Expected final domain line last")
	}
}

func TestBuildQueryTextStripsAndBoundsHTML(t *testing.T) {
	page := "<html><head><script>var x = 1;</script></head><body>" +
		"<h1>Miracle Cure</h1><p>" + strings.Repeat("guaranteed results ", 60) + "</p></body></html>"

	got := BuildQueryText("Act now!", models.CategoryHealth, "https://example.com/", page, "")
	if strings.ContainsAny(got, "<>") {
		t.Error("Expected markup to be stripped from the query text")
	}

	var excerpt string
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, "Page excerpt: ") {
			excerpt = strings.TrimPrefix(line, "Page excerpt: ")
		}
	}
	if excerpt == "" {
		t.Fatal("Expected a page excerpt line")
	}
	if len(excerpt) > retrievalSnippetLen {
		t.Errorf("Expected excerpt bounded to %d chars, got %d", retrievalSnippetLen, len(excerpt))
	}
	if !strings.Contains(excerpt, "Miracle Cure") {
		t.Errorf("Expected page text to survive stripping, got %q", excerpt)
	}
}

func rankableChunk(id string, docID uint, content string, vec []float64, model string) models.KnowledgeChunk {
	return models.KnowledgeChunk{
		ID:         id,
		DocumentID: docID,
		Content:    content,
		Document:   &models.KnowledgeDocument{ID: docID, Title: "Doc " + id, Type: models.DocTypePolicy},
		Embedding: &models.KnowledgeEmbedding{
			ChunkID: id,
			Dims:    len(vec),
			Model:   model,
			Vector:  EncodeVector(vec),
		},
	}
}

func TestRankChunksOrdersByDescendingScore(t *testing.T) {
	query := []float64{1, 0, 0}
	chunks := []models.KnowledgeChunk{
		rankableChunk("kc_far", 1, "far", []float64{0, 1, 0}, localEmbedModelName),
		rankableChunk("kc_close", 1, "close", []float64{1, 0, 0}, localEmbedModelName),
		rankableChunk("kc_mid", 2, "mid", []float64{1, 1, 0}, localEmbedModelName),
	}

	items := rankChunks(query, chunks, models.DocTypePolicy, 10, localEmbedModelName)
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	wantOrder := []string{"kc_close", "kc_mid", "kc_far"}
	for i, want := range wantOrder {
		if items[i].ChunkID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, items[i].ChunkID)
		}
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			t.Errorf("Expected non-increasing scores, got %f after %f", items[i].Score, items[i-1].Score)
		}
	}
}

func TestRankChunksTieBreaksByChunkID(t *testing.T) {
	query := []float64{1, 0, 0}
	vec := []float64{1, 0, 0}
	chunks := []models.KnowledgeChunk{
		rankableChunk("kc_bbb", 1, "b", vec, localEmbedModelName),
		rankableChunk("kc_aaa", 1, "a", vec, localEmbedModelName),
	}

	items := rankChunks(query, chunks, models.DocTypePolicy, 10, localEmbedModelName)
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ChunkID != "kc_aaa" || items[1].ChunkID != "kc_bbb" {
		t.Errorf("Expected chunk id tie-break, got [%s %s]", items[0].ChunkID, items[1].ChunkID)
	}
}

func TestRankChunksBoundsToTopK(t *testing.T) {
	query := []float64{1, 0, 0}
	var chunks []models.KnowledgeChunk
	for i := 0; i < 5; i++ {
		id := "kc_" + string(rune('a'+i))
		chunks = append(chunks, rankableChunk(id, 1, id, []float64{1, float64(i), 0}, localEmbedModelName))
	}

	items := rankChunks(query, chunks, models.DocTypePolicy, 2, localEmbedModelName)
	if len(items) != 2 {
		t.Fatalf("Expected topK bound of 2, got %d items", len(items))
	}
}

func TestRankChunksSkipsUnusableEmbeddings(t *testing.T) {
	query := []float64{1, 0, 0}
	noEmbedding := rankableChunk("kc_none", 1, "none", []float64{1, 0, 0}, localEmbedModelName)
	noEmbedding.Embedding = nil
	chunks := []models.KnowledgeChunk{
		noEmbedding,
		rankableChunk("kc_othermodel", 1, "other", []float64{1, 0, 0}, "some-other-model"),
		rankableChunk("kc_wrongdims", 1, "dims", []float64{1, 0}, localEmbedModelName),
		rankableChunk("kc_good", 1, "good", []float64{1, 0, 0}, localEmbedModelName),
	}

	items := rankChunks(query, chunks, models.DocTypePolicy, 10, localEmbedModelName)
	if len(items) != 1 {
		t.Fatalf("Expected only the usable chunk, got %d items", len(items))
	}
	if items[0].ChunkID != "kc_good" {
		t.Errorf("Expected kc_good, got %s", items[0].ChunkID)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("short  text\nhere", 200); got != "short text here" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}

	long := strings.Repeat("word ", 100)
	got := Snippet(long, 200)
	if !strings.HasSuffix(got, "…") {
		t.Error("Expected truncated snippet to end with ellipsis")
	}
	if len([]rune(got)) != 201 {
		t.Errorf("Expected 200 chars plus ellipsis, got %d runes", len([]rune(got)))
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float64{0.25, -0.5, 0.75}
	stored := EncodeVector(vec)

	decoded, ok := decodeVector(stored)
	if !ok {
		t.Fatal("Expected encoded vector to decode")
	}
	if len(decoded) != len(vec) {
		t.Fatalf("Expected %d values, got %d", len(vec), len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("Value %d: expected %f, got %f", i, vec[i], decoded[i])
		}
	}
}

func TestDecodeVectorRejectsMalformed(t *testing.T) {
	if _, ok := decodeVector(models.JSONB{}); ok {
		t.Error("Expected missing values key to fail")
	}
	if _, ok := decodeVector(models.JSONB{"values": "not-a-list"}); ok {
		t.Error("Expected non-list values to fail")
	}
	if _, ok := decodeVector(models.JSONB{"values": []interface{}{1.0, "two"}}); ok {
		t.Error("Expected non-numeric entry to fail")
	}
}

func TestDecodeVectorJSONRoundTrip(t *testing.T) {
	// Vectors read back from the database arrive as generic JSON, so the
	// stored shape must survive a marshal/unmarshal cycle.
	stored := EncodeVector([]float64{1, 2, 3})
	round, err := toJSONB(map[string]interface{}(stored))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	decoded, ok := decodeVector(round)
	if !ok {
		t.Fatal("Expected round-tripped vector to decode")
	}
	if len(decoded) != 3 || decoded[2] != 3 {
		t.Errorf("Unexpected decoded vector: %v", decoded)
	}
}
