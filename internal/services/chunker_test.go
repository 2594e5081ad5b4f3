package services

import (
	"strings"
	"testing"
)

func TestChunkPolicyDocumentStableIDs(t *testing.T) {
	text := "# Policy\n\n## Section A\n\nShort section body.\n\n## Section B\n\nAnother short body."
	first := ChunkPolicyDocument("BeaconGate Policy: Test", text)
	second := ChunkPolicyDocument("BeaconGate Policy: Test", text)

	if len(first) == 0 {
		t.Fatal("Expected at least one chunk")
	}
	if len(first) != len(second) {
		t.Fatalf("Expected stable chunk count, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Chunk %d: expected stable id, got %s vs %s", i, first[i].ID, second[i].ID)
		}
		if first[i].Index != i {
			t.Errorf("Chunk %d: expected index %d, got %d", i, i, first[i].Index)
		}
		if !strings.HasPrefix(first[i].ID, "kc_") || len(first[i].ID) != 19 {
			t.Errorf("Chunk %d: unexpected id format %q", i, first[i].ID)
		}
	}
}

func TestChunkPolicyDocumentSourceChangesID(t *testing.T) {
	text := "## Section\n\nSame content either way."
	a := ChunkPolicyDocument("BeaconGate Policy: A", text)
	b := ChunkPolicyDocument("BeaconGate Policy: B", text)
	if a[0].ID == b[0].ID {
		t.Error("Expected different sources to yield different chunk ids")
	}
	if a[0].ContentHash != b[0].ContentHash {
		t.Error("Expected identical content to share a content hash")
	}
}

func TestChunkPolicyDocumentSplitsLongSections(t *testing.T) {
	para := strings.Repeat("Advertising copy must be truthful. ", 12)
	text := "## Long Section\n\n" + para + "\n\n" + para + "\n\n" + para
	chunks := ChunkPolicyDocument("BeaconGate Policy: Long", text)
	if len(chunks) < 2 {
		t.Fatalf("Expected a long section to split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) > chunkTargetSize+chunkOverlap+2 {
			t.Errorf("Chunk %d unexpectedly large: %d chars", i, len(c.Content))
		}
	}

	// Overlap: the second chunk opens with text carried over from the first.
	carried := chunks[1].Content[:50]
	if !strings.Contains(chunks[0].Content, carried) {
		t.Error("Expected second chunk to open with overlap text from the first")
	}
}

func TestChunkPolicyDocumentSkipsEmpty(t *testing.T) {
	chunks := ChunkPolicyDocument("BeaconGate Policy: Empty", "\n\n   \n\n")
	if len(chunks) != 0 {
		t.Errorf("Expected no chunks for blank input, got %d", len(chunks))
	}
}

func TestBuildPrecedentChunk(t *testing.T) {
	chunk := BuildPrecedentChunk(
		"Precedent: Sample",
		"Sample",
		"An ad did a thing.",
		[]string{"RULE_PROHIBITED_PHRASE", "RULE_MISSING_DISCLAIMER"},
		"REJECTED",
		"Because it did the thing.",
	)

	if chunk.Index != 0 {
		t.Errorf("Expected index 0, got %d", chunk.Index)
	}
	for _, want := range []string{
		"Title: Sample",
		"Scenario: An ad did a thing.",
		"Triggered rules: RULE_PROHIBITED_PHRASE, RULE_MISSING_DISCLAIMER",
		"Outcome: REJECTED",
		"Rationale: Because it did the thing.",
	} {
		if !strings.Contains(chunk.Content, want) {
			t.Errorf("Expected precedent chunk to contain %q", want)
		}
	}

	again := BuildPrecedentChunk("Precedent: Sample", "Sample", "An ad did a thing.",
		[]string{"RULE_PROHIBITED_PHRASE", "RULE_MISSING_DISCLAIMER"}, "REJECTED", "Because it did the thing.")
	if chunk.ID != again.ID {
		t.Error("Expected precedent chunk id to be stable")
	}
}
