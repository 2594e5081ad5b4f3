package services

import (
	"os"
	"path/filepath"
	"testing"
)

func testStorage(t *testing.T) *ArtifactStorage {
	t.Helper()
	return &ArtifactStorage{root: t.TempDir()}
}

func TestArtifactStorageRoundTrip(t *testing.T) {
	storage := testStorage(t)

	dir, err := storage.RunDir(3, 7)
	if err != nil {
		t.Fatalf("RunDir failed: %v", err)
	}
	if filepath.Base(filepath.Dir(dir)) != "3" || filepath.Base(dir) != "7" {
		t.Errorf("Unexpected run dir layout: %s", dir)
	}

	abs := filepath.Join(dir, "page.html")
	if err := os.WriteFile(abs, []byte("<html></html>"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rel, err := storage.RelPath(abs)
	if err != nil {
		t.Fatalf("RelPath failed: %v", err)
	}
	if rel != "3/7/page.html" {
		t.Errorf("Expected relative path 3/7/page.html, got %s", rel)
	}

	data, err := storage.Read(rel)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestArtifactStorageRejectsEscapes(t *testing.T) {
	storage := testStorage(t)

	for _, relPath := range []string{
		"",
		"../outside.txt",
		"3/../../outside.txt",
		"/etc/passwd",
	} {
		if _, err := storage.Read(relPath); err == nil {
			t.Errorf("Expected %q to be rejected", relPath)
		}
	}
}

func TestArtifactStorageMissingFile(t *testing.T) {
	storage := testStorage(t)
	if _, err := storage.Read("1/2/missing.png"); err == nil {
		t.Error("Expected missing artifact to error")
	}
}
