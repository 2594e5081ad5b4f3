package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStorage reads and writes capture artifacts under a single
// root directory. All paths stored in the database are relative to the
// root, and reads reject any path that would escape it.
type ArtifactStorage struct {
	root string
}

// NewArtifactStorage resolves the storage root from the environment.
func NewArtifactStorage() (*ArtifactStorage, error) {
	root := os.Getenv("ARTIFACT_STORAGE_DIR")
	if root == "" {
		root = "storage/artifacts"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create artifact storage root: %w", err)
	}
	return &ArtifactStorage{root: abs}, nil
}

// RunDir creates and returns the directory for one capture run.
func (s *ArtifactStorage) RunDir(evidenceID, captureRunID uint) (string, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("%d", evidenceID), fmt.Sprintf("%d", captureRunID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create capture run dir: %w", err)
	}
	return dir, nil
}

// RelPath converts an absolute artifact path into the relative form
// stored on Artifact rows.
func (s *ArtifactStorage) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relativize artifact path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Read returns the contents of a stored artifact. Paths containing
// traversal segments or resolving outside the root are rejected.
func (s *ArtifactStorage) Read(relPath string) ([]byte, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (s *ArtifactStorage) resolve(relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("invalid artifact path %q", relPath)
	}
	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	cleaned := filepath.Clean(abs)
	if cleaned != s.root && !strings.HasPrefix(cleaned, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes storage root", relPath)
	}
	return cleaned, nil
}
