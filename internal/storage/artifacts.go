package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalArtifactStore implements export.Artifacts by writing the dataset
// and manifest to a directory tree on disk, keyed by project and
// package name, and returning a logical_uri the storage resolver can
// later turn into a download URL. A production deployment would swap
// this for an object-store-backed implementation behind the same
// interface; no object-storage SDK is part of this example pack's
// teacher stack, so this keeps the concern local rather than adopting
// one unexercised elsewhere in the system.
type LocalArtifactStore struct {
	baseDir string
}

// NewLocalArtifactStore returns a LocalArtifactStore rooted at baseDir,
// creating it if necessary.
func NewLocalArtifactStore(baseDir string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create artifact base dir: %w", err)
	}

	return &LocalArtifactStore{baseDir: baseDir}, nil
}

// Publish writes dataset and manifest under <baseDir>/<projectID>/<packageName>/
// and returns a file:// logical URI naming the dataset file.
func (a *LocalArtifactStore) Publish(
	_ context.Context,
	projectID, packageName string,
	dataset, manifest []byte,
) (string, error) {
	dir := filepath.Join(a.baseDir, projectID, packageName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create export package dir: %w", err)
	}

	datasetPath := filepath.Join(dir, "dataset")
	manifestPath := filepath.Join(dir, "manifest.json")

	if err := os.WriteFile(datasetPath, dataset, 0o644); err != nil {
		return "", fmt.Errorf("storage: write export dataset: %w", err)
	}

	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return "", fmt.Errorf("storage: write export manifest: %w", err)
	}

	return "file://" + datasetPath, nil
}
