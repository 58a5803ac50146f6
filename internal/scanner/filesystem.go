package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Index maps artifact file names to their location below the download root
type Index struct {
	Root      string
	artifacts map[string]Artifact
}

// NewIndex creates an empty index for root
func NewIndex(root string) *Index {
	return &Index{Root: root, artifacts: make(map[string]Artifact)}
}

// Add registers an artifact under its base name
func (idx *Index) Add(a Artifact) {
	idx.artifacts[filepath.Base(a.Path)] = a
}

// Lookup returns the artifact with the given file name
func (idx *Index) Lookup(name string) (Artifact, bool) {
	a, ok := idx.artifacts[name]
	return a, ok
}

// Len returns the number of indexed artifacts
func (idx *Index) Len() int {
	return len(idx.artifacts)
}

// FileSystemScanner implements Scanner interface for filesystem scanning
type FileSystemScanner struct {
	exclude map[string]bool
}

// NewFileSystemScanner creates a new filesystem scanner. Directories in
// exclude (e.g. a merge cache nested in the download root) are not descended.
func NewFileSystemScanner(exclude ...string) *FileSystemScanner {
	s := &FileSystemScanner{exclude: make(map[string]bool)}
	for _, dir := range exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			s.exclude[abs] = true
		}
	}
	return s
}

// Scan recursively scans a directory and indexes every known artifact by
// file name. Debian artifact names are unique per archive, so when the same
// name appears twice the lexically first path wins.
func (s *FileSystemScanner) Scan(ctx context.Context, dir string) (*Index, error) {
	idx := NewIndex(dir)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Skip directories
		if d.IsDir() {
			if abs, err := filepath.Abs(path); err == nil && s.exclude[abs] {
				return filepath.SkipDir
			}
			return nil
		}

		artifactType, err := s.DetectType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}

		// Skip unknown types
		if artifactType == TypeUnknown {
			return nil
		}

		if prev, dup := idx.Lookup(d.Name()); dup {
			logrus.Warnf("Ignoring duplicate artifact %s (already indexed at %s)", path, prev.Path)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		logrus.Debugf("Found %s artifact: %s", artifactType, path)
		idx.Add(Artifact{Path: path, Type: artifactType, Size: info.Size()})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	logrus.Infof("Indexed %d artifacts in %s", idx.Len(), dir)
	return idx, nil
}

// DetectType determines the artifact type of a file
func (s *FileSystemScanner) DetectType(path string) (ArtifactType, error) {
	return DetectArtifactType(path)
}
