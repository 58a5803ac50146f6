package scanner

import "context"

// ArtifactType represents the kind of a downloaded artifact
type ArtifactType int

const (
	TypeUnknown ArtifactType = iota
	TypeDeb
	TypeDsc
	TypeTarball
	TypeDiff
	TypeSignature
)

// String returns the string representation of ArtifactType
func (at ArtifactType) String() string {
	switch at {
	case TypeDeb:
		return "deb"
	case TypeDsc:
		return "dsc"
	case TypeTarball:
		return "tarball"
	case TypeDiff:
		return "diff"
	case TypeSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// Artifact represents a file found in the download root
type Artifact struct {
	Path string
	Type ArtifactType
	Size int64
}

// Scanner interface for locating downloaded artifacts
type Scanner interface {
	// Scan recursively scans a directory and indexes its artifacts
	Scan(ctx context.Context, dir string) (*Index, error)

	// DetectType determines the artifact type of a file
	DetectType(path string) (ArtifactType, error)
}
