package models

import "time"

// RepackConfig contains configuration for a repack run
type RepackConfig struct {
	// Input/Output
	BomIn    string
	BomOut   string
	DlDir    string
	OutDir   string
	MergeDir string

	// Archive options
	Format       string
	Compress     string
	ApplyPatches bool
	Copy         bool
	Mtime        *time.Time // nil keeps input timestamps
	Checksums    []Algorithm

	// Filtering
	Sources  bool
	Binaries bool
	Partial  bool

	// Output document
	Validate       bool
	SignKey        string
	SignPassphrase string

	// Number of parallel repack workers
	Jobs int
}
