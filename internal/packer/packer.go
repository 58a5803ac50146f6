// Package packer merges the downloaded artifacts of a package into a single
// archive placed at a deterministic path below the output directory.
package packer

import (
	"context"
	"fmt"

	"github.com/ralt/debrepack/internal/archive"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/utils"
)

// Format names an output layout
type Format string

const (
	// FormatStandardBOM places archives under <name>/<version>/
	FormatStandardBOM Format = "standard-bom"
)

// Formats lists the supported layouts
var Formats = []Format{FormatStandardBOM}

// ParseFormat validates a layout name
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Packer repacks the artifacts of one package at a time
type Packer interface {
	// Repack merges and places the archive of pkg. It returns an updated
	// copy of pkg carrying the locator and checksums of the placed archive,
	// or nil without error when no artifact for pkg was downloaded.
	Repack(ctx context.Context, pkg models.Package, opts RepackOptions) (*models.Package, error)

	// Format returns the layout produced by the packer
	Format() Format
}

// RepackOptions control placement of a single archive
type RepackOptions struct {
	// Symlink links the placed archive to its merged or downloaded file
	// instead of copying it
	Symlink bool
	// Mtime is applied to archive entries and copied files
	Mtime archive.MtimePolicy
}

// Config holds the settings shared by every repack of a run
type Config struct {
	DlDir        string
	OutDir       string
	MergeDir     string
	Compression  utils.Compression
	ApplyPatches bool
	Checksums    []models.Algorithm
}

// New returns the packer for format
func New(format Format, cfg Config) (Packer, error) {
	switch format {
	case FormatStandardBOM:
		return NewStandardPacker(cfg), nil
	default:
		return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("unknown format %q", format))
	}
}
