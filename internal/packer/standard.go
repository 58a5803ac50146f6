package packer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/ralt/debrepack/internal/debian"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/purl"
	"github.com/ralt/debrepack/internal/scanner"
	"github.com/ralt/debrepack/internal/utils"
	"github.com/sirupsen/logrus"
)

// StandardPacker lays archives out as <name>/<version>/<file> below the
// output directory, linking or copying them from the merge directory (for
// sources) or the download root (for binaries).
type StandardPacker struct {
	config  Config
	scanner scanner.Scanner

	indexOnce sync.Once
	index     *scanner.Index
	indexErr  error
}

// NewStandardPacker creates a standard-bom packer
func NewStandardPacker(cfg Config) *StandardPacker {
	if len(cfg.Checksums) == 0 {
		cfg.Checksums = []models.Algorithm{models.SHA256}
	}
	return &StandardPacker{
		config:  cfg,
		scanner: scanner.NewFileSystemScanner(cfg.MergeDir, cfg.OutDir),
	}
}

// Format returns the layout produced by the packer
func (p *StandardPacker) Format() Format {
	return FormatStandardBOM
}

// artifacts indexes the download root on first use
func (p *StandardPacker) artifacts(ctx context.Context) (*scanner.Index, error) {
	p.indexOnce.Do(func() {
		p.index, p.indexErr = p.scanner.Scan(ctx, p.config.DlDir)
	})
	return p.index, p.indexErr
}

// Repack merges and places the archive of pkg
func (p *StandardPacker) Repack(ctx context.Context, pkg models.Package, opts RepackOptions) (*models.Package, error) {
	id := purl.FromPackage(pkg)

	index, err := p.artifacts(ctx)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, id, err)
	}

	out := pkg.Clone()
	var archivePath string
	if pkg.IsSource() {
		src, err := p.locateSource(index, pkg)
		if err != nil {
			return nil, models.NewError(models.ErrInputIntegrity, id, err)
		}
		if src == nil {
			logrus.Warnf("No source artifacts for %s in %s, skipping", id, p.config.DlDir)
			return nil, nil
		}

		archivePath = filepath.Join(p.config.MergeDir, mergedName(pkg.Identity, p.config.ApplyPatches, p.config.Compression))
		merger := &SourceMerger{Compression: p.config.Compression, Mtime: opts.Mtime}
		if err := merger.Merge(ctx, src, p.config.ApplyPatches, archivePath); err != nil {
			return nil, models.NewError(models.ErrMerge, id, err)
		}

		if out.Maintainer == "" {
			out.Maintainer = src.Dsc.Maintainer
		}
		if out.Homepage == "" {
			out.Homepage = src.Dsc.Homepage
		}
	} else {
		deb, ok := index.Lookup(DebName(pkg.Identity))
		if !ok {
			logrus.Warnf("No binary package for %s in %s, skipping", id, p.config.DlDir)
			return nil, nil
		}
		archivePath = deb.Path
	}

	locator := Layout(pkg.Identity, p.config.Compression)
	dst := filepath.Join(p.config.OutDir, filepath.FromSlash(locator))
	if err := utils.PlaceFile(archivePath, dst, opts.Symlink, opts.Mtime.Time()); err != nil {
		return nil, models.NewError(models.ErrFileOp, id, fmt.Errorf("failed to place %s: %w", locator, err))
	}

	sums, size, err := utils.CalculateChecksums(dst, p.config.Checksums)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, id, fmt.Errorf("failed to checksum %s: %w", locator, err))
	}

	out.Locator = locator
	out.Checksums = sums
	logrus.Debugf("Repacked %s -> %s (%s)", id, locator, units.HumanSize(float64(size)))
	return &out, nil
}

// locateSource finds the .dsc of pkg and every file it lists. It returns
// nil when the .dsc was not downloaded.
func (p *StandardPacker) locateSource(index *scanner.Index, pkg models.Package) (*SourceSet, error) {
	art, ok := index.Lookup(DscName(pkg.Identity))
	if !ok {
		return nil, nil
	}

	dsc, err := debian.ParseDscFile(art.Path)
	if err != nil {
		return nil, err
	}
	if dsc.Source != pkg.Name || debian.StripEpoch(dsc.Version) != debian.StripEpoch(pkg.Version) {
		return nil, fmt.Errorf("%s describes %s %s", filepath.Base(art.Path), dsc.Source, dsc.Version)
	}

	src := &SourceSet{Dsc: dsc, DscPath: art.Path, Files: make(map[string]string, len(dsc.Files))}
	var missing []string
	for _, f := range dsc.Files {
		found, ok := index.Lookup(f.Name)
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		if err := verifyDscFile(found.Path, f); err != nil {
			return nil, err
		}
		src.Files[f.Name] = found.Path
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s lists missing files: %s", filepath.Base(art.Path), strings.Join(missing, ", "))
	}
	return src, nil
}

// verifyDscFile checks a downloaded file against the size and SHA-256
// recorded in the .dsc
func verifyDscFile(path string, f debian.DscFile) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != f.Size {
		return fmt.Errorf("%s: size %d does not match .dsc (%d)", f.Name, info.Size(), f.Size)
	}
	if f.SHA256 == "" {
		return nil
	}
	sums, _, err := utils.CalculateChecksums(path, []models.Algorithm{models.SHA256})
	if err != nil {
		return err
	}
	if sums[models.SHA256] != f.SHA256 {
		return fmt.Errorf("%s: SHA-256 does not match .dsc", f.Name)
	}
	return nil
}
