// Package repack runs a complete repack: it reads an SBOM, repacks the
// packages it describes and writes the SBOM back annotated with the new
// archive locations.
package repack

import (
	"context"
	"fmt"

	"github.com/ralt/debrepack/internal/archive"
	"github.com/ralt/debrepack/internal/bom"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/packer"
	"github.com/ralt/debrepack/internal/pkgset"
	"github.com/ralt/debrepack/internal/signer"
	"github.com/ralt/debrepack/internal/utils"
	"github.com/sirupsen/logrus"
)

// Result summarizes a repack run
type Result struct {
	// Resolved is the number of Debian packages found in the input document
	Resolved int
	// Selected is the number of packages handed to the packer
	Selected int
	// Repacked is the number of archives placed
	Repacked int
	// Skipped is the number of selected packages without downloaded artifacts
	Skipped int
	// Annotated is the number of packages recorded in the output document
	Annotated int
	// Pruned is the number of document nodes removed by filtering
	Pruned int
	// Signature is the path of the detached signature, if any
	Signature string
}

// Run repacks the packages of cfg.BomIn and writes the annotated document
// to cfg.BomOut. A non-nil subset restricts the packages repacked; the
// remaining nodes pass through unchanged.
func Run(ctx context.Context, cfg *models.RepackConfig, subset pkgset.Set) (*Result, error) {
	format, err := packer.ParseFormat(cfg.Format)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "", err)
	}
	comp, err := utils.ParseCompression(cfg.Compress)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "", err)
	}

	var sig signer.Signer
	if cfg.SignKey != "" {
		if cfg.BomOut == "-" {
			return nil, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("cannot sign a document written to stdout"))
		}
		gpg, err := signer.NewGPGSigner(cfg.SignKey, cfg.SignPassphrase)
		if err != nil {
			return nil, models.NewError(models.ErrSigning, "", err)
		}
		sig = gpg
	}

	doc, err := bom.ReadFile(cfg.BomIn)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	sel := bom.Selection{Sources: cfg.Sources, Binaries: cfg.Binaries}
	resolved := doc.Packages()
	result.Resolved = len(resolved)

	selected := make([]models.Package, 0, len(resolved))
	for _, pkg := range resolved {
		if sel.Matches(pkg) {
			selected = append(selected, pkg)
		}
	}
	result.Pruned = doc.Filter(sel)
	if subset != nil {
		selected = subset.Intersect(selected)
		logrus.Infof("Partial repack: %d of %d requested packages are in the document", len(selected), subset.Len())
	}
	result.Selected = len(selected)
	logrus.Infof("Repacking %d of %d packages from %s document", len(selected), len(resolved), doc.Type())

	p, err := packer.New(format, packer.Config{
		DlDir:        cfg.DlDir,
		OutDir:       cfg.OutDir,
		MergeDir:     cfg.MergeDir,
		Compression:  comp,
		ApplyPatches: cfg.ApplyPatches,
		Checksums:    cfg.Checksums,
	})
	if err != nil {
		return nil, err
	}

	opts := packer.RepackOptions{Symlink: !cfg.Copy, Mtime: archive.Preserve()}
	if cfg.Mtime != nil {
		opts.Mtime = archive.Fixed(*cfg.Mtime)
	}

	repacked, err := packer.RepackAll(ctx, p, selected, opts, cfg.Jobs)
	if err != nil {
		return nil, err
	}
	result.Repacked = len(repacked)
	result.Skipped = len(selected) - len(repacked)

	tr, err := bom.NewTransformer(format, doc)
	if err != nil {
		return nil, err
	}
	doc, result.Annotated = tr.Transform(repacked)

	if err := bom.WriteFile(doc, cfg.BomOut, cfg.Validate); err != nil {
		return nil, err
	}

	if sig != nil {
		path, err := signer.SignFile(sig, cfg.BomOut)
		if err != nil {
			return nil, models.NewError(models.ErrSigning, "", err)
		}
		result.Signature = path
	}

	return result, nil
}
