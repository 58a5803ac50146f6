package bom

import (
	"fmt"

	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/packer"
	"github.com/ralt/debrepack/internal/purl"
	"github.com/sirupsen/logrus"
)

// Transformer records repacked archives in a document
type Transformer interface {
	// Transform annotates the node of every package and returns the
	// document with the number of packages annotated
	Transform(pkgs []models.Package) (Document, int)
}

// standardTransformer annotates documents for the standard-bom layout. The
// locators it records are relative to the output directory.
type standardTransformer struct {
	doc Document
}

// NewTransformer returns the transformer for archives of the given format
// recorded in doc
func NewTransformer(format packer.Format, doc Document) (Transformer, error) {
	if format == packer.FormatStandardBOM {
		switch doc.Type() {
		case TypeCycloneDX, TypeSPDX:
			return &standardTransformer{doc: doc}, nil
		}
	}
	return nil, models.NewError(models.ErrInvalidConfig, "",
		fmt.Errorf("no transformer for %s documents with format %q", doc.Type(), format))
}

// Transform annotates pkgs in order. Packages without a node are skipped.
func (t *standardTransformer) Transform(pkgs []models.Package) (Document, int) {
	annotated := 0
	for _, pkg := range pkgs {
		if !t.doc.Annotate(pkg) {
			logrus.Debugf("No node for %s in document, not annotated", purl.FromPackage(pkg))
			continue
		}
		annotated++
	}
	logrus.Infof("Annotated %d of %d packages", annotated, len(pkgs))
	return t.doc, annotated
}
