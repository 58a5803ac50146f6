// Package bom reads, filters, annotates and writes CycloneDX and SPDX
// documents describing Debian packages.
package bom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/purl"
	"github.com/ralt/debrepack/internal/utils"
	"github.com/sirupsen/logrus"
)

// Type identifies the SBOM standard of a document
type Type int

const (
	TypeCycloneDX Type = iota + 1
	TypeSPDX
)

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypeCycloneDX:
		return "CycloneDX"
	case TypeSPDX:
		return "SPDX"
	default:
		return "unknown"
	}
}

const (
	sourceComment = "source archive (local copy)"
	binaryComment = "binary package (local copy)"
)

// referenceComment returns the comment of the distribution reference of pkg
func referenceComment(pkg models.Package) string {
	if pkg.IsSource() {
		return sourceComment
	}
	return binaryComment
}

// Document is an SBOM whose Debian packages can be filtered and annotated
type Document interface {
	// Type returns the standard of the document
	Type() Type

	// Packages returns the Debian packages described by the document, in
	// document order and without duplicates
	Packages() []models.Package

	// Filter removes the nodes excluded by sel together with every edge
	// pointing at them, and returns the number of nodes removed
	Filter(sel Selection) int

	// Lookup reports whether a node with the given identity exists
	Lookup(id models.Identity) bool

	// Annotate records the archive of pkg on its node and backfills
	// missing metadata. It returns false when no node matches.
	Annotate(pkg models.Package) bool

	// Validate checks the structural consistency of the document
	Validate() error

	// Encode writes the document in the serialisation it was read from
	Encode(w io.Writer) error
}

// class is the architecture class of a document node
type class int

const (
	classUnclassified class = iota
	classSource
	classBinary
)

// classOf returns the architecture class of a node with the given purl
func classOf(p string) class {
	id, ok := purl.IdentityOf(p)
	switch {
	case !ok:
		return classUnclassified
	case id.IsSource():
		return classSource
	default:
		return classBinary
	}
}

// Selection restricts a document to source or binary packages
type Selection struct {
	Sources  bool
	Binaries bool
}

// Active reports whether the selection excludes anything
func (s Selection) Active() bool {
	return s.Sources != s.Binaries
}

// keep reports whether nodes of class c survive the selection.
// Unclassified nodes (document roots, non-Debian components, purls without
// an arch qualifier) always do, SPDX packages without a purl included, so a
// filter only ever removes Debian packages of the other class.
func (s Selection) keep(c class) bool {
	if !s.Active() {
		return true
	}
	switch c {
	case classSource:
		return s.Sources
	case classBinary:
		return s.Binaries
	default:
		return true
	}
}

// Matches reports whether pkg survives the selection
func (s Selection) Matches(pkg models.Package) bool {
	if pkg.IsSource() {
		return s.keep(classSource)
	}
	return s.keep(classBinary)
}

// Read parses a CycloneDX (JSON or XML) or SPDX (JSON or tag-value)
// document, detecting the standard from its content
func Read(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, models.NewError(models.ErrBOMRead, "", err)
	}

	var doc Document
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		var sniff struct {
			BOMFormat   string `json:"bomFormat"`
			SPDXVersion string `json:"spdxVersion"`
		}
		if err := json.Unmarshal(trimmed, &sniff); err != nil {
			return nil, models.NewError(models.ErrBOMRead, "", fmt.Errorf("invalid JSON: %w", err))
		}
		switch {
		case sniff.BOMFormat != "":
			doc, err = readCycloneDX(trimmed, cdxJSON)
		case sniff.SPDXVersion != "":
			doc, err = readSPDX(trimmed, false)
		default:
			err = fmt.Errorf("JSON document is neither CycloneDX nor SPDX")
		}
	case bytes.HasPrefix(trimmed, []byte("<")) && bytes.Contains(trimmed, []byte("<bom")):
		doc, err = readCycloneDX(trimmed, cdxXML)
	case bytes.Contains(trimmed, []byte("SPDXVersion:")):
		doc, err = readSPDX(trimmed, true)
	default:
		err = fmt.Errorf("unrecognized SBOM format")
	}
	if err != nil {
		return nil, models.NewError(models.ErrBOMRead, "", err)
	}

	logrus.Debugf("Read %s document with %d Debian packages", doc.Type(), len(doc.Packages()))
	return doc, nil
}

// ReadFile reads a document from path, "-" meaning standard input
func ReadFile(path string) (Document, error) {
	if path == "-" {
		return Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewError(models.ErrBOMRead, "", err)
	}
	defer f.Close()
	return Read(f)
}

// WriteStream validates the document when requested and encodes it to w
func WriteStream(doc Document, w io.Writer, validate bool) error {
	if validate {
		if err := doc.Validate(); err != nil {
			return models.NewError(models.ErrValidation, "", err)
		}
	}
	if err := doc.Encode(w); err != nil {
		return models.NewError(models.ErrBOMWrite, "", err)
	}
	return nil
}

// WriteFile validates the document when requested and writes it atomically
// to path, "-" meaning standard output
func WriteFile(doc Document, path string, validate bool) error {
	if path == "-" {
		return WriteStream(doc, os.Stdout, validate)
	}
	if validate {
		if err := doc.Validate(); err != nil {
			return models.NewError(models.ErrValidation, "", err)
		}
	}
	err := utils.WriteFileAtomic(path, 0644, doc.Encode)
	if err != nil {
		return models.NewError(models.ErrBOMWrite, "", err)
	}
	logrus.Infof("Wrote %s document to %s", doc.Type(), path)
	return nil
}

// documentPackages resolves the Debian packages of nodes in order,
// dropping nodes that repeat an identity
func documentPackages(purls []string, fill func(i int, pkg *models.Package)) []models.Package {
	seen := make(map[models.Identity]bool)
	var pkgs []models.Package
	for i, p := range purls {
		if !purl.IsDebian(p) {
			continue
		}
		pkg, err := purl.Parse(p)
		if err != nil {
			logrus.Debugf("Ignoring node with unusable purl: %v", err)
			continue
		}
		if seen[pkg.Identity] {
			continue
		}
		seen[pkg.Identity] = true
		fill(i, &pkg)
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// splitMaintainer splits a "Name <email>" maintainer field
func splitMaintainer(m string) (name, email string) {
	m = strings.TrimSpace(m)
	if addr, err := mail.ParseAddress(m); err == nil {
		return addr.Name, addr.Address
	}
	return m, ""
}
