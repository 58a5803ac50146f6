package bom

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"

	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/purl"
	"github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"
	"github.com/spdx/tools-golang/tagvalue"
)

const (
	spdxCategoryPackageManager = "PACKAGE-MANAGER"
	spdxRefTypePurl            = "purl"
	spdxRefTypeDistribution    = "distribution"
	spdxNoAssertion            = "NOASSERTION"
	spdxNone                   = "NONE"
)

var spdxAlgorithms = map[models.Algorithm]common.ChecksumAlgorithm{
	models.MD5:    common.MD5,
	models.SHA1:   common.SHA1,
	models.SHA256: common.SHA256,
	models.SHA512: common.SHA512,
}

// SPDX is an SPDX document
type SPDX struct {
	doc      *spdx.Document
	tagValue bool
}

// NewSPDX wraps a decoded SPDX document
func NewSPDX(doc *spdx.Document, tagValue bool) *SPDX {
	return &SPDX{doc: doc, tagValue: tagValue}
}

func readSPDX(data []byte, tagValue bool) (*SPDX, error) {
	var (
		doc *spdx.Document
		err error
	)
	if tagValue {
		doc, err = tagvalue.Read(bytes.NewReader(data))
	} else {
		doc, err = json.Read(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode SPDX document: %w", err)
	}
	return NewSPDX(doc, tagValue), nil
}

// Document returns the underlying document
func (d *SPDX) Document() *spdx.Document {
	return d.doc
}

// Type returns TypeSPDX
func (d *SPDX) Type() Type {
	return TypeSPDX
}

// packagePurl returns the locator of the purl external reference
func packagePurl(p *spdx.Package) string {
	for _, ref := range p.PackageExternalReferences {
		if ref != nil && ref.RefType == spdxRefTypePurl {
			return ref.Locator
		}
	}
	return ""
}

// Packages returns the Debian packages described by the document
func (d *SPDX) Packages() []models.Package {
	purls := make([]string, len(d.doc.Packages))
	for i, p := range d.doc.Packages {
		if p != nil {
			purls[i] = packagePurl(p)
		}
	}
	return documentPackages(purls, func(i int, pkg *models.Package) {
		p := d.doc.Packages[i]
		if p.PackageSupplier != nil && p.PackageSupplier.Supplier != spdxNoAssertion {
			pkg.Maintainer = p.PackageSupplier.Supplier
		}
		pkg.Homepage = p.PackageHomePage
		pkg.Description = p.PackageDescription
		if pkg.Description == "" {
			pkg.Description = p.PackageSummary
		}
	})
}

// Filter removes packages excluded by sel together with their files, the
// relationships touching them and the annotations attached to them
func (d *SPDX) Filter(sel Selection) int {
	if !sel.Active() {
		return 0
	}

	removed := make(map[common.ElementID]bool)
	kept := d.doc.Packages[:0]
	count := 0
	for _, p := range d.doc.Packages {
		if p != nil && !sel.keep(classOf(packagePurl(p))) {
			removed[p.PackageSPDXIdentifier] = true
			for _, f := range p.Files {
				if f != nil {
					removed[f.FileSPDXIdentifier] = true
				}
			}
			count++
			continue
		}
		kept = append(kept, p)
	}
	d.doc.Packages = kept
	if count == 0 {
		return 0
	}

	isRemoved := func(id common.DocElementID) bool {
		return id.DocumentRefID == "" && id.SpecialID == "" && removed[id.ElementRefID]
	}

	rels := d.doc.Relationships[:0]
	for _, r := range d.doc.Relationships {
		if r == nil || isRemoved(r.RefA) || isRemoved(r.RefB) {
			continue
		}
		rels = append(rels, r)
	}
	d.doc.Relationships = rels

	annotations := d.doc.Annotations[:0]
	for _, a := range d.doc.Annotations {
		if a == nil || isRemoved(a.AnnotationSPDXIdentifier) {
			continue
		}
		annotations = append(annotations, a)
	}
	d.doc.Annotations = annotations

	return count
}

// find returns the packages with the given identity
func (d *SPDX) find(id models.Identity) []*spdx.Package {
	var found []*spdx.Package
	for _, p := range d.doc.Packages {
		if p == nil {
			continue
		}
		if got, ok := purl.IdentityOf(packagePurl(p)); ok && got == id {
			found = append(found, p)
		}
	}
	return found
}

// Lookup reports whether a package with the given identity exists
func (d *SPDX) Lookup(id models.Identity) bool {
	return len(d.find(id)) > 0
}

// Annotate adds a distribution reference to the archive of pkg, replaces
// the package checksums and, for source packages, backfills supplier,
// homepage and summary
func (d *SPDX) Annotate(pkg models.Package) bool {
	pkgs := d.find(pkg.Identity)
	if len(pkgs) == 0 {
		return false
	}

	repr := spdxRepr(pkg)
	for _, p := range pkgs {
		if pkg.IsSource() {
			backfillPackage(p, repr)
		}

		ref := &spdx.PackageExternalReference{
			Category:           spdxCategoryPackageManager,
			RefType:            spdxRefTypeDistribution,
			Locator:            pkg.Locator,
			ExternalRefComment: referenceComment(pkg),
		}
		if !hasPackageReference(p, ref) {
			p.PackageExternalReferences = append(p.PackageExternalReferences, ref)
		}
		p.PackageChecksums = spdxChecksums(pkg.Checksums)
	}
	return true
}

// spdxRepr is the package synthesized from pkg, used to backfill fields
// the document lacks
func spdxRepr(pkg models.Package) *spdx.Package {
	p := &spdx.Package{
		PackageName:     pkg.Name,
		PackageVersion:  pkg.Version,
		PackageHomePage: pkg.Homepage,
		PackageSummary:  pkg.Summary(),
	}
	if pkg.Maintainer != "" {
		name, email := splitMaintainer(pkg.Maintainer)
		supplier := name
		if email != "" {
			supplier = fmt.Sprintf("%s (%s)", name, email)
		}
		p.PackageSupplier = &common.Supplier{Supplier: supplier, SupplierType: "Person"}
	}
	return p
}

// backfillPackage copies fields of repr that p lacks. Present values are
// never replaced.
func backfillPackage(p, repr *spdx.Package) {
	if p.PackageSupplier == nil || p.PackageSupplier.Supplier == spdxNoAssertion || p.PackageSupplier.Supplier == "" {
		if repr.PackageSupplier != nil {
			p.PackageSupplier = repr.PackageSupplier
		}
	}
	if p.PackageHomePage == "" {
		p.PackageHomePage = repr.PackageHomePage
	}
	if p.PackageSummary == "" {
		p.PackageSummary = repr.PackageSummary
	}
}

func hasPackageReference(p *spdx.Package, ref *spdx.PackageExternalReference) bool {
	for _, r := range p.PackageExternalReferences {
		if r != nil && r.Category == ref.Category && r.RefType == ref.RefType && r.Locator == ref.Locator {
			return true
		}
	}
	return false
}

// spdxChecksums converts checksums to SPDX checksums in a stable order
func spdxChecksums(sums models.Checksums) []common.Checksum {
	out := make([]common.Checksum, 0, len(sums))
	for _, alg := range sums.Sorted() {
		out = append(out, common.Checksum{Algorithm: spdxAlgorithms[alg], Value: sums[alg]})
	}
	return out
}

// Validate checks the document header, identifier uniqueness and that
// every relationship endpoint resolves
func (d *SPDX) Validate() error {
	doc := d.doc
	switch {
	case doc.SPDXVersion == "":
		return fmt.Errorf("missing SPDX version")
	case doc.DataLicense == "":
		return fmt.Errorf("missing data license")
	case doc.SPDXIdentifier == "":
		return fmt.Errorf("missing document SPDX identifier")
	case doc.DocumentNamespace == "":
		return fmt.Errorf("missing document namespace")
	case doc.DocumentName == "":
		return fmt.Errorf("missing document name")
	}

	ids := map[common.ElementID]bool{doc.SPDXIdentifier: true}
	add := func(id common.ElementID, kind string) error {
		if id == "" {
			return fmt.Errorf("%s without SPDX identifier", kind)
		}
		if ids[id] {
			return fmt.Errorf("duplicate SPDX identifier %q", id)
		}
		ids[id] = true
		return nil
	}

	for _, p := range doc.Packages {
		if p == nil {
			continue
		}
		if err := add(p.PackageSPDXIdentifier, "package"); err != nil {
			return err
		}
		for _, f := range p.Files {
			if f != nil {
				if err := add(f.FileSPDXIdentifier, "file"); err != nil {
					return err
				}
			}
		}
	}
	for _, f := range doc.Files {
		if f != nil {
			if err := add(f.FileSPDXIdentifier, "file"); err != nil {
				return err
			}
		}
	}
	for _, s := range doc.Snippets {
		if err := add(s.SnippetSPDXIdentifier, "snippet"); err != nil {
			return err
		}
	}

	resolves := func(id common.DocElementID) bool {
		switch {
		case id.SpecialID == spdxNone, id.SpecialID == spdxNoAssertion:
			return true
		case id.DocumentRefID != "":
			return true
		default:
			return ids[id.ElementRefID]
		}
	}
	for _, r := range doc.Relationships {
		if r == nil {
			continue
		}
		if !resolves(r.RefA) || !resolves(r.RefB) {
			return fmt.Errorf("relationship %s %s %s references an unknown element",
				r.RefA, r.Relationship, r.RefB)
		}
	}
	for _, a := range doc.Annotations {
		if a != nil && !resolves(a.AnnotationSPDXIdentifier) {
			return fmt.Errorf("annotation references unknown element %s", a.AnnotationSPDXIdentifier)
		}
	}
	return nil
}

// Encode writes the document in its original serialisation
func (d *SPDX) Encode(w io.Writer) error {
	if d.tagValue {
		return tagvalue.Write(d.doc, w)
	}

	var raw bytes.Buffer
	if err := json.Write(d.doc, &raw); err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := stdjson.Indent(&pretty, bytes.TrimSpace(raw.Bytes()), "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err := w.Write(pretty.Bytes())
	return err
}
