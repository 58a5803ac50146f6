package bom

import (
	"bytes"
	"fmt"
	"io"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/ralt/debrepack/internal/models"
	"github.com/ralt/debrepack/internal/purl"
)

const (
	cdxJSON = cdx.BOMFileFormatJSON
	cdxXML  = cdx.BOMFileFormatXML
)

var cdxAlgorithms = map[models.Algorithm]cdx.HashAlgorithm{
	models.MD5:    cdx.HashAlgoMD5,
	models.SHA1:   cdx.HashAlgoSHA1,
	models.SHA256: cdx.HashAlgoSHA256,
	models.SHA512: cdx.HashAlgoSHA512,
}

// CycloneDX is a CycloneDX document
type CycloneDX struct {
	bom    *cdx.BOM
	format cdx.BOMFileFormat
}

// NewCycloneDX wraps a decoded BOM
func NewCycloneDX(bom *cdx.BOM, format cdx.BOMFileFormat) *CycloneDX {
	return &CycloneDX{bom: bom, format: format}
}

func readCycloneDX(data []byte, format cdx.BOMFileFormat) (*CycloneDX, error) {
	bom := new(cdx.BOM)
	if err := cdx.NewBOMDecoder(bytes.NewReader(data), format).Decode(bom); err != nil {
		return nil, fmt.Errorf("failed to decode CycloneDX document: %w", err)
	}
	return NewCycloneDX(bom, format), nil
}

// BOM returns the underlying document
func (d *CycloneDX) BOM() *cdx.BOM {
	return d.bom
}

// Type returns TypeCycloneDX
func (d *CycloneDX) Type() Type {
	return TypeCycloneDX
}

// componentPurl returns the purl of a component, falling back to its
// bom-ref which tools commonly set to the purl
func componentPurl(c *cdx.Component) string {
	if c.PackageURL != "" {
		return c.PackageURL
	}
	return c.BOMRef
}

// components returns every component of the document, the metadata
// component first, nested components after their parent
func (d *CycloneDX) components() []*cdx.Component {
	var all []*cdx.Component
	if d.bom.Metadata != nil && d.bom.Metadata.Component != nil {
		all = append(all, d.bom.Metadata.Component)
	}
	var walk func(comps *[]cdx.Component)
	walk = func(comps *[]cdx.Component) {
		if comps == nil {
			return
		}
		for i := range *comps {
			c := &(*comps)[i]
			all = append(all, c)
			walk(c.Components)
		}
	}
	walk(d.bom.Components)
	return all
}

// Packages returns the Debian packages described by the document
func (d *CycloneDX) Packages() []models.Package {
	comps := d.components()
	purls := make([]string, len(comps))
	for i, c := range comps {
		purls[i] = componentPurl(c)
	}
	return documentPackages(purls, func(i int, pkg *models.Package) {
		c := comps[i]
		if c.Supplier != nil {
			pkg.Maintainer = c.Supplier.Name
		}
		pkg.Description = c.Description
		if ref := findReference(c.ExternalReferences, cdx.ERTypeWebsite); ref != nil {
			pkg.Homepage = ref.URL
		}
	})
}

// Filter removes components excluded by sel and every dependency edge
// pointing at them
func (d *CycloneDX) Filter(sel Selection) int {
	if !sel.Active() {
		return 0
	}

	removed := make(map[string]bool)
	count := pruneComponents(d.bom.Components, sel, removed)
	if count == 0 {
		return 0
	}

	if d.bom.Dependencies != nil {
		deps := (*d.bom.Dependencies)[:0]
		for _, dep := range *d.bom.Dependencies {
			if removed[dep.Ref] {
				continue
			}
			if dep.Dependencies != nil {
				refs := make([]string, 0, len(*dep.Dependencies))
				for _, ref := range *dep.Dependencies {
					if !removed[ref] {
						refs = append(refs, ref)
					}
				}
				dep.Dependencies = &refs
			}
			deps = append(deps, dep)
		}
		*d.bom.Dependencies = deps
	}

	return count
}

// pruneComponents removes in place the components excluded by sel, at any
// depth, recording the bom-refs of removed components and their children
func pruneComponents(comps *[]cdx.Component, sel Selection, removed map[string]bool) int {
	if comps == nil {
		return 0
	}

	count := 0
	kept := (*comps)[:0]
	for _, c := range *comps {
		if !sel.keep(classOf(componentPurl(&c))) {
			count += markRemoved(&c, removed)
			continue
		}
		count += pruneComponents(c.Components, sel, removed)
		kept = append(kept, c)
	}
	*comps = kept
	return count
}

// markRemoved records c and its nested components as removed
func markRemoved(c *cdx.Component, removed map[string]bool) int {
	if c.BOMRef != "" {
		removed[c.BOMRef] = true
	}
	count := 1
	if c.Components != nil {
		for i := range *c.Components {
			count += markRemoved(&(*c.Components)[i], removed)
		}
	}
	return count
}

// find returns the components with the given identity
func (d *CycloneDX) find(id models.Identity) []*cdx.Component {
	var found []*cdx.Component
	for _, c := range d.components() {
		if got, ok := purl.IdentityOf(componentPurl(c)); ok && got == id {
			found = append(found, c)
		}
	}
	return found
}

// Lookup reports whether a component with the given identity exists
func (d *CycloneDX) Lookup(id models.Identity) bool {
	return len(d.find(id)) > 0
}

// Annotate adds a distribution reference to the archive of pkg and, for
// source packages, backfills supplier, description and website
func (d *CycloneDX) Annotate(pkg models.Package) bool {
	comps := d.find(pkg.Identity)
	if len(comps) == 0 {
		return false
	}

	repr := cdxRepr(pkg)
	ref := cdx.ExternalReference{
		URL:     pkg.Locator,
		Comment: referenceComment(pkg),
		Type:    cdx.ERTypeDistribution,
		Hashes:  cdxHashes(pkg.Checksums),
	}

	for _, c := range comps {
		if pkg.IsSource() {
			backfillComponent(c, repr)
		}
		if !hasReference(c.ExternalReferences, ref) {
			refs := appendReference(c.ExternalReferences, ref)
			c.ExternalReferences = &refs
		}
	}
	return true
}

// cdxRepr is the component synthesized from pkg, used to backfill fields
// the document lacks
func cdxRepr(pkg models.Package) *cdx.Component {
	c := &cdx.Component{
		Type:        cdx.ComponentTypeLibrary,
		Name:        pkg.Name,
		Version:     pkg.Version,
		PackageURL:  purl.FromPackage(pkg),
		Description: pkg.Description,
	}
	if pkg.Maintainer != "" {
		name, email := splitMaintainer(pkg.Maintainer)
		supplier := &cdx.OrganizationalEntity{Name: name}
		if email != "" {
			supplier.Contact = &[]cdx.OrganizationalContact{{Name: name, Email: email}}
		}
		c.Supplier = supplier
	}
	if pkg.Homepage != "" {
		c.ExternalReferences = &[]cdx.ExternalReference{{
			URL:  pkg.Homepage,
			Type: cdx.ERTypeWebsite,
		}}
	}
	return c
}

// backfillComponent copies fields of repr that c lacks. Present values
// are never replaced.
func backfillComponent(c, repr *cdx.Component) {
	if c.Supplier == nil {
		c.Supplier = repr.Supplier
	}
	if c.Description == "" {
		c.Description = repr.Description
	}
	if findReference(c.ExternalReferences, cdx.ERTypeWebsite) == nil {
		if website := findReference(repr.ExternalReferences, cdx.ERTypeWebsite); website != nil {
			refs := appendReference(c.ExternalReferences, *website)
			c.ExternalReferences = &refs
		}
	}
}

func findReference(refs *[]cdx.ExternalReference, typ cdx.ExternalReferenceType) *cdx.ExternalReference {
	if refs == nil {
		return nil
	}
	for i := range *refs {
		if (*refs)[i].Type == typ {
			return &(*refs)[i]
		}
	}
	return nil
}

func appendReference(refs *[]cdx.ExternalReference, ref cdx.ExternalReference) []cdx.ExternalReference {
	var out []cdx.ExternalReference
	if refs != nil {
		out = append(out, *refs...)
	}
	return append(out, ref)
}

// hasReference reports whether refs already holds ref with the same type,
// URL and hashes
func hasReference(refs *[]cdx.ExternalReference, ref cdx.ExternalReference) bool {
	if refs == nil {
		return false
	}
	for _, r := range *refs {
		if r.Type == ref.Type && r.URL == ref.URL && sameHashes(r.Hashes, ref.Hashes) {
			return true
		}
	}
	return false
}

func sameHashes(a, b *[]cdx.Hash) bool {
	set := func(h *[]cdx.Hash) map[cdx.Hash]bool {
		m := make(map[cdx.Hash]bool)
		if h != nil {
			for _, x := range *h {
				m[x] = true
			}
		}
		return m
	}
	sa, sb := set(a), set(b)
	if len(sa) != len(sb) {
		return false
	}
	for h := range sa {
		if !sb[h] {
			return false
		}
	}
	return true
}

// cdxHashes converts checksums to CycloneDX hashes in a stable order
func cdxHashes(sums models.Checksums) *[]cdx.Hash {
	if len(sums) == 0 {
		return nil
	}
	hashes := make([]cdx.Hash, 0, len(sums))
	for _, alg := range sums.Sorted() {
		hashes = append(hashes, cdx.Hash{Algorithm: cdxAlgorithms[alg], Value: sums[alg]})
	}
	return &hashes
}

// Validate checks header fields, bom-ref uniqueness and that every
// dependency edge points at a known element
func (d *CycloneDX) Validate() error {
	if d.format == cdxJSON && d.bom.BOMFormat != cdx.BOMFormat {
		return fmt.Errorf("bomFormat is %q, expected %q", d.bom.BOMFormat, cdx.BOMFormat)
	}
	if d.bom.SpecVersion == 0 {
		return fmt.Errorf("missing specVersion")
	}

	refs := make(map[string]bool)
	for _, c := range d.components() {
		if c.BOMRef == "" {
			continue
		}
		if refs[c.BOMRef] {
			return fmt.Errorf("duplicate bom-ref %q", c.BOMRef)
		}
		refs[c.BOMRef] = true
	}
	if d.bom.Services != nil {
		for _, s := range *d.bom.Services {
			if s.BOMRef != "" {
				refs[s.BOMRef] = true
			}
		}
	}

	if d.bom.Dependencies != nil {
		for _, dep := range *d.bom.Dependencies {
			if !refs[dep.Ref] {
				return fmt.Errorf("dependency ref %q does not resolve", dep.Ref)
			}
			if dep.Dependencies == nil {
				continue
			}
			for _, ref := range *dep.Dependencies {
				if !refs[ref] {
					return fmt.Errorf("dependency %q of %q does not resolve", ref, dep.Ref)
				}
			}
		}
	}
	return nil
}

// Encode writes the document in the serialisation it was read from
func (d *CycloneDX) Encode(w io.Writer) error {
	enc := cdx.NewBOMEncoder(w, d.format)
	enc.SetPretty(true)
	return enc.Encode(d.bom)
}
